package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Symbol represents a listed Taiwan stock in the local directory.
type Symbol struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	StockID   string          `json:"stock_id" gorm:"uniqueIndex;size:10;not null"`
	Name      string          `json:"name" gorm:"size:100"`
	Market    string          `json:"market" gorm:"size:10;index"` // TWSE or TPEX
	Industry  string          `json:"industry" gorm:"size:50"`
	MarketCap decimal.Decimal `json:"market_cap" gorm:"type:decimal(20,2)"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Symbol
func (Symbol) TableName() string {
	return "symbols"
}

// MigrateSymbolModels runs migrations for the symbol directory
func MigrateSymbolModels(db *gorm.DB) error {
	return db.AutoMigrate(&Symbol{})
}
