// Package symbols maintains the local stock directory.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go_twstock_backend/models"
	"go_twstock_backend/services/finlab"
)

// Service stores listed symbols in a local sqlite database and keeps
// an in-memory name index for the ranking views.
type Service struct {
	db     *gorm.DB
	finlab *finlab.Client

	mu    sync.RWMutex
	names map[string]string
}

// NewService opens (or creates) the symbol database and loads the
// name index.
func NewService(dbPath string, fl *finlab.Client) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol database: %w", err)
	}

	if err := models.MigrateSymbolModels(db); err != nil {
		return nil, fmt.Errorf("failed to migrate symbol models: %w", err)
	}

	s := &Service{db: db, finlab: fl, names: map[string]string{}}
	if err := s.reloadNames(); err != nil {
		log.Printf("Warning: could not load symbol names: %v", err)
	}
	return s, nil
}

// reloadNames rebuilds the in-memory name index from the database.
func (s *Service) reloadNames() error {
	var symbols []models.Symbol
	if err := s.db.Find(&symbols).Error; err != nil {
		return err
	}
	names := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		names[sym.StockID] = sym.Name
	}
	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	return nil
}

// Sync pulls the provider's company directory and upserts every
// symbol.
func (s *Service) Sync(ctx context.Context) (int, error) {
	infos, err := s.finlab.FetchSymbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("symbol sync failed: %w", err)
	}

	updated := 0
	for _, info := range infos {
		symbol := models.Symbol{
			StockID:   info.StockID,
			Name:      info.Name,
			Market:    info.Market,
			Industry:  info.Industry,
			MarketCap: info.MarketCap,
		}

		var existing models.Symbol
		err := s.db.Where("stock_id = ?", info.StockID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := s.db.Create(&symbol).Error; err != nil {
				return updated, fmt.Errorf("failed to create symbol %s: %w", info.StockID, err)
			}
			updated++
		case err != nil:
			return updated, err
		default:
			err := s.db.Model(&existing).Updates(map[string]interface{}{
				"name":       info.Name,
				"market":     info.Market,
				"industry":   info.Industry,
				"market_cap": info.MarketCap,
			}).Error
			if err != nil {
				return updated, fmt.Errorf("failed to update symbol %s: %w", info.StockID, err)
			}
			updated++
		}
	}

	if err := s.reloadNames(); err != nil {
		log.Printf("Warning: could not reload symbol names: %v", err)
	}
	log.Printf("Symbol sync completed: %d symbols", updated)
	return updated, nil
}

// Name returns the display name for a stock id, or "" when unknown.
func (s *Service) Name(stockID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[stockID]
}

// List returns symbols, optionally filtered by market, with simple
// pagination.
func (s *Service) List(market string, page, limit int) ([]models.Symbol, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := s.db.Model(&models.Symbol{})
	if market != "" {
		query = query.Where("market = ?", market)
	}

	var total int64
	query.Count(&total)

	var symbols []models.Symbol
	if err := query.Order("stock_id").Limit(limit).Offset((page - 1) * limit).Find(&symbols).Error; err != nil {
		return nil, 0, err
	}
	return symbols, total, nil
}

// Search finds symbols whose id or name contains the query string.
func (s *Service) Search(q string, limit int) ([]models.Symbol, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var symbols []models.Symbol
	pattern := "%" + q + "%"
	err := s.db.Where("stock_id LIKE ? OR name LIKE ?", pattern, pattern).
		Order("stock_id").Limit(limit).Find(&symbols).Error
	if err != nil {
		return nil, err
	}
	return symbols, nil
}
