package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go_twstock_backend/services/marketdata"
)

// DatasetController serves raw dataset tables.
type DatasetController struct {
	manager *marketdata.Manager
}

// NewDatasetController creates a new dataset controller
func NewDatasetController(manager *marketdata.Manager) *DatasetController {
	return &DatasetController{manager: manager}
}

// ListDatasets returns every registered dataset with its cache state.
// GET /api/v1/datasets
func (dc *DatasetController) ListDatasets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": dc.manager.Status()})
}

// GetDataset returns one dataset table, optionally only its last rows.
// GET /api/v1/datasets/:name?tail=120
func (dc *DatasetController) GetDataset(c *gin.Context) {
	name := c.Param("name")
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "0"))

	table, err := dc.manager.Get(c.Request.Context(), name)
	if err != nil {
		respondDataError(c, err)
		return
	}

	if tail > 0 {
		table = table.Tail(tail)
	}
	c.JSON(http.StatusOK, gin.H{"data": table})
}

// respondDataError maps manager errors to HTTP statuses. A dataset
// that has never been cached and cannot be fetched is reported as
// unavailable, not as a server bug.
func respondDataError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, marketdata.ErrUnknownDataset):
		c.JSON(http.StatusNotFound, gin.H{"error": "Dataset not found"})
	case errors.Is(err, marketdata.ErrDataUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Data unavailable", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dataset"})
	}
}
