package handlers

import (
	"context"
	"net/http"

	"ledgerindexer/internal/models"

	"github.com/gin-gonic/gin"
)

type DiscrepancyStore interface {
	ListDiscrepancies(ctx context.Context, resolved *bool, limit int) ([]models.OwnershipDiscrepancy, error)
}

type DiscrepancyHandler struct {
	db DiscrepancyStore
}

func NewDiscrepancyHandler(database DiscrepancyStore) *DiscrepancyHandler {
	return &DiscrepancyHandler{
		db: database,
	}
}

type discrepancyQuery struct {
	Resolved *bool `form:"resolved"`
	Limit    int   `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (h *DiscrepancyHandler) List(c *gin.Context) {
	var query discrepancyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultLimit
	}

	rows, err := h.db.ListDiscrepancies(c.Request.Context(), query.Resolved, query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rows)
}
