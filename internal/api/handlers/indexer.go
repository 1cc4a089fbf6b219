package handlers

import (
	"context"
	"net/http"
	"time"

	"ledgerindexer/internal/models"

	"github.com/gin-gonic/gin"
)

type IndexerStore interface {
	Ping(ctx context.Context) error
	GetIndexerState(ctx context.Context) (*models.IndexerState, error)
	ListRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error)
}

type IndexerHandler struct {
	db IndexerStore
}

func NewIndexerHandler(database IndexerStore) *IndexerHandler {
	return &IndexerHandler{
		db: database,
	}
}

func (h *IndexerHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *IndexerHandler) State(c *gin.Context) {
	state, err := h.db.GetIndexerState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No checkpoint recorded"})
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *IndexerHandler) Runs(c *gin.Context) {
	var query struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = 20
	}

	runs, err := h.db.ListRuns(c.Request.Context(), query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, runs)
}
