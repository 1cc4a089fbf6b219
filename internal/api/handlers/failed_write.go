package handlers

import (
	"context"
	"net/http"

	"ledgerindexer/internal/models"

	"github.com/gin-gonic/gin"
)

const defaultLimit = 100

type FailedWriteStore interface {
	ListFailedWrites(ctx context.Context, status *models.ResolutionStatus, limit int) ([]models.FailedMirrorWrite, error)
	MarkFailedWrite(ctx context.Context, id uint, status models.ResolutionStatus) error
}

type FailedWriteHandler struct {
	db FailedWriteStore
}

func NewFailedWriteHandler(database FailedWriteStore) *FailedWriteHandler {
	return &FailedWriteHandler{
		db: database,
	}
}

type failedWriteQuery struct {
	// Status "open" selects rows nobody has handled yet.
	Status string `form:"status" binding:"omitempty,oneof=open retried manual skipped"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (h *FailedWriteHandler) List(c *gin.Context) {
	var query failedWriteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultLimit
	}

	var status *models.ResolutionStatus
	switch query.Status {
	case "":
	case "open":
		open := models.ResolutionOpen
		status = &open
	default:
		s := models.ResolutionStatus(query.Status)
		status = &s
	}

	rows, err := h.db.ListFailedWrites(c.Request.Context(), status, query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rows)
}

// Resolve closes a dead letter by hand: manual when the mirror was fixed
// outside the indexer, skipped when the document is not wanted.
func (h *FailedWriteHandler) Resolve(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var input struct {
		Status string `json:"status" binding:"required,oneof=manual skipped"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.MarkFailedWrite(c.Request.Context(), uri.ID, models.ResolutionStatus(input.Status)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": uri.ID, "resolution_status": input.Status})
}
