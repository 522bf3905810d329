package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bubled33/supply-chain-tracker/internal/blockchain"
	"github.com/bubled33/supply-chain-tracker/internal/dto"
)

// RecordHandler serves read-only blockchain record lookups
type RecordHandler struct {
	store blockchain.Store
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(store blockchain.Store) *RecordHandler {
	return &RecordHandler{store: store}
}

// GetRecordByTxHash handles GET /api/v1/records/:tx_hash
func (h *RecordHandler) GetRecordByTxHash(c *gin.Context) {
	txHash := c.Param("tx_hash")
	if txHash == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "tx_hash required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	record, err := h.store.GetByTxHash(c.Request.Context(), txHash)
	if err != nil {
		if errors.Is(err, blockchain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Error: "record not found",
				Code:  "NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to load record",
			Code:    "INTERNAL_ERROR",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromRecord(record))
}

// ListPendingRecords handles GET /api/v1/records/pending
func (h *RecordHandler) ListPendingRecords(c *gin.Context) {
	records, err := h.store.GetPending(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to list pending records",
			Code:    "INTERNAL_ERROR",
			Message: err.Error(),
		})
		return
	}

	out := make([]dto.RecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, dto.FromRecord(record))
	}

	c.JSON(http.StatusOK, gin.H{"records": out, "count": len(out)})
}
