package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bubled33/supply-chain-tracker/internal/dto"
	"github.com/bubled33/supply-chain-tracker/internal/orchestrator"
	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
)

// SagaHandler serves read-only saga lookups for operators
type SagaHandler struct {
	sagaService *orchestrator.SagaService
}

// NewSagaHandler creates a new saga handler
func NewSagaHandler(sagaService *orchestrator.SagaService) *SagaHandler {
	return &SagaHandler{sagaService: sagaService}
}

// GetSaga handles GET /api/v1/sagas/:saga_id
func (h *SagaHandler) GetSaga(c *gin.Context) {
	sagaID := c.Param("saga_id")
	if sagaID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "saga_id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	saga, err := h.sagaService.Get(c.Request.Context(), sagaID)
	if err != nil {
		if errors.Is(err, sagastore.ErrSagaNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Error: "saga not found",
				Code:  "NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to load saga",
			Code:    "INTERNAL_ERROR",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromSaga(saga))
}

// GetSagaByShipment handles GET /api/v1/sagas?shipment_id=...
// It returns the active saga for the shipment, if any.
func (h *SagaHandler) GetSagaByShipment(c *gin.Context) {
	shipmentID := c.Query("shipment_id")
	if shipmentID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "shipment_id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	saga, err := h.sagaService.GetActiveByShipment(c.Request.Context(), shipmentID)
	if err != nil {
		if errors.Is(err, sagastore.ErrSagaNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Error: "no active saga for shipment",
				Code:  "NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to load saga",
			Code:    "INTERNAL_ERROR",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromSaga(saga))
}

// ListActiveSagas handles GET /api/v1/sagas/active?limit=...
func (h *SagaHandler) ListActiveSagas(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = parsed
	}

	sagas, err := h.sagaService.ListActive(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to list active sagas",
			Code:    "INTERNAL_ERROR",
			Message: err.Error(),
		})
		return
	}

	out := make([]dto.SagaResponse, 0, len(sagas))
	for _, saga := range sagas {
		out = append(out, dto.FromSaga(saga))
	}

	c.JSON(http.StatusOK, dto.SagaListResponse{Sagas: out, Count: len(out)})
}
