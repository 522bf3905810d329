package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubled33/supply-chain-tracker/internal/blockchain"
	"github.com/bubled33/supply-chain-tracker/internal/dto"
	"github.com/bubled33/supply-chain-tracker/internal/orchestrator"
	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router      *gin.Engine
	store       *sagastore.MemoryStore
	recordStore *blockchain.MemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := sagastore.NewMemoryStore()
	recordStore := blockchain.NewMemoryStore()
	service := orchestrator.NewSagaService(store)

	router := NewRouter(&RouterConfig{
		SagaHandler:   NewSagaHandler(service),
		RecordHandler: NewRecordHandler(recordStore),
		Version:       "test",
	})

	return &apiFixture{router: router, store: store, recordStore: recordStore}
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeSaga(t *testing.T, rec *httptest.ResponseRecorder) dto.SagaResponse {
	t.Helper()
	var out dto.SagaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetSaga(t *testing.T) {
	f := newAPIFixture(t)

	saga := sagastore.NewInstance(sagastore.SagaTypeShipmentFulfillment, "ship-1")
	saga.WarehouseID = "wh-1"
	require.NoError(t, f.store.Save(context.Background(), saga))

	rec := f.get(t, "/api/v1/sagas/"+saga.SagaID)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeSaga(t, rec)
	assert.Equal(t, saga.SagaID, got.SagaID)
	assert.Equal(t, "ship-1", got.ShipmentID)
	assert.Equal(t, "wh-1", got.WarehouseID)
	assert.Equal(t, string(sagastore.StatusStarted), got.Status)
}

func TestGetSagaNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/v1/sagas/no-such-saga")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Code)
}

func TestGetSagaExposesFailureDetails(t *testing.T) {
	f := newAPIFixture(t)

	saga := sagastore.NewInstance(sagastore.SagaTypeShipmentFulfillment, "ship-2")
	saga.MarkFailed("inventory.reserve", "inventory_insufficient")
	require.NoError(t, f.store.Save(context.Background(), saga))

	got := decodeSaga(t, f.get(t, "/api/v1/sagas/"+saga.SagaID))
	assert.Equal(t, string(sagastore.StatusFailed), got.Status)
	assert.Equal(t, "inventory.reserve", got.FailedStep)
	assert.Equal(t, "inventory_insufficient", got.ErrorMessage)
}

func TestGetSagaByShipment(t *testing.T) {
	f := newAPIFixture(t)

	saga := sagastore.NewInstance(sagastore.SagaTypeShipmentFulfillment, "ship-3")
	require.NoError(t, f.store.Save(context.Background(), saga))

	rec := f.get(t, "/api/v1/sagas?shipment_id=ship-3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saga.SagaID, decodeSaga(t, rec).SagaID)

	rec = f.get(t, "/api/v1/sagas?shipment_id=unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/v1/sagas")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListActiveSagas(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	for _, shipment := range []string{"ship-a", "ship-b"} {
		require.NoError(t, f.store.Save(ctx, sagastore.NewInstance(sagastore.SagaTypeShipmentFulfillment, shipment)))
	}
	done := sagastore.NewInstance(sagastore.SagaTypeShipmentFulfillment, "ship-c")
	done.MarkCompleted()
	require.NoError(t, f.store.Save(ctx, done))

	rec := f.get(t, "/api/v1/sagas/active")
	require.Equal(t, http.StatusOK, rec.Code)

	var list dto.SagaListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	rec = f.get(t, "/api/v1/sagas/active?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = f.get(t, "/api/v1/sagas/active?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRecordByTxHash(t *testing.T) {
	f := newAPIFixture(t)

	record := blockchain.NewRecord("ship-1", "0xabc", map[string]interface{}{"event": "shipment.created"})
	require.NoError(t, f.recordStore.Save(context.Background(), record))

	rec := f.get(t, "/api/v1/records/0xabc")
	require.Equal(t, http.StatusOK, rec.Code)

	var got dto.RecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, record.RecordID, got.RecordID)
	assert.Equal(t, string(blockchain.StatusPending), got.Status)

	rec = f.get(t, "/api/v1/records/0xmissing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/ready").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/status").Code)
}
