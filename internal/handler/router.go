package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker func(c *gin.Context) error

// RouterConfig wires the admin API routes
type RouterConfig struct {
	SagaHandler   *SagaHandler
	RecordHandler *RecordHandler
	// HealthChecks run on GET /ready; any failure makes the service
	// report not ready.
	HealthChecks map[string]HealthChecker
	Version      string
}

// NewRouter builds the gin engine for the admin API
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		failures := gin.H{}
		for name, check := range cfg.HealthChecks {
			if err := check(c); err != nil {
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failures": failures})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.Version,
				"service": "saga-api",
			})
		})

		if cfg.SagaHandler != nil {
			sagas := v1.Group("/sagas")
			{
				sagas.GET("", cfg.SagaHandler.GetSagaByShipment)
				sagas.GET("/active", cfg.SagaHandler.ListActiveSagas)
				sagas.GET("/:saga_id", cfg.SagaHandler.GetSaga)
			}
		}

		if cfg.RecordHandler != nil {
			records := v1.Group("/records")
			{
				records.GET("/pending", cfg.RecordHandler.ListPendingRecords)
				records.GET("/:tx_hash", cfg.RecordHandler.GetRecordByTxHash)
			}
		}
	}

	return router
}
