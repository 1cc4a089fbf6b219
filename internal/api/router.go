package api

import (
	"ledgerindexer/internal/api/handlers"
	"ledgerindexer/internal/db/relational"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(database *relational.Database) *gin.Engine {
	router := gin.Default()

	// Inizializza gli handlers
	indexerHandler := handlers.NewIndexerHandler(database)
	discrepancyHandler := handlers.NewDiscrepancyHandler(database)
	failedWriteHandler := handlers.NewFailedWriteHandler(database)

	router.GET("/health", indexerHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gruppo di routes per la v1 dell'API
	v1 := router.Group("/api/v1")
	{
		indexer := v1.Group("/indexer")
		{
			indexer.GET("/state", indexerHandler.State)
			indexer.GET("/runs", indexerHandler.Runs)
		}

		v1.GET("/discrepancies", discrepancyHandler.List)

		failed := v1.Group("/failed-writes")
		{
			failed.GET("", failedWriteHandler.List)
			failed.POST("/:id/resolve", failedWriteHandler.Resolve)
		}
	}

	return router
}
