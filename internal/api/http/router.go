package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(collab *CollabController, ops *OpsController, origins []string, metricsHandler http.Handler) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowOrigins = origins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api")

	if collab != nil {
		api.GET("/collab/ws", collab.Connect)
	}

	if ops != nil {
		opsGroup := api.Group("/ops")
		opsGroup.GET("/resilience", ops.Resilience)
		opsGroup.GET("/events", ops.Events)
		opsGroup.GET("/events/subscribers", ops.Subscribers)
		opsGroup.GET("/audit", ops.Audit)
		opsGroup.GET("/analytics", ops.Analytics)
		opsGroup.GET("/performance", ops.Performance)
		opsGroup.GET("/connections", ops.Connections)
	}

	return router
}
