package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/semlink/semlink/internal/http/handlers"
)

type RouterConfig struct {
	AssociationHandler *handlers.AssociationHandler
	AllowOrigins       []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Requested-With"},
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/associations/generate", cfg.AssociationHandler.Generate)
		api.GET("/documents/:id/associations", cfg.AssociationHandler.ListByDocument)
		api.GET("/sections/:id/associations/top", cfg.AssociationHandler.TopBySection)
		api.POST("/knowledge-bases/reload", cfg.AssociationHandler.ReloadPool)
	}

	return router
}
