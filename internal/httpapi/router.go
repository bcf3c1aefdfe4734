package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/common"
	"github.com/suPer8Hu/roomstage/internal/config"
	"github.com/suPer8Hu/roomstage/internal/httpapi/handlers"
	"github.com/suPer8Hu/roomstage/internal/httpapi/middleware"
	"github.com/suPer8Hu/roomstage/internal/staging"
)

func NewRouter(svc *staging.Service, cfg config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(cfg, svc, log)

	r.GET("/ping", h.Ping)

	// staged images written by the file backend
	if cfg.StorageBackend == "file" {
		r.Static("/static", cfg.StorageFilePath)
	}

	// provider callbacks (no JWT; signatures checked per provider)
	r.POST("/webhooks/:provider", h.ProviderWebhook)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	// staging
	authGroup.POST("/staging", h.SubmitStaging)
	authGroup.GET("/staging/jobs/:job_id", h.GetStagingJob)
	authGroup.POST("/staging/jobs/:job_id/remix", h.RemixStagingJob)
	authGroup.POST("/staging/jobs/:job_id/primary", h.SetPrimaryVersion)
	authGroup.GET("/staging/jobs/:job_id/versions", h.ListVersions)

	// providers
	authGroup.GET("/providers/health", h.ProviderHealth)
	authGroup.DELETE("/providers/health/cache", h.ClearHealthCache)
	return r
}
