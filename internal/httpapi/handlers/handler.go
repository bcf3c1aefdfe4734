package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/common"
	"github.com/suPer8Hu/roomstage/internal/config"
	"github.com/suPer8Hu/roomstage/internal/httpapi/middleware"
	"github.com/suPer8Hu/roomstage/internal/staging"
)

type Handler struct {
	Cfg        config.Config
	StagingSvc *staging.Service
	Log        zerolog.Logger
}

func NewHandler(cfg config.Config, svc *staging.Service, log zerolog.Logger) *Handler {
	return &Handler{Cfg: cfg, StagingSvc: svc, Log: log.With().Str("component", "http").Logger()}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
