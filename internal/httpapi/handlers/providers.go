package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"github.com/suPer8Hu/roomstage/internal/common"
	"github.com/suPer8Hu/roomstage/internal/staging"
)

const maxWebhookBytes = 1 << 20

// ProviderWebhook receives completion callbacks. It is unauthenticated;
// providers that sign their payloads are verified inside the service.
func (h *Handler) ProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "unreadable body")
		return
	}

	err = h.StagingSvc.HandleProviderWebhook(c.Request.Context(), provider, c.Request.Header, body)
	switch {
	case err == nil:
		common.OK(c, gin.H{"received": true})
	case staging.IsIgnorable(err):
		// acknowledge so the provider stops redelivering
		h.Log.Warn().Err(err).Str("provider", provider).Msg("webhook ignored")
		common.OK(c, gin.H{"received": true, "ignored": true})
	case errors.Is(err, ai.ErrInvalidSignature):
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid signature")
	case errors.Is(err, ai.ErrUnknownProvider):
		common.Fail(c, http.StatusNotFound, 40402, "unknown provider")
	case errors.Is(err, ai.ErrCapability), errors.Is(err, staging.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 40003, err.Error())
	default:
		h.Log.Error().Err(err).Str("provider", provider).Msg("webhook handling failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) ProviderHealth(c *gin.Context) {
	common.OK(c, gin.H{"providers": h.StagingSvc.ProviderHealth(c.Request.Context())})
}

func (h *Handler) ClearHealthCache(c *gin.Context) {
	if err := h.StagingSvc.ClearHealthCache(c.Request.Context()); err != nil {
		h.Log.Error().Err(err).Msg("clear health cache failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to clear health cache")
		return
	}
	common.OK(c, gin.H{"cleared": true})
}
