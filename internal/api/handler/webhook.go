package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/internal/pkg/response"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

const (
	maxWebhookBody      = 64 << 10
	cardSignatureHeader = "Stripe-Signature"
)

// WebhookHandler acknowledges provider callbacks. A non-2xx reply makes the provider redeliver,
// so only transient failures get one.
type WebhookHandler struct {
	webhooks WebhookService
	logger   *zap.Logger
}

func NewWebhookHandler(webhooks WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// Card handles card provider events.
// POST /api/v1/webhooks/card
func (h *WebhookHandler) Card(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	err := h.webhooks.HandleCardWebhook(c.Request.Context(), body, c.GetHeader(cardSignatureHeader))
	h.reply(c, "card", err)
}

// Platform handles store server notifications.
// POST /api/v1/webhooks/platform
func (h *WebhookHandler) Platform(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	err := h.webhooks.HandlePlatformNotification(c.Request.Context(), body)
	h.reply(c, "platform", err)
}

func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusRequestEntityTooLarge, response.CodeParamError, "unreadable body")
		return nil, false
	}
	return body, true
}

func (h *WebhookHandler) reply(c *gin.Context, provider string, err error) {
	status := webhookStatus(err)
	if status == http.StatusOK {
		response.Success(c, nil)
		return
	}

	code, message := response.Classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("webhook failed, provider will redeliver", zap.String("provider", provider), zap.Error(err))
		message = ""
	} else {
		h.logger.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
	}
	if errors.Is(err, xerrors.ErrSharedSecretMismatch) {
		code = response.CodeAuthFailed
	}
	response.ErrorWithStatus(c, status, code, message)
}

// webhookStatus picks the HTTP status for a webhook outcome. Unknown subscriptions and unmapped
// products are acknowledged: redelivering them cannot succeed.
func webhookStatus(err error) int {
	switch {
	case err == nil,
		errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrUnmappedProduct):
		return http.StatusOK
	case errors.Is(err, xerrors.ErrSharedSecretMismatch):
		return http.StatusUnauthorized
	case xerrors.IsValidation(err):
		return http.StatusBadRequest
	case xerrors.IsProvider(err) && !xerrors.IsRetryable(err):
		return http.StatusBadRequest
	case xerrors.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
