package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/internal/api/middleware"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/model/dto"
	"github.com/qs3c/experience_billing/internal/pkg/response"
	"github.com/qs3c/experience_billing/internal/service"
)

type SubscriptionHandler struct {
	subs   SubscriptionService
	logger *zap.Logger
}

func NewSubscriptionHandler(subs SubscriptionService, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, logger: logger}
}

// Packages lists the public plans.
// GET /api/v1/packages
func (h *SubscriptionHandler) Packages(c *gin.Context) {
	pkgs, err := h.subs.Packages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]*dto.PackageItem, len(pkgs))
	for i := range pkgs {
		items[i] = toPackageItem(&pkgs[i])
	}
	response.Success(c, gin.H{"packages": items})
}

// Get returns the user's current subscription.
// GET /api/v1/subscription
func (h *SubscriptionHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	cur, err := h.subs.Current(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toSubscriptionInfo(cur.Subscription, cur.Package, cur.NextPlan))
}

// Assign starts a subscription.
// POST /api/v1/subscription
func (h *SubscriptionHandler) Assign(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.AssignSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	sub, err := h.subs.Assign(c.Request.Context(), userID, service.AssignCommand{
		PackageID:    req.PackageID,
		Provider:     model.ProviderType(req.Provider),
		PaymentNonce: req.PaymentNonce,
		Receipt:      req.Receipt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toSubscriptionInfo(sub, nil, nil))
}

// ChangePlan upgrades or downgrades the live subscription.
// PUT /api/v1/subscription/plan
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	sub, err := h.subs.ChangePlan(c.Request.Context(), userID, service.ChangeCommand{
		PackageID:    req.PackageID,
		PaymentNonce: req.PaymentNonce,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toSubscriptionInfo(sub, nil, nil))
}

// Cancel stops renewal of the current subscription.
// DELETE /api/v1/subscription
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	sub, err := h.subs.Cancel(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toSubscriptionInfo(sub, nil, nil))
}

// RetryPayment asks the card provider to charge an overdue invoice again.
// POST /api/v1/subscription/retry
func (h *SubscriptionHandler) RetryPayment(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if err := h.subs.RetryPayment(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *SubscriptionHandler) fail(c *gin.Context, err error) {
	code, _ := response.Classify(err)
	if code == response.CodeServerError {
		h.logger.Error("subscription request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.FromError(c, err)
}
