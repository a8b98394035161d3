package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/internal/api/middleware"
	"github.com/qs3c/experience_billing/internal/model/dto"
	"github.com/qs3c/experience_billing/internal/pkg/response"
	"github.com/qs3c/experience_billing/internal/service"
)

type BalanceHandler struct {
	balances BalanceService
	logger   *zap.Logger
}

func NewBalanceHandler(balances BalanceService, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{balances: balances, logger: logger}
}

// Get returns the balance and the budget left in the current period.
// GET /api/v1/balance
func (h *BalanceHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	view, err := h.balances.Get(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toBalanceInfo(view.Balance, view.Budget))
}

// Refill credits a paid top-up.
// POST /api/v1/balance/refill
func (h *BalanceHandler) Refill(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	balance, err := h.balances.Refill(c.Request.Context(), userID, req.Amount, req.ProviderTransactionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toBalanceInfo(balance, nil))
}

// UpdateLimits changes the monthly spending controls.
// PUT /api/v1/balance/limits
func (h *BalanceHandler) UpdateLimits(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.UpdateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	balance, err := h.balances.UpdateLimits(c.Request.Context(), userID, service.LimitsCommand{
		MonthlyLimit:       req.MonthlyLimit,
		ChargeLimitEnabled: req.ChargeLimitEnabled,
		WarningEnabled:     req.WarningEnabled,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, toBalanceInfo(balance, nil))
}

func (h *BalanceHandler) fail(c *gin.Context, err error) {
	code, _ := response.Classify(err)
	if code == response.CodeServerError {
		h.logger.Error("balance request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.FromError(c, err)
}
