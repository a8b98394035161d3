package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/internal/model/dto"
	"github.com/qs3c/experience_billing/internal/pkg/response"
)

// RecognitionHandler receives recognition counts from the matching-provider bridge.
type RecognitionHandler struct {
	usage  UsageService
	logger *zap.Logger
}

func NewRecognitionHandler(usage UsageService, logger *zap.Logger) *RecognitionHandler {
	return &RecognitionHandler{usage: usage, logger: logger}
}

// Report applies a cumulative recognition count.
// POST /api/v1/experiences/:id/recognitions
func (h *RecognitionHandler) Report(c *gin.Context) {
	experienceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || experienceID <= 0 {
		response.ParamError(c, "invalid experience id")
		return
	}

	var req dto.RecognitionReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	report, err := h.usage.ReportRecognitions(c.Request.Context(), experienceID, *req.Total)
	if err != nil {
		code, _ := response.Classify(err)
		if code == response.CodeServerError {
			h.logger.Error("recognition report failed", zap.Int64("experience_id", experienceID), zap.Error(err))
		}
		response.FromError(c, err)
		return
	}

	out := report.Outcome
	response.Success(c, &dto.RecognitionReportResponse{
		ExperienceID: report.ExperienceID,
		Duplicate:    out.Duplicate,
		Delta:        out.Delta,
		Billed:       out.Billed,
		Amount:       out.Amount,
		Currency:     report.Currency,
		FreeLeft:     out.FreeLeftAfter,
		PaidLeft:     out.PaidLeftAfter,
		DisabledAll:  out.DisableAll,
	})
}
