package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

// Error codes
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodeResourceNotFound = 1003
	CodeThrottled        = 1006
	CodeProviderError    = 1007
	CodeConflict         = 1008
	CodeServerError      = 5000
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "invalid parameters",
	CodeAuthFailed:       "authentication failed",
	CodeResourceNotFound: "resource not found",
	CodeThrottled:        "too many plan changes",
	CodeProviderError:    "payment provider error",
	CodeConflict:         "concurrent update, retry",
	CodeServerError:      "internal server error",
}

// Response is the envelope of every API reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error replies HTTP 200 with a business error code.
func Error(c *gin.Context, code int, message string) {
	ErrorWithStatus(c, http.StatusOK, code, message)
}

// ErrorWithStatus is Error with an explicit HTTP status. Webhook senders only look at the status.
func ErrorWithStatus(c *gin.Context, status, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// FromError maps a service error to its code. Unknown errors are reported without their text.
func FromError(c *gin.Context, err error) {
	code, message := Classify(err)
	Error(c, code, message)
}

// Classify returns the code and client-safe message for err.
func Classify(err error) (int, string) {
	var (
		validation *xerrors.ValidationError
		throttled  *xerrors.ThrottledError
		provider   *xerrors.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		return CodeParamError, validation.Error()
	case errors.As(err, &throttled):
		return CodeThrottled, throttled.Error()
	case errors.As(err, &provider):
		return CodeProviderError, provider.Error()
	case errors.Is(err, xerrors.ErrNotFound):
		return CodeResourceNotFound, ""
	case errors.Is(err, xerrors.ErrVersionConflict):
		return CodeConflict, ""
	default:
		return CodeServerError, ""
	}
}
