package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/experience_billing/internal/api/middleware"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/response"
	"github.com/qs3c/experience_billing/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func serveJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	jsonBytes, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewBuffer(jsonBytes))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type fakeSubscriptions struct {
	packages []model.Package
	current  *service.CurrentSubscription
	sub      *model.Subscription
	err      error

	assigned []service.AssignCommand
	changed  []service.ChangeCommand
	users    []int64
}

func (f *fakeSubscriptions) Packages(context.Context) ([]model.Package, error) {
	return f.packages, f.err
}

func (f *fakeSubscriptions) Current(_ context.Context, userID int64) (*service.CurrentSubscription, error) {
	f.users = append(f.users, userID)
	return f.current, f.err
}

func (f *fakeSubscriptions) Assign(_ context.Context, userID int64, cmd service.AssignCommand) (*model.Subscription, error) {
	f.users = append(f.users, userID)
	f.assigned = append(f.assigned, cmd)
	return f.sub, f.err
}

func (f *fakeSubscriptions) ChangePlan(_ context.Context, userID int64, cmd service.ChangeCommand) (*model.Subscription, error) {
	f.users = append(f.users, userID)
	f.changed = append(f.changed, cmd)
	return f.sub, f.err
}

func (f *fakeSubscriptions) Cancel(_ context.Context, userID int64) (*model.Subscription, error) {
	f.users = append(f.users, userID)
	return f.sub, f.err
}

func (f *fakeSubscriptions) RetryPayment(_ context.Context, userID int64) error {
	f.users = append(f.users, userID)
	return f.err
}

type fakeWebhooks struct {
	err        error
	payloads   [][]byte
	signatures []string
}

func (f *fakeWebhooks) HandleCardWebhook(_ context.Context, payload []byte, signature string) error {
	f.payloads = append(f.payloads, payload)
	f.signatures = append(f.signatures, signature)
	return f.err
}

func (f *fakeWebhooks) HandlePlatformNotification(_ context.Context, body []byte) error {
	f.payloads = append(f.payloads, body)
	return f.err
}

type fakeBalances struct {
	view    *service.BalanceView
	balance *model.Balance
	err     error

	refills []int64
	limits  []service.LimitsCommand
}

func (f *fakeBalances) Get(context.Context, int64) (*service.BalanceView, error) {
	return f.view, f.err
}

func (f *fakeBalances) Refill(_ context.Context, _ int64, amount int64, _ string) (*model.Balance, error) {
	f.refills = append(f.refills, amount)
	return f.balance, f.err
}

func (f *fakeBalances) UpdateLimits(_ context.Context, _ int64, cmd service.LimitsCommand) (*model.Balance, error) {
	f.limits = append(f.limits, cmd)
	return f.balance, f.err
}

type fakeUsage struct {
	report *service.UsageReport
	err    error
	totals []int64
}

func (f *fakeUsage) ReportRecognitions(_ context.Context, experienceID int64, total int64) (*service.UsageReport, error) {
	f.totals = append(f.totals, total)
	if f.report != nil {
		f.report.ExperienceID = experienceID
	}
	return f.report, f.err
}

func testSubscription() *model.Subscription {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &model.Subscription{
		ID:              11,
		UserID:          7,
		PackageID:       2,
		Status:          model.SubscriptionActive,
		ProviderType:    model.ProviderCard,
		PeriodStartedAt: now,
		ExpiresAt:       now.AddDate(0, 0, 30),
		IsAutorenew:     true,
	}
}
