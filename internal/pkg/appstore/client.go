// Package appstore talks to the platform store: legacy verifyReceipt validation and
// server-to-server notifications.
package appstore

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	iap "github.com/awa/go-iap/appstore"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

const (
	providerName = "platform"

	statusOK          = 0
	statusServerBusy  = 21005
	statusInternalMin = 21100
	statusInternalMax = 21199
)

// Adapter validates receipts against the store.
type Adapter interface {
	ValidateReceipt(ctx context.Context, receipt string) (*ReceiptResult, error)
}

// Client validates receipts through go-iap, which retries sandbox receipts against the
// sandbox endpoint.
type Client struct {
	iap    *iap.Client
	secret string
}

func NewClient(cfg config.PlatformConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := iap.NewWithClient(&http.Client{Timeout: timeout})
	if cfg.VerifyURL != "" {
		client.ProductionURL = cfg.VerifyURL
	}
	if cfg.SandboxVerifyURL != "" {
		client.SandboxURL = cfg.SandboxVerifyURL
	}
	return &Client{iap: client, secret: cfg.SharedSecret}
}

// ValidateReceipt verifies the receipt and returns its purchases. A non-zero store status
// is a ProviderError; busy and internal statuses are retryable.
func (c *Client) ValidateReceipt(ctx context.Context, receipt string) (*ReceiptResult, error) {
	if receipt == "" {
		return nil, xerrors.Validation("receipt", "receipt is required")
	}

	var result ReceiptResult
	err := c.iap.Verify(ctx, iap.IAPRequest{
		ReceiptData:            receipt,
		Password:               c.secret,
		ExcludeOldTransactions: true,
	}, &result)
	if err != nil {
		return nil, &xerrors.ProviderError{Provider: providerName, Op: "verify_receipt", Message: "store unreachable", Retryable: true, Err: err}
	}

	if result.Status != statusOK {
		return &result, &xerrors.ProviderError{
			Provider:  providerName,
			Op:        "verify_receipt",
			Message:   fmt.Sprintf("receipt rejected with status %d", result.Status),
			Retryable: result.Status == statusServerBusy || (result.Status >= statusInternalMin && result.Status <= statusInternalMax),
		}
	}
	result.IsValid = true
	return &result, nil
}

// ParseNotification decodes a server notification and checks its password.
func ParseNotification(body []byte, password string) (*ServerNotification, error) {
	var n ServerNotification
	if err := decodeJSON(body, &n); err != nil {
		return nil, xerrors.Validation("body", "malformed notification: %v", err)
	}
	if password == "" || subtle.ConstantTimeCompare([]byte(n.Password), []byte(password)) != 1 {
		return nil, xerrors.ErrSharedSecretMismatch
	}
	if n.NotificationType == "" {
		return nil, xerrors.Validation("notification_type", "notification type is required")
	}
	return &n, nil
}
