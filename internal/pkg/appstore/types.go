package appstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationInitialBuy             NotificationType = "INITIAL_BUY"
	NotificationCancel                 NotificationType = "CANCEL"
	NotificationRenewal                NotificationType = "RENEWAL"
	NotificationInteractiveRenewal     NotificationType = "INTERACTIVE_RENEWAL"
	NotificationDidChangeRenewalPref   NotificationType = "DID_CHANGE_RENEWAL_PREF"
	NotificationDidChangeRenewalStatus NotificationType = "DID_CHANGE_RENEWAL_STATUS"
)

// ExpirationIntent explains why an auto-renewable subscription lapsed.
type ExpirationIntent string

const (
	IntentNone               ExpirationIntent = ""
	IntentCancelled          ExpirationIntent = "1"
	IntentBillingError       ExpirationIntent = "2"
	IntentPriceIncrease      ExpirationIntent = "3"
	IntentProductUnavailable ExpirationIntent = "4"
	IntentUnknown            ExpirationIntent = "5"
)

// EpochMillis decodes epoch-millisecond timestamps sent either as strings or numbers.
type EpochMillis struct {
	time.Time
}

func (e *EpochMillis) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		e.Time = time.Time{}
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("appstore: invalid epoch millis %q: %w", raw, err)
	}
	e.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (e EpochMillis) MarshalJSON() ([]byte, error) {
	if e.Time.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(strconv.FormatInt(e.Time.UnixMilli(), 10))), nil
}

// BoolString decodes the store's boolean-ish fields: true, "true", "1", 1 and their negatives.
type BoolString bool

func (b *BoolString) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch raw {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("appstore: invalid boolean %q", raw)
	}
	return nil
}

// PurchaseItem is one entry of latest_receipt_info.
type PurchaseItem struct {
	OriginalTransactionID string      `json:"original_transaction_id"`
	TransactionID         string      `json:"transaction_id"`
	WebOrderLineItemID    string      `json:"web_order_line_item_id"`
	ProductID             string      `json:"product_id"`
	ExpiresDate           EpochMillis `json:"expires_date_ms"`
	// legacy receipt fields, used when pending_renewal_info is absent
	ExpirationIntent       ExpirationIntent `json:"expiration_intent,omitempty"`
	IsInBillingRetryPeriod BoolString       `json:"is_in_billing_retry_period,omitempty"`
}

type PendingRenewalInfo struct {
	OriginalTransactionID  string           `json:"original_transaction_id"`
	AutoRenewProductID     string           `json:"auto_renew_product_id"`
	ExpirationIntent       ExpirationIntent `json:"expiration_intent"`
	IsInBillingRetryPeriod BoolString       `json:"is_in_billing_retry_period"`
	AutoRenewStatus        BoolString       `json:"auto_renew_status"`
}

// ReceiptResult is the decoded verifyReceipt response.
type ReceiptResult struct {
	Status             int                  `json:"status"`
	IsValid            bool                 `json:"-"`
	LatestReceipt      string               `json:"latest_receipt"`
	LatestReceiptInfo  []PurchaseItem       `json:"latest_receipt_info"`
	PendingRenewalInfo []PendingRenewalInfo `json:"pending_renewal_info"`
}

// Latest returns the purchase with the furthest expiry for the original transaction,
// or across all purchases when originalTransactionID is empty.
func (r *ReceiptResult) Latest(originalTransactionID string) *PurchaseItem {
	items := make([]PurchaseItem, 0, len(r.LatestReceiptInfo))
	for _, item := range r.LatestReceiptInfo {
		if originalTransactionID == "" || item.OriginalTransactionID == originalTransactionID {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ExpiresDate.After(items[j].ExpiresDate.Time)
	})
	return &items[0]
}

// RenewalState derives retry/intent/auto-renew from pending_renewal_info, falling back to
// the raw purchase fields when the store omitted it.
func (r *ReceiptResult) RenewalState(originalTransactionID string) (intent ExpirationIntent, inRetry bool, autoRenew *bool) {
	for _, info := range r.PendingRenewalInfo {
		if originalTransactionID != "" && info.OriginalTransactionID != originalTransactionID {
			continue
		}
		on := bool(info.AutoRenewStatus)
		return info.ExpirationIntent, bool(info.IsInBillingRetryPeriod), &on
	}
	if item := r.Latest(originalTransactionID); item != nil {
		return item.ExpirationIntent, bool(item.IsInBillingRetryPeriod), nil
	}
	return IntentNone, false, nil
}

// NotificationReceiptInfo is latest_receipt_info / latest_expired_receipt_info of a server notification.
type NotificationReceiptInfo struct {
	OriginalTransactionID string      `json:"original_transaction_id"`
	TransactionID         string      `json:"transaction_id"`
	WebOrderLineItemID    string      `json:"web_order_line_item_id"`
	ProductID             string      `json:"product_id"`
	ExpiresDate           EpochMillis `json:"expires_date"`
}

type ServerNotification struct {
	Password                 string                   `json:"password"`
	NotificationType         NotificationType         `json:"notification_type"`
	AutoRenewProductID       string                   `json:"auto_renew_product_id"`
	AutoRenewStatus          *BoolString              `json:"auto_renew_status"`
	LatestReceipt            string                   `json:"latest_receipt"`
	LatestReceiptInfo        *NotificationReceiptInfo `json:"latest_receipt_info"`
	LatestExpiredReceiptInfo *NotificationReceiptInfo `json:"latest_expired_receipt_info"`
}

// ReceiptInfo prefers latest_receipt_info and falls back to latest_expired_receipt_info.
func (n *ServerNotification) ReceiptInfo() *NotificationReceiptInfo {
	if n.LatestReceiptInfo != nil {
		return n.LatestReceiptInfo
	}
	return n.LatestExpiredReceiptInfo
}

// ProductID is the product the subscription renews into, or the purchased one.
func (n *ServerNotification) ProductID() string {
	if n.AutoRenewProductID != "" {
		return n.AutoRenewProductID
	}
	if info := n.ReceiptInfo(); info != nil {
		return info.ProductID
	}
	return ""
}

// AutoRenew returns nil when the notification did not carry the flag.
func (n *ServerNotification) AutoRenew() *bool {
	if n.AutoRenewStatus == nil {
		return nil
	}
	v := bool(*n.AutoRenewStatus)
	return &v
}

func decodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
