// Package order is the boundary to the platform's order records. The
// reconciliation controller is the only writer of payment-driven status.
package order

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Status is the platform order status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOnHold   Status = "on-hold"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Terminal reports whether s is Paid, Failed or Refunded.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusRefunded
}

// ParseStatus normalises platform spellings ("processing", "completed"
// count as paid).
func ParseStatus(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on-hold", "on_hold", "onhold":
		return StatusOnHold
	case "paid", "processing", "completed", "complete":
		return StatusPaid
	case "failed":
		return StatusFailed
	case "refunded", "cancelled", "canceled":
		return StatusRefunded
	default:
		return StatusPending
	}
}

// Metadata keys written by the payment bridge.
const (
	MetaProcessorOrderID    = "_xmoney_order_id"
	MetaProcessorCustomerID = "_xmoney_customer_id"
	MetaTransactionID       = "_xmoney_transaction_id"
	MetaReviewPending       = "_xmoney_review_pending"
	MetaExternalOrderID     = "_xmoney_external_order_id"
)

// ErrNotFound is returned when an order id does not resolve.
var ErrNotFound = errors.New("order: not found")

// Address holds the customer fields the payment payload needs.
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// Order is a platform order as seen by the bridge.
type Order struct {
	ID         int64
	Number     string
	Key        string
	Status     Status
	// StoredStatus is the raw column value Status was parsed from.
	StoredStatus string
	Total      string
	Currency   string
	CustomerID int64
	Billing    Address
	Shipping   Address
	SessionID  string
	Virtual    bool
	Meta       map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayNumber is the shopper-facing order number.
func (o Order) DisplayNumber() string {
	if strings.TrimSpace(o.Number) != "" {
		return o.Number
	}
	return strconv.FormatInt(o.ID, 10)
}

// Transition is an atomic status change with its side effects.
type Transition struct {
	From Status
	// FromStored is the raw status the write is guarded on. Empty means From.
	FromStored string
	To         Status
	SetMeta    map[string]string
	DeleteMeta []string
	Note       string
}

// Expected returns the stored status value the compare-and-set must match.
func (t Transition) Expected() string {
	if t.FromStored != "" {
		return t.FromStored
	}
	return string(t.From)
}

// Store is implemented by the platform order persistence.
type Store interface {
	Get(ctx context.Context, id int64) (Order, error)
	// CompareAndSetStatus applies t only when the stored status still equals
	// t.From. It reports false, without writing, when another writer won.
	CompareAndSetStatus(ctx context.Context, id int64, t Transition) (bool, error)
	Annotate(ctx context.Context, id int64, note string, setMeta map[string]string, deleteMeta ...string) error
	ListByMeta(ctx context.Context, key string, limit int) ([]Order, error)
}
