// Package cart exposes the storefront cart/session data the checkout needs:
// totals, customer profile fields and a clear-on-success hook.
package cart

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates there is no cart for the session.
var ErrNotFound = errors.New("cart not found")

// Item is one cart line.
type Item struct {
	ProductID string `json:"productId" validate:"required"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity" validate:"min=1"`
	Total     string `json:"total" validate:"omitempty,numeric"`
	Virtual   bool   `json:"virtual,omitempty"`
}

// Customer is the session-level customer profile used as the fallback for
// checkout form fields.
type Customer struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Cart is the active session cart.
type Cart struct {
	SessionID      string    `json:"sessionId"`
	UserID         int64     `json:"userId,omitempty"`
	Items          []Item    `json:"items"`
	Total          string    `json:"total"`
	Currency       string    `json:"currency"`
	Customer       Customer  `json:"customer"`
	ShippingMethod string    `json:"shippingMethod,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Virtual reports whether every item is virtual.
func (c Cart) Virtual() bool {
	if len(c.Items) == 0 {
		return false
	}
	for _, it := range c.Items {
		if !it.Virtual {
			return false
		}
	}
	return true
}

// Store persists carts keyed by session id.
type Store interface {
	Get(ctx context.Context, sessionID string) (Cart, error)
	Put(ctx context.Context, c Cart) error
	Clear(ctx context.Context, sessionID string) error
}
