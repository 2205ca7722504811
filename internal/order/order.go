// Package order defines the persisted pickup order and its store.
//
// Orders are written once per completed call. A caller phoning back to
// change an order produces an update to their most recent order of the
// day rather than a new row.
package order

import (
	"context"
	"time"
)

// Item is one line of an order with its priced subtotal.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	// SubtotalCents is Quantity times the catalog unit price.
	SubtotalCents int `json:"subtotal_cents"`
}

// Order is a pickup order captured from a finished call.
type Order struct {
	// ID is assigned by the store on insert.
	ID int64

	// CallSID identifies the telephone call the order was taken on.
	CallSID string

	// CustomerName as given during the call. May be empty.
	CustomerName string

	// Phone is the caller's number in E.164 form.
	Phone string

	Items []Item

	// Location is the pickup location name.
	Location string

	// PickupTime is the requested pickup time as spoken ("6:30 PM", "ASAP").
	PickupTime string

	// TotalCents is the order total before tax.
	TotalCents int

	CreatedAt time.Time
}

// Store persists orders.
type Store interface {
	// Insert writes a new order and fills in its ID and CreatedAt.
	Insert(ctx context.Context, o *Order) error

	// ReplaceLatest overwrites the caller's most recent order placed today
	// (in the store's time zone) with o's items, location, pickup time, and
	// total. It returns the updated order's ID, or [ErrNoPending] when the
	// caller has no order today.
	ReplaceLatest(ctx context.Context, o *Order) (int64, error)

	// TodayByPhone returns today's orders for phone, newest first.
	TodayByPhone(ctx context.Context, phone string) ([]Order, error)
}
