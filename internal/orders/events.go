package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published after a committed mutation.
const (
	EventOrderCreated     = "order.created"
	EventOrderUpdated     = "order.updated"
	EventOrderDeleted     = "order.deleted"
	EventOrderRecomputed  = "order.recomputed"
	EventItemAdded        = "item.added"
	EventItemUpdated      = "item.updated"
	EventItemRemoved      = "item.removed"
	EventCustomerDeleted  = "customer.deleted"
	EventTotalsReconciled = "order.reconciled"
)

// Event is the message body sent to the event bus and consumed by the worker.
type Event struct {
	ID         string          `json:"event_id"`
	Type       string          `json:"type"`
	CustomerID int64           `json:"customer_id,omitempty"`
	OrderID    int64           `json:"order_id,omitempty"`
	ItemID     int64           `json:"item_id,omitempty"`
	Totals     *TotalsSnapshot `json:"totals,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// TotalsSnapshot captures the derived fields of an order at publish time.
type TotalsSnapshot struct {
	ItemTotal     decimal.Decimal `json:"item_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	ShippingTotal decimal.Decimal `json:"shipping_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(typ string, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: now.UTC()}
}

func orderEvent(typ string, o *Order, now time.Time) Event {
	ev := newEvent(typ, now)
	ev.OrderID = o.ID
	ev.CustomerID = o.CustomerID
	ev.Totals = &TotalsSnapshot{
		ItemTotal:     o.ItemTotal,
		TaxTotal:      o.TaxTotal,
		ShippingTotal: o.ShippingTotal,
		GrandTotal:    o.GrandTotal,
	}
	return ev
}
