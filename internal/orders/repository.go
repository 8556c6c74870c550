package orders

import (
	"context"
	"time"
)

// Repository is the persistence port. InTx runs fn as one unit of work:
// either every write fn issued is committed or none is.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the row-level view of storage inside a unit of work.
// Getters return (nil, nil) when the row does not exist. Reads are not
// guaranteed to observe writes buffered earlier in the same Tx.
type Tx interface {
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetItem(ctx context.Context, id int64) (*Item, error)

	ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	ListItems(ctx context.Context, f ItemFilter) ([]Item, error)

	NextID(ctx context.Context, seq Sequence) (int64, error)

	PutCustomer(ctx context.Context, c *Customer) error
	PutOrder(ctx context.Context, o *Order) error
	PutItem(ctx context.Context, it *Item) error

	DeleteCustomer(ctx context.Context, id int64) error
	DeleteOrder(ctx context.Context, id int64) error
	DeleteItem(ctx context.Context, id int64) error
}

// Hooks receives per-operation observations.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}

func operationStatus(err error) string {
	if err == nil {
		return "success"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "failure"
}
