package orders

import (
	"context"
	"strings"
	"time"

	"github.com/imrishuroy/go-customer-orders/internal/logger"
)

// Store is the aggregate store: customers, orders and items with their
// parent/child links. Every method is a single unit of work.
type Store struct {
	repo    Repository
	log     *logger.Logger
	nowFunc func() time.Time
}

// NewStore creates a Store over repo.
func NewStore(repo Repository, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		repo:    repo,
		log:     log.With("component", "orders.Store"),
		nowFunc: time.Now,
	}
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	return withOp(op, s.repo.InTx(ctx, fn))
}

// GetCustomer returns the customer with its orders and their items.
func (s *Store) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var out *Customer
	err := s.inTx(ctx, "orders.GetCustomer", func(tx Tx) error {
		c, err := s.loadCustomer(ctx, tx, id)
		if err != nil {
			return err
		}
		list, err := s.listOrders(ctx, tx, OrderFilter{CustomerID: id})
		if err != nil {
			return err
		}
		c.Orders = list
		out = c
		return nil
	})
	return out, err
}

// GetOrder returns the order with its items.
func (s *Store) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var out *Order
	err := s.inTx(ctx, "orders.GetOrder", func(tx Tx) error {
		o, err := s.loadOrder(ctx, tx, id)
		out = o
		return err
	})
	return out, err
}

func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	var out *Item
	err := s.inTx(ctx, "orders.GetItem", func(tx Tx) error {
		it, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if it == nil {
			return NotFound(EntityItem, id)
		}
		out = it
		return nil
	})
	return out, err
}

// ListCustomers returns matching customers without their orders.
func (s *Store) ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error) {
	var out []Customer
	err := s.inTx(ctx, "orders.ListCustomers", func(tx Tx) error {
		list, err := tx.ListCustomers(ctx, f)
		out = list
		return err
	})
	return nonNil(out), err
}

// ListOrders returns matching orders with their items.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	var out []Order
	err := s.inTx(ctx, "orders.ListOrders", func(tx Tx) error {
		list, err := s.listOrders(ctx, tx, f)
		out = list
		return err
	})
	return nonNil(out), err
}

func (s *Store) ListItems(ctx context.Context, f ItemFilter) ([]Item, error) {
	var out []Item
	err := s.inTx(ctx, "orders.ListItems", func(tx Tx) error {
		list, err := tx.ListItems(ctx, f)
		out = list
		return err
	})
	return nonNil(out), err
}

func (s *Store) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	const op = "orders.CreateCustomer"
	if err := in.validate(); err != nil {
		return nil, withOp(op, err)
	}
	var out *Customer
	err := s.inTx(ctx, op, func(tx Tx) error {
		id, err := tx.NextID(ctx, SequenceCustomer)
		if err != nil {
			return err
		}
		c := &Customer{
			ID:          id,
			FirstName:   in.FirstName,
			LastName:    in.LastName,
			ShipToState: strings.ToUpper(strings.TrimSpace(in.ShipToState)),
		}
		if err := tx.PutCustomer(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("customer created", "customer_id", out.ID)
	return out, nil
}

// UpdateCustomer overwrites the allow-listed fields named by p.
func (s *Store) UpdateCustomer(ctx context.Context, id int64, p CustomerPatch) (*Customer, error) {
	const op = "orders.UpdateCustomer"
	if err := p.validate(); err != nil {
		return nil, withOp(op, err)
	}
	var out *Customer
	err := s.inTx(ctx, op, func(tx Tx) error {
		c, err := s.loadCustomer(ctx, tx, id)
		if err != nil {
			return err
		}
		p.apply(c)
		if err := tx.PutCustomer(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Store) loadCustomer(ctx context.Context, tx Tx, id int64) (*Customer, error) {
	c, err := tx.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NotFound(EntityCustomer, id)
	}
	return c, nil
}

func (s *Store) loadOrder(ctx context.Context, tx Tx, id int64) (*Order, error) {
	o, err := tx.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, NotFound(EntityOrder, id)
	}
	items, err := tx.ListItems(ctx, ItemFilter{OrderID: id})
	if err != nil {
		return nil, err
	}
	o.Items = nonNil(items)
	return o, nil
}

func (s *Store) listOrders(ctx context.Context, tx Tx, f OrderFilter) ([]Order, error) {
	list, err := tx.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		items, err := tx.ListItems(ctx, ItemFilter{OrderID: list[i].ID})
		if err != nil {
			return nil, err
		}
		list[i].Items = nonNil(items)
	}
	return list, nil
}

func (s *Store) createOrder(ctx context.Context, tx Tx, customerID int64, in OrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.loadCustomer(ctx, tx, customerID); err != nil {
		return nil, err
	}
	id, err := tx.NextID(ctx, SequenceOrder)
	if err != nil {
		return nil, err
	}
	created := s.nowFunc().UTC()
	if in.CreationDate != nil {
		created = in.CreationDate.UTC()
	}
	o := &Order{
		ID:            id,
		CustomerID:    customerID,
		Product:       in.Product,
		CreationDate:  created,
		ShippingTotal: NormalizeMoney(in.ShippingTotal),
		Items:         []Item{},
	}
	o.Recalculate()
	if err := tx.PutOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// deleteOrder removes items before the order header.
func (s *Store) deleteOrder(ctx context.Context, tx Tx, id int64) (*Order, error) {
	o, err := s.loadOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	for _, it := range o.Items {
		if err := tx.DeleteItem(ctx, it.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.DeleteOrder(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// deleteCustomer removes orders (and their items) before the customer.
func (s *Store) deleteCustomer(ctx context.Context, tx Tx, id int64) ([]int64, error) {
	if _, err := s.loadCustomer(ctx, tx, id); err != nil {
		return nil, err
	}
	list, err := tx.ListOrders(ctx, OrderFilter{CustomerID: id})
	if err != nil {
		return nil, err
	}
	removed := make([]int64, 0, len(list))
	for _, o := range list {
		if _, err := s.deleteOrder(ctx, tx, o.ID); err != nil {
			return nil, err
		}
		removed = append(removed, o.ID)
	}
	if err := tx.DeleteCustomer(ctx, id); err != nil {
		return nil, err
	}
	return removed, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
