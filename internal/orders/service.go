package orders

import (
	"context"
	"time"

	"github.com/imrishuroy/go-customer-orders/internal/logger"
)

// Service keeps order totals consistent with the order's items. Every
// mutation recomputes totals before its unit of work commits, holds the
// order's lock for the duration, and publishes an Event once committed.
type Service struct {
	store   *Store
	locker  Locker
	events  Publisher
	hooks   Hooks
	log     *logger.Logger
	nowFunc func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(s *Service) {
		if h != nil {
			s.hooks = h
		}
	}
}

// NewService returns a Service using an in-process locker, no event
// publisher and no hooks unless overridden by opts.
func NewService(store *Store, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		store:   store,
		locker:  NewLocalLocker(),
		events:  noopPublisher{},
		hooks:   noopHooks{},
		log:     log.With("component", "orders.Service"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying aggregate store for reads.
func (s *Service) Store() *Store { return s.store }

// AddItem appends a new item to the order and recomputes its totals.
func (s *Service) AddItem(ctx context.Context, orderID int64, in ItemInput) (*Item, error) {
	var (
		added *Item
		order *Order
	)
	err := s.run(ctx, "orders.AddItem", func(tx Tx) error {
		o, err := s.store.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		it, err := s.addItem(ctx, tx, o, in)
		if err != nil {
			return err
		}
		added, order = it, o
		return nil
	}, OrderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	ev := orderEvent(EventItemAdded, order, s.nowFunc())
	ev.ItemID = added.ID
	s.publish(ctx, ev)
	return added, nil
}

// RemoveItem removes itemID from the order. An item the order does not own
// is ignored; totals are recomputed and persisted either way.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID int64) (*Order, error) {
	return s.removeItemFromOrder(ctx, "orders.RemoveItem", orderID, itemID, false)
}

// DeleteItem removes an item by id from whichever order owns it. The item
// must still be on that order once the order is locked.
func (s *Service) DeleteItem(ctx context.Context, itemID int64) (*Order, error) {
	it, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, withOp("orders.DeleteItem", err)
	}
	return s.removeItemFromOrder(ctx, "orders.DeleteItem", it.OrderID, itemID, true)
}

func (s *Service) removeItemFromOrder(ctx context.Context, op string, orderID, itemID int64, mustOwn bool) (*Order, error) {
	var (
		order   *Order
		removed bool
	)
	err := s.run(ctx, op, func(tx Tx) error {
		o, err := s.store.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if mustOwn && indexOfItem(o.Items, itemID) < 0 {
			return NotFound(EntityItem, itemID)
		}
		removed, err = s.removeItem(ctx, tx, o, itemID)
		if err != nil {
			return err
		}
		order = o
		return nil
	}, OrderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	typ := EventOrderRecomputed
	if removed {
		typ = EventItemRemoved
	} else {
		s.log.Warn("item not on order, totals recomputed only", "order_id", orderID, "item_id", itemID)
	}
	ev := orderEvent(typ, order, s.nowFunc())
	ev.ItemID = itemID
	s.publish(ctx, ev)
	return order, nil
}

// UpdateItem applies p to the item and recomputes the item and its order.
func (s *Service) UpdateItem(ctx context.Context, itemID int64, p ItemPatch) (*Item, error) {
	const op = "orders.UpdateItem"
	if err := p.validate(); err != nil {
		return nil, withOp(op, err)
	}
	cur, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, withOp(op, err)
	}
	var (
		updated *Item
		order   *Order
	)
	err = s.run(ctx, op, func(tx Tx) error {
		o, err := s.store.loadOrder(ctx, tx, cur.OrderID)
		if err != nil {
			return err
		}
		idx := indexOfItem(o.Items, itemID)
		if idx < 0 {
			return NotFound(EntityItem, itemID)
		}
		p.apply(&o.Items[idx])
		o.Recalculate()
		if err := tx.PutItem(ctx, &o.Items[idx]); err != nil {
			return err
		}
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}
		it := o.Items[idx]
		updated, order = &it, o
		return nil
	}, OrderLockKey(cur.OrderID))
	if err != nil {
		return nil, err
	}
	ev := orderEvent(EventItemUpdated, order, s.nowFunc())
	ev.ItemID = itemID
	s.publish(ctx, ev)
	return updated, nil
}

// UpdateOrder applies p to the order header and recomputes its totals.
func (s *Service) UpdateOrder(ctx context.Context, orderID int64, p OrderPatch) (*Order, error) {
	const op = "orders.UpdateOrder"
	if err := p.validate(); err != nil {
		return nil, withOp(op, err)
	}
	var order *Order
	err := s.run(ctx, op, func(tx Tx) error {
		o, err := s.store.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		p.apply(o)
		o.Recalculate()
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	}, OrderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	s.publish(ctx, orderEvent(EventOrderUpdated, order, s.nowFunc()))
	return order, nil
}

// RecomputeTotals recomputes and persists every derived field of the order
// from its current items.
func (s *Service) RecomputeTotals(ctx context.Context, orderID int64) (*Order, error) {
	var order *Order
	err := s.run(ctx, "orders.RecomputeTotals", func(tx Tx) error {
		o, err := s.store.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.persistTotals(ctx, tx, o); err != nil {
			return err
		}
		order = o
		return nil
	}, OrderLockKey(orderID))
	if err != nil {
		return nil, err
	}
	s.publish(ctx, orderEvent(EventOrderRecomputed, order, s.nowFunc()))
	return order, nil
}

// ReconcileTotals recomputes the order and writes only when the stored
// derived fields disagree with the recomputed ones. It reports whether a
// correction was written.
func (s *Service) ReconcileTotals(ctx context.Context, orderID int64) (bool, error) {
	var (
		drifted bool
		order   *Order
	)
	err := s.run(ctx, "orders.ReconcileTotals", func(tx Tx) error {
		o, err := s.store.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		stored := *o
		stored.Items = append([]Item(nil), o.Items...)
		o.Recalculate()
		if totalsEqual(&stored, o) {
			return nil
		}
		drifted, order = true, o
		return s.persistTotals(ctx, tx, o)
	}, OrderLockKey(orderID))
	if err != nil {
		return false, err
	}
	if drifted {
		s.log.Warn("order totals drifted, corrected", "order_id", orderID, "grand_total", order.GrandTotal.String())
		s.publish(ctx, orderEvent(EventTotalsReconciled, order, s.nowFunc()))
	}
	return drifted, nil
}

// CreateOrderWithItems creates the order and adds each item in one unit of
// work; the returned order's totals already reflect every item. It holds
// the customer's lock so the customer cannot be deleted underneath it.
func (s *Service) CreateOrderWithItems(ctx context.Context, customerID int64, in OrderInput, items []ItemInput) (*Order, error) {
	var order *Order
	err := s.run(ctx, "orders.CreateOrderWithItems", func(tx Tx) error {
		o, err := s.store.createOrder(ctx, tx, customerID, in)
		if err != nil {
			return err
		}
		for _, in := range items {
			if _, err := s.addItem(ctx, tx, o, in); err != nil {
				return err
			}
		}
		order = o
		return nil
	}, CustomerLockKey(customerID))
	if err != nil {
		return nil, err
	}
	s.log.Info("order created", "order_id", order.ID, "customer_id", customerID, "items", len(order.Items))
	s.publish(ctx, orderEvent(EventOrderCreated, order, s.nowFunc()))
	return order, nil
}

// DeleteOrder removes the order and its items.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) error {
	var order *Order
	err := s.run(ctx, "orders.DeleteOrder", func(tx Tx) error {
		o, err := s.store.deleteOrder(ctx, tx, orderID)
		order = o
		return err
	}, OrderLockKey(orderID))
	if err != nil {
		return err
	}
	s.publish(ctx, orderEvent(EventOrderDeleted, order, s.nowFunc()))
	return nil
}

// DeleteCustomer removes the customer and cascades to its orders and items.
// It takes the customer's lock, then the lock of every order it owns, so no
// in-flight order mutation can write an order back after the delete.
func (s *Service) DeleteCustomer(ctx context.Context, customerID int64) error {
	const op = "orders.DeleteCustomer"
	var removed []int64
	err := s.observe(op, func() error {
		return s.locked(ctx, op, []string{CustomerLockKey(customerID)}, func() error {
			var keys []string
			err := s.store.inTx(ctx, op, func(tx Tx) error {
				list, err := tx.ListOrders(ctx, OrderFilter{CustomerID: customerID})
				for _, o := range list {
					keys = append(keys, OrderLockKey(o.ID))
				}
				return err
			})
			if err != nil {
				return err
			}
			return s.locked(ctx, op, keys, func() error {
				return s.store.inTx(ctx, op, func(tx Tx) error {
					ids, err := s.store.deleteCustomer(ctx, tx, customerID)
					removed = ids
					return err
				})
			})
		})
	})
	if err != nil {
		return err
	}
	s.log.Info("customer deleted", "customer_id", customerID, "orders_removed", len(removed))
	ev := newEvent(EventCustomerDeleted, s.nowFunc())
	ev.CustomerID = customerID
	s.publish(ctx, ev)
	return nil
}

func (s *Service) addItem(ctx context.Context, tx Tx, o *Order, in ItemInput) (*Item, error) {
	it, err := in.build()
	if err != nil {
		return nil, err
	}
	id, err := tx.NextID(ctx, SequenceItem)
	if err != nil {
		return nil, err
	}
	it.ID = id
	it.OrderID = o.ID
	o.Items = append(o.Items, it)
	o.Recalculate()
	if err := tx.PutItem(ctx, &it); err != nil {
		return nil, err
	}
	if err := tx.PutOrder(ctx, o); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) removeItem(ctx context.Context, tx Tx, o *Order, itemID int64) (bool, error) {
	idx := indexOfItem(o.Items, itemID)
	if idx >= 0 {
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return false, err
		}
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	}
	o.Recalculate()
	if err := tx.PutOrder(ctx, o); err != nil {
		return false, err
	}
	return idx >= 0, nil
}

// persistTotals recalculates o and writes the order plus every item.
func (s *Service) persistTotals(ctx context.Context, tx Tx, o *Order) error {
	o.Recalculate()
	for i := range o.Items {
		if err := tx.PutItem(ctx, &o.Items[i]); err != nil {
			return err
		}
	}
	return tx.PutOrder(ctx, o)
}

// run executes fn as one unit of work while holding lockKeys.
func (s *Service) run(ctx context.Context, op string, fn func(tx Tx) error, lockKeys ...string) error {
	return s.observe(op, func() error {
		return s.locked(ctx, op, lockKeys, func() error {
			return s.store.inTx(ctx, op, fn)
		})
	})
}

func (s *Service) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.hooks.ObserveOperation(op, operationStatus(err), time.Since(start))
	if KindOf(err) == KindInternal {
		s.log.Error("operation failed", "op", op, "error", err)
	}
	return err
}

// locked acquires keys in order and releases them in reverse once fn returns.
func (s *Service) locked(ctx context.Context, op string, keys []string, fn func() error) error {
	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, key)
		if err != nil {
			return withOp(op, Conflict("could not acquire "+key, err))
		}
		defer unlock()
	}
	return fn()
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("event publish failed", "type", ev.Type, "order_id", ev.OrderID, "event_id", ev.ID, "error", err)
	}
}

func indexOfItem(items []Item, id int64) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
