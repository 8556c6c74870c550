package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-customer-orders/internal/logger"
	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

type sampleItem struct {
	name     string
	quantity int64
	price    string
}

type sampleOrder struct {
	product  string
	shipping string
	created  time.Time
	items    []sampleItem
}

type sampleCustomer struct {
	first, last, state string
	orders             []sampleOrder
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var samples = []sampleCustomer{
	{first: "Jen", last: "Simpson", state: "MN", orders: []sampleOrder{
		{product: "Pirate", shipping: "12.11", created: day(2012, 6, 12), items: []sampleItem{
			{"Pirate", 1, "10.25"},
			{"Ninja", 3, "11.12"},
		}},
		{product: "Monster", shipping: "21.98", created: day(2013, 6, 1), items: []sampleItem{
			{"Monster", 1, "20.50"},
		}},
	}},
	{first: "Doug", last: "Johnson", state: "MN", orders: []sampleOrder{
		{product: "Ninja", shipping: "15.34", created: day(2012, 6, 1), items: []sampleItem{
			{"Frog", 2, "14.68"},
		}},
		{product: "Frog", shipping: "5", created: day(2012, 12, 1), items: []sampleItem{
			{"Sailor", 5, "18.32"},
			{"Monster", 1, "21.49"},
		}},
	}},
	{first: "Bob", last: "Hanson", state: "TX", orders: []sampleOrder{
		{product: "Sailor", shipping: "7.35", created: day(2013, 1, 1), items: []sampleItem{
			{"Koala", 4, "52.03"},
		}},
		{product: "Koala", shipping: "14.61", created: day(2013, 12, 1), items: []sampleItem{
			{"Ninja", 6, "11.12"},
			{"Frog", 1, "14.68"},
		}},
	}},
	{first: "Alice", last: "Wonderland", state: "TX"},
}

// Seeder loads the sample customers, orders and items.
type Seeder struct {
	svc *orders.Service
	log *logger.Logger
}

func New(svc *orders.Service, log *logger.Logger) *Seeder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Seeder{svc: svc, log: log.With("component", "seed")}
}

// SeedIfEmpty loads the sample data when no customer exists yet and
// reports whether it did.
func (s *Seeder) SeedIfEmpty(ctx context.Context) (bool, error) {
	existing, err := s.svc.Store().ListCustomers(ctx, orders.CustomerFilter{})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	return true, s.load(ctx)
}

// Recreate removes every customer, with their orders and items, and loads
// the sample data again. Sequences keep counting, so ids are not reused.
func (s *Seeder) Recreate(ctx context.Context) error {
	existing, err := s.svc.Store().ListCustomers(ctx, orders.CustomerFilter{})
	if err != nil {
		return err
	}
	for _, c := range existing {
		if err := s.svc.DeleteCustomer(ctx, c.ID); err != nil {
			return err
		}
	}
	s.log.Info("sample data cleared", "customers", len(existing))
	return s.load(ctx)
}

func (s *Seeder) load(ctx context.Context) error {
	store := s.svc.Store()
	var nOrders int
	for _, sc := range samples {
		c, err := store.CreateCustomer(ctx, orders.CustomerInput{FirstName: sc.first, LastName: sc.last, ShipToState: sc.state})
		if err != nil {
			return fmt.Errorf("seed customer %s %s: %w", sc.first, sc.last, err)
		}
		for _, so := range sc.orders {
			created := so.created
			in := orders.OrderInput{
				Product:       so.product,
				CreationDate:  &created,
				ShippingTotal: decimal.RequireFromString(so.shipping),
			}
			items := make([]orders.ItemInput, 0, len(so.items))
			for _, si := range so.items {
				qty := si.quantity
				price := decimal.RequireFromString(si.price)
				items = append(items, orders.ItemInput{ProductName: si.name, Quantity: &qty, UnitPrice: &price})
			}
			if _, err := s.svc.CreateOrderWithItems(ctx, c.ID, in, items); err != nil {
				return fmt.Errorf("seed order %s for customer %d: %w", so.product, c.ID, err)
			}
			nOrders++
		}
	}
	s.log.Info("sample data loaded", "customers", len(samples), "orders", nOrders)
	return nil
}
