package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
	"github.com/imrishuroy/go-customer-orders/internal/sqlstore"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []orders.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev orders.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingHooks struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (h *recordingHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.statuses == nil {
		h.statuses = map[string]string{}
	}
	h.statuses[name] = status
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("lock busy")
}

// recordingLocker remembers every key requested and reports it on calls.
type recordingLocker struct {
	*orders.LocalLocker
	mu    sync.Mutex
	keys  []string
	calls chan string
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{LocalLocker: orders.NewLocalLocker(), calls: make(chan string, 64)}
}

func (l *recordingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	l.calls <- key
	return l.LocalLocker.Lock(ctx, key)
}

func (l *recordingLocker) reset() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.keys
	l.keys = nil
	for len(l.calls) > 0 {
		<-l.calls
	}
	return keys
}

type fixture struct {
	repo   *sqlstore.Repository
	svc    *orders.Service
	store  *orders.Store
	events *recordingPublisher
	hooks  *recordingHooks
}

func newFixture(t *testing.T, opts ...orders.Option) fixture {
	t.Helper()
	db, err := sqlstore.Open(sqlstore.Config{Driver: "sqlite", DSN: sqlstore.MemoryDSN(t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlstore.Close(db) })

	repo := sqlstore.NewRepository(db)
	store := orders.NewStore(repo, nil)
	pub := &recordingPublisher{}
	hooks := &recordingHooks{}
	opts = append([]orders.Option{orders.WithPublisher(pub), orders.WithHooks(hooks)}, opts...)
	return fixture{
		repo:   repo,
		svc:    orders.NewService(store, nil, opts...),
		store:  store,
		events: pub,
		hooks:  hooks,
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func qty(n int64) *int64 { return &n }

func price(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	assert.Truef(t, got.Equal(d(want)), "%s: want %s got %s", what, want, got)
}

func (f fixture) customer(t *testing.T, first, last, state string) *orders.Customer {
	t.Helper()
	c, err := f.store.CreateCustomer(context.Background(), orders.CustomerInput{FirstName: first, LastName: last, ShipToState: state})
	require.NoError(t, err)
	return c
}

// scenarioA builds the order used by the first two worked examples.
func (f fixture) scenarioA(t *testing.T) (*orders.Order, []*orders.Item) {
	t.Helper()
	ctx := context.Background()
	c := f.customer(t, "Jen", "Simpson", "MN")
	o, err := f.svc.CreateOrderWithItems(ctx, c.ID, orders.OrderInput{Product: "Pirate ship", ShippingTotal: d("12.11")}, nil)
	require.NoError(t, err)

	first, err := f.svc.AddItem(ctx, o.ID, orders.ItemInput{ProductName: "Pirate", Quantity: qty(1), UnitPrice: price("10.25")})
	require.NoError(t, err)
	second, err := f.svc.AddItem(ctx, o.ID, orders.ItemInput{ProductName: "Ninja", Quantity: qty(3), UnitPrice: price("11.12")})
	require.NoError(t, err)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	return got, []*orders.Item{first, second}
}

func TestAddItemsRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	o, items := f.scenarioA(t)

	assert.Equal(t, int64(100), items[0].ID)
	assert.Equal(t, int64(101), items[1].ID)
	assertMoney(t, "33.36", items[1].ItemTotal, "second item total")
	assertMoney(t, "43.61", o.ItemTotal, "item total")
	assertMoney(t, "4.179", o.TaxTotal, "tax total")
	assertMoney(t, "59.899", o.GrandTotal, "grand total")
	require.Len(t, o.Items, 2)
	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventItemAdded, orders.EventItemAdded}, f.events.types())
	assert.Equal(t, "success", f.hooks.statuses["orders.AddItem"])
}

func TestRemoveItemRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	o, items := f.scenarioA(t)

	got, err := f.svc.RemoveItem(context.Background(), o.ID, items[1].ID)
	require.NoError(t, err)

	assertMoney(t, "10.25", got.ItemTotal, "item total")
	assertMoney(t, "1.677", got.TaxTotal, "tax total")
	assertMoney(t, "24.037", got.GrandTotal, "grand total")

	_, err = f.store.GetItem(context.Background(), items[1].ID)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))

	stored, err := f.store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assertMoney(t, "24.037", stored.GrandTotal, "stored grand total")
	require.Len(t, stored.Items, 1)
}

func TestRemoveItemNotOnOrderOnlyRecomputes(t *testing.T) {
	f := newFixture(t)
	o, _ := f.scenarioA(t)

	got, err := f.svc.RemoveItem(context.Background(), o.ID, 555)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assertMoney(t, "59.899", got.GrandTotal, "grand total")
	types := f.events.types()
	assert.Equal(t, orders.EventOrderRecomputed, types[len(types)-1])
}

func TestDeleteItemUnknownIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DeleteItem(context.Background(), 404)
	require.Error(t, err)

	var oe *orders.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, orders.KindNotFound, oe.Kind)
	assert.Equal(t, orders.EntityItem, oe.Entity)
	assert.Equal(t, int64(404), oe.ID)
	assert.Equal(t, "orders.DeleteItem", oe.Op)
}

func TestDeleteItemResolvesOwningOrder(t *testing.T) {
	f := newFixture(t)
	o, items := f.scenarioA(t)

	got, err := f.svc.DeleteItem(context.Background(), items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assertMoney(t, "24.037", got.GrandTotal, "grand total")
}

func TestCascadeDeleteCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "Doug", "Johnson", "MN")
	other := f.customer(t, "Bob", "Hanson", "TX")

	var orderIDs, itemIDs []int64
	for _, product := range []string{"Ninja", "Frog"} {
		o, err := f.svc.CreateOrderWithItems(ctx, c.ID, orders.OrderInput{Product: product},
			[]orders.ItemInput{{ProductName: product, Quantity: qty(2), UnitPrice: price("14.68")}})
		require.NoError(t, err)
		orderIDs = append(orderIDs, o.ID)
		itemIDs = append(itemIDs, o.Items[0].ID)
	}
	kept, err := f.svc.CreateOrderWithItems(ctx, other.ID, orders.OrderInput{Product: "Koala"},
		[]orders.ItemInput{{ProductName: "Koala", Quantity: qty(4), UnitPrice: price("52.03")}})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCustomer(ctx, c.ID))

	_, err = f.store.GetCustomer(ctx, c.ID)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))
	for _, id := range orderIDs {
		_, err := f.store.GetOrder(ctx, id)
		assert.True(t, orders.IsKind(err, orders.KindNotFound))
	}
	for _, id := range itemIDs {
		_, err := f.store.GetItem(ctx, id)
		assert.True(t, orders.IsKind(err, orders.KindNotFound))
	}
	left, err := f.store.ListOrders(ctx, orders.OrderFilter{CustomerID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = f.store.GetOrder(ctx, kept.ID)
	require.NoError(t, err)
}

func TestCreateOrderForMissingCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrderWithItems(ctx, 42, orders.OrderInput{Product: "Ghost"}, nil)
	require.Error(t, err)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))

	_, err = f.svc.CreateOrderWithItems(ctx, 42, orders.OrderInput{Product: "Ghost"},
		[]orders.ItemInput{{ProductName: "Ghost"}})
	assert.True(t, orders.IsKind(err, orders.KindNotFound))

	list, err := f.store.ListOrders(ctx, orders.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.events.types())
}

func TestUpdateItemQuantityRecomputesOrder(t *testing.T) {
	f := newFixture(t)
	o, items := f.scenarioA(t)

	p := orders.ItemPatch{Quantity: qty(5)}
	it, err := f.svc.UpdateItem(context.Background(), items[0].ID, p)
	require.NoError(t, err)
	assertMoney(t, "51.25", it.ItemTotal, "item total")

	got, err := f.store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	// 51.25 + 33.36 = 84.61; (84.61 + 12.11) * 0.075 = 7.254
	assertMoney(t, "84.61", got.ItemTotal, "order item total")
	assertMoney(t, "7.254", got.TaxTotal, "tax total")
	assertMoney(t, "103.974", got.GrandTotal, "grand total")
}

func TestUpdateItemRejectsBadQuantity(t *testing.T) {
	f := newFixture(t)
	_, items := f.scenarioA(t)

	_, err := f.svc.UpdateItem(context.Background(), items[0].ID, orders.ItemPatch{Quantity: qty(0)})
	assert.True(t, orders.IsKind(err, orders.KindValidation))
}

func TestUpdateOrderShippingRecomputes(t *testing.T) {
	f := newFixture(t)
	o, _ := f.scenarioA(t)

	ship := d("0")
	got, err := f.svc.UpdateOrder(context.Background(), o.ID, orders.OrderPatch{ShippingTotal: &ship})
	require.NoError(t, err)
	// 43.61 * 0.075 = 3.27075
	assertMoney(t, "3.27075", got.TaxTotal, "tax total")
	assertMoney(t, "46.88075", got.GrandTotal, "grand total")
}

func TestRecomputeTotalsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	o, _ := f.scenarioA(t)
	ctx := context.Background()

	first, err := f.svc.RecomputeTotals(ctx, o.ID)
	require.NoError(t, err)
	second, err := f.svc.RecomputeTotals(ctx, o.ID)
	require.NoError(t, err)

	assert.True(t, first.ItemTotal.Equal(second.ItemTotal))
	assert.True(t, first.TaxTotal.Equal(second.TaxTotal))
	assert.True(t, first.GrandTotal.Equal(second.GrandTotal))
	assertMoney(t, "59.899", second.GrandTotal, "grand total")
}

func TestReconcileTotalsOnlyWritesOnDrift(t *testing.T) {
	f := newFixture(t)
	o, _ := f.scenarioA(t)
	ctx := context.Background()

	drifted, err := f.svc.ReconcileTotals(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, drifted)

	require.NoError(t, f.repo.InTx(ctx, func(tx orders.Tx) error {
		stale, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		stale.GrandTotal = d("1")
		return tx.PutOrder(ctx, stale)
	}))

	drifted, err = f.svc.ReconcileTotals(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, drifted)
	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assertMoney(t, "59.899", got.GrandTotal, "corrected grand total")
	types := f.events.types()
	assert.Equal(t, orders.EventTotalsReconciled, types[len(types)-1])

	_, err = f.svc.ReconcileTotals(ctx, 999)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))
}

func TestCreateOrderWithItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "Jen", "Simpson", "MN")
	created := time.Date(2013, 6, 1, 0, 0, 0, 0, time.UTC)

	o, err := f.svc.CreateOrderWithItems(ctx, c.ID,
		orders.OrderInput{Product: "Monster ship", CreationDate: &created, ShippingTotal: d("21.98")},
		[]orders.ItemInput{{ProductName: "Monster", Quantity: qty(1), UnitPrice: price("20.50")}})
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	// (20.50 + 21.98) * 0.075 = 3.186
	assertMoney(t, "3.186", o.TaxTotal, "tax total")
	assertMoney(t, "45.666", o.GrandTotal, "grand total")
	assert.True(t, o.CreationDate.Equal(created))
	assert.Equal(t, []string{orders.EventOrderCreated}, f.events.types())

	got, err := f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Orders, 1)
	require.Len(t, got.Orders[0].Items, 1)
	assertMoney(t, "45.666", got.Orders[0].GrandTotal, "stored grand total")
}

func TestCreateOrderWithItemsRollsBackOnInvalidItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "Jen", "Simpson", "MN")

	_, err := f.svc.CreateOrderWithItems(ctx, c.ID, orders.OrderInput{Product: "Broken"},
		[]orders.ItemInput{
			{ProductName: "Fine", Quantity: qty(1), UnitPrice: price("1")},
			{ProductName: "Bad", Quantity: qty(0)},
		})
	require.Error(t, err)
	assert.True(t, orders.IsKind(err, orders.KindValidation))

	list, err := f.store.ListOrders(ctx, orders.OrderFilter{CustomerID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
	items, err := f.store.ListItems(ctx, orders.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteOrderCascadesItems(t *testing.T) {
	f := newFixture(t)
	o, items := f.scenarioA(t)
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteOrder(ctx, o.ID))
	for _, it := range items {
		_, err := f.store.GetItem(ctx, it.ID)
		assert.True(t, orders.IsKind(err, orders.KindNotFound))
	}
	err := f.svc.DeleteOrder(ctx, o.ID)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))
	assert.Equal(t, string(orders.KindNotFound), f.hooks.statuses["orders.DeleteOrder"])
}

func TestLockFailureIsConflict(t *testing.T) {
	f := newFixture(t, orders.WithLocker(failingLocker{}))
	ctx := context.Background()
	c := f.customer(t, "Jen", "Simpson", "MN")

	_, err := f.svc.CreateOrderWithItems(ctx, c.ID, orders.OrderInput{Product: "x"}, nil)
	assert.True(t, orders.IsKind(err, orders.KindConflict))
	_, err = f.svc.AddItem(ctx, 1, orders.ItemInput{ProductName: "y"})
	assert.True(t, orders.IsKind(err, orders.KindConflict))
	err = f.svc.DeleteCustomer(ctx, c.ID)
	assert.True(t, orders.IsKind(err, orders.KindConflict))

	_, err = f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("bus down")
	_, items := f.scenarioA(t)
	assert.Len(t, items, 2)
}

func TestConcurrentAddsKeepTotalsConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "Bob", "Hanson", "TX")
	o, err := f.svc.CreateOrderWithItems(ctx, c.ID, orders.OrderInput{Product: "Sailor", ShippingTotal: d("7.35")}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(ctx, o.ID, orders.ItemInput{ProductName: "Koala", Quantity: qty(1), UnitPrice: price("1.10")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 10)
	assertMoney(t, "11", got.ItemTotal, "item total")
	assertMoney(t, orders.GrandTotal(d("11"), d("7.35"), orders.TaxTotal(d("11"), d("7.35"))).String(), got.GrandTotal, "grand total")
}

func TestDeleteCustomerLocksEveryOrder(t *testing.T) {
	locker := newRecordingLocker()
	f := newFixture(t, orders.WithLocker(locker))
	ctx := context.Background()
	o, _ := f.scenarioA(t)
	second, err := f.svc.CreateOrderWithItems(ctx, o.CustomerID, orders.OrderInput{Product: "Monster ship"}, nil)
	require.NoError(t, err)
	locker.reset()

	require.NoError(t, f.svc.DeleteCustomer(ctx, o.CustomerID))
	assert.Equal(t, []string{
		orders.CustomerLockKey(o.CustomerID),
		orders.OrderLockKey(o.ID),
		orders.OrderLockKey(second.ID),
	}, locker.reset())

	_, err = f.svc.CreateOrderWithItems(ctx, o.CustomerID, orders.OrderInput{Product: "Late"}, nil)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))
	assert.Equal(t, []string{orders.CustomerLockKey(o.CustomerID)}, locker.reset())
}

func TestDeleteCustomerWaitsForOrderInFlight(t *testing.T) {
	locker := newRecordingLocker()
	f := newFixture(t, orders.WithLocker(locker))
	ctx := context.Background()
	o, _ := f.scenarioA(t)

	unlock, err := locker.LocalLocker.Lock(ctx, orders.OrderLockKey(o.ID))
	require.NoError(t, err)
	locker.reset()

	done := make(chan error, 1)
	go func() { done <- f.svc.DeleteCustomer(ctx, o.CustomerID) }()
	require.Equal(t, orders.CustomerLockKey(o.CustomerID), <-locker.calls)
	require.Equal(t, orders.OrderLockKey(o.ID), <-locker.calls)

	// the holder of the order lock commits an item while the delete waits
	require.NoError(t, f.repo.InTx(ctx, func(tx orders.Tx) error {
		return tx.PutItem(ctx, &orders.Item{ID: 500, OrderID: o.ID, ProductName: "Frog", Quantity: 1})
	}))
	select {
	case err := <-done:
		t.Fatalf("delete finished while the order was locked: %v", err)
	default:
	}
	unlock()
	require.NoError(t, <-done)

	_, err = f.store.GetOrder(ctx, o.ID)
	assert.True(t, orders.IsKind(err, orders.KindNotFound))
	items, err := f.store.ListItems(ctx, orders.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteItemRemovedWhileWaitingIsNotFound(t *testing.T) {
	locker := newRecordingLocker()
	f := newFixture(t, orders.WithLocker(locker))
	ctx := context.Background()
	o, items := f.scenarioA(t)

	unlock, err := locker.LocalLocker.Lock(ctx, orders.OrderLockKey(o.ID))
	require.NoError(t, err)
	locker.reset()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.DeleteItem(ctx, items[1].ID)
		done <- err
	}()
	require.Equal(t, orders.OrderLockKey(o.ID), <-locker.calls)
	require.NoError(t, f.repo.InTx(ctx, func(tx orders.Tx) error {
		return tx.DeleteItem(ctx, items[1].ID)
	}))
	unlock()

	err = <-done
	var oe *orders.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, orders.KindNotFound, oe.Kind)
	assert.Equal(t, orders.EntityItem, oe.Entity)
	assert.Equal(t, items[1].ID, oe.ID)

	// nothing was written for the missing item
	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assertMoney(t, "59.899", got.GrandTotal, "grand total")
	types := f.events.types()
	assert.Equal(t, orders.EventItemAdded, types[len(types)-1])
}

func TestStoredTotalsMatchRecomputeAtFullPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "Bob", "Hanson", "TX")
	o, err := f.svc.CreateOrderWithItems(ctx, c.ID, orders.OrderInput{Product: "Koala", ShippingTotal: d("0.01")}, nil)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, o.ID, orders.ItemInput{ProductName: "Koala", Quantity: qty(7), UnitPrice: price("1234567890.123457")})
	require.NoError(t, err)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "648148142.315564925", got.TaxTotal.String())
	assert.Equal(t, "9290123373.189763925", got.GrandTotal.String())

	for i := 0; i < 2; i++ {
		drifted, err := f.svc.ReconcileTotals(ctx, o.ID)
		require.NoError(t, err)
		assert.False(t, drifted)
	}
}

func TestMoneyInputsKeepSixPlaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "Alice", "Wonderland", "TX")
	o, err := f.svc.CreateOrderWithItems(ctx, c.ID,
		orders.OrderInput{Product: "Frog", ShippingTotal: d("1.0000004")},
		[]orders.ItemInput{{ProductName: "Frog", Quantity: qty(3), UnitPrice: price("2.1234565")}})
	require.NoError(t, err)

	assertMoney(t, "1", o.ShippingTotal, "shipping total")
	assertMoney(t, "2.123457", o.Items[0].UnitPrice, "unit price")

	drifted, err := f.svc.ReconcileTotals(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, drifted)
}
