package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// Repository implements orders.Repository on a GORM database.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn inside a database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if r == nil || r.db == nil {
		return errors.New("sqlstore: repository has nil db")
	}
	return r.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&txn{db: gtx})
	})
}

type txn struct {
	db *gorm.DB
}

func (t *txn) GetCustomer(ctx context.Context, id int64) (*orders.Customer, error) {
	var row customerRow
	if found, err := t.take(ctx, &row, "customer_id = ?", id); err != nil || !found {
		return nil, err
	}
	c := customerFromRow(row)
	return &c, nil
}

func (t *txn) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	var row orderRow
	if found, err := t.take(ctx, &row, "order_id = ?", id); err != nil || !found {
		return nil, err
	}
	o := orderFromRow(row)
	return &o, nil
}

func (t *txn) GetItem(ctx context.Context, id int64) (*orders.Item, error) {
	var row itemRow
	if found, err := t.take(ctx, &row, "item_id = ?", id); err != nil || !found {
		return nil, err
	}
	it := itemFromRow(row)
	return &it, nil
}

func (t *txn) take(ctx context.Context, dest any, query string, id int64) (bool, error) {
	err := t.db.WithContext(ctx).Where(query, id).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select: %w", err)
	}
	return true, nil
}

func (t *txn) ListCustomers(ctx context.Context, f orders.CustomerFilter) ([]orders.Customer, error) {
	q := t.db.WithContext(ctx).Model(&customerRow{})
	if f.FirstName != "" {
		q = q.Where("first_name = ?", f.FirstName)
	}
	if f.LastName != "" {
		q = q.Where("last_name = ?", f.LastName)
	}
	var rows []customerRow
	if err := q.Order("customer_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	out := make([]orders.Customer, 0, len(rows))
	for _, r := range rows {
		out = append(out, customerFromRow(r))
	}
	return out, nil
}

func (t *txn) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	q := t.db.WithContext(ctx).Model(&orderRow{})
	if f.Product != "" {
		q = q.Where("product = ?", f.Product)
	}
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	var rows []orderRow
	if err := q.Order("order_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]orders.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, orderFromRow(r))
	}
	return out, nil
}

func (t *txn) ListItems(ctx context.Context, f orders.ItemFilter) ([]orders.Item, error) {
	q := t.db.WithContext(ctx).Model(&itemRow{})
	if f.Product != "" {
		q = q.Where("product_name = ?", f.Product)
	}
	if f.OrderID != 0 {
		q = q.Where("order_id = ?", f.OrderID)
	}
	var rows []itemRow
	if err := q.Order("item_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]orders.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, itemFromRow(r))
	}
	return out, nil
}

// NextID bumps the sequence row and returns the value it held.
func (t *txn) NextID(ctx context.Context, seq orders.Sequence) (int64, error) {
	db := t.db.WithContext(ctx)
	res := db.Model(&sequenceRow{}).
		Where("name = ?", string(seq)).
		UpdateColumn("next_value", gorm.Expr("next_value + ?", 1))
	if res.Error != nil {
		return 0, fmt.Errorf("bump sequence %s: %w", seq, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("sequence %s is not initialised", seq)
	}
	var row sequenceRow
	if err := db.Where("name = ?", string(seq)).Take(&row).Error; err != nil {
		return 0, fmt.Errorf("read sequence %s: %w", seq, err)
	}
	return row.NextValue - 1, nil
}

func (t *txn) PutCustomer(ctx context.Context, c *orders.Customer) error {
	row := customerToRow(c)
	return t.upsert(ctx, &row, "customer")
}

func (t *txn) PutOrder(ctx context.Context, o *orders.Order) error {
	row := orderToRow(o)
	return t.upsert(ctx, &row, "order")
}

func (t *txn) PutItem(ctx context.Context, it *orders.Item) error {
	row := itemToRow(it)
	return t.upsert(ctx, &row, "item")
}

func (t *txn) upsert(ctx context.Context, row any, what string) error {
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return orders.Conflict(what+" parent no longer exists", err)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", what, err)
	}
	return nil
}

func (t *txn) DeleteCustomer(ctx context.Context, id int64) error {
	return t.delete(ctx, &customerRow{}, "customer_id = ?", id)
}

func (t *txn) DeleteOrder(ctx context.Context, id int64) error {
	return t.delete(ctx, &orderRow{}, "order_id = ?", id)
}

func (t *txn) DeleteItem(ctx context.Context, id int64) error {
	return t.delete(ctx, &itemRow{}, "item_id = ?", id)
}

func (t *txn) delete(ctx context.Context, model any, query string, id int64) error {
	if err := t.db.WithContext(ctx).Where(query, id).Delete(model).Error; err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
