package dynamostore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-customer-orders/internal/aws"
	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// maxTransactItems is the DynamoDB limit per TransactWriteItems call.
const maxTransactItems = 100

// Tables names the DynamoDB tables backing the repository.
type Tables struct {
	Customers string
	Orders    string
	Items     string
	Counters  string
}

// Repository implements orders.Repository on DynamoDB.
type Repository struct {
	client aws.DynamoDBAPI
	tables Tables
}

func NewRepository(client aws.DynamoDBAPI, tables Tables) *Repository {
	return &Repository{client: client, tables: tables}
}

// InTx buffers every write fn issues and commits them with
// TransactWriteItems once fn returns nil. Reads inside fn go straight to
// the tables and do not see the buffered writes.
func (r *Repository) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	t := &txn{
		client:   r.client,
		tables:   r.tables,
		pending:  map[string]int{},
		versions: map[int64]int64{},
	}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit(ctx)
}

type txn struct {
	client aws.DynamoDBAPI
	tables Tables

	writes  []types.TransactWriteItem
	pending map[string]int // table/key -> index in writes

	// versions holds the version of every order read in this unit of work.
	versions map[int64]int64
}

func numKey(name string, id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

func (t *txn) get(ctx context.Context, table, keyName string, id int64, out any) (bool, error) {
	res, err := t.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &table,
		Key:            numKey(keyName, id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item: %w", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", table, err)
	}
	return true, nil
}

func (t *txn) GetCustomer(ctx context.Context, id int64) (*orders.Customer, error) {
	var rec customerRecord
	if found, err := t.get(ctx, t.tables.Customers, "customer_id", id, &rec); err != nil || !found {
		return nil, err
	}
	c := rec.customer()
	return &c, nil
}

func (t *txn) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	var rec orderRecord
	if found, err := t.get(ctx, t.tables.Orders, "order_id", id, &rec); err != nil || !found {
		return nil, err
	}
	t.versions[id] = rec.Version
	o := rec.order()
	return &o, nil
}

func (t *txn) GetItem(ctx context.Context, id int64) (*orders.Item, error) {
	var rec itemRecord
	if found, err := t.get(ctx, t.tables.Items, "item_id", id, &rec); err != nil || !found {
		return nil, err
	}
	it := rec.item()
	return &it, nil
}

// filter is an equality condition on one attribute.
type filter struct {
	attr  string
	value types.AttributeValue
}

func strFilter(attr, v string) filter {
	return filter{attr: attr, value: &types.AttributeValueMemberS{Value: v}}
}

func numFilter(attr string, v int64) filter {
	return filter{attr: attr, value: &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}}
}

// scan reads every page of table that matches all filters.
func (t *txn) scan(ctx context.Context, table string, filters []filter) ([]map[string]types.AttributeValue, error) {
	input := &dyn.ScanInput{TableName: &table, ConsistentRead: awsBool(true)}
	if len(filters) > 0 {
		expr := ""
		names := map[string]string{}
		values := map[string]types.AttributeValue{}
		for i, f := range filters {
			n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
			if i > 0 {
				expr += " AND "
			}
			expr += n + " = " + v
			names[n] = f.attr
			values[v] = f.value
		}
		input.FilterExpression = &expr
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (t *txn) ListCustomers(ctx context.Context, f orders.CustomerFilter) ([]orders.Customer, error) {
	var filters []filter
	if f.FirstName != "" {
		filters = append(filters, strFilter("first_name", f.FirstName))
	}
	if f.LastName != "" {
		filters = append(filters, strFilter("last_name", f.LastName))
	}
	raw, err := t.scan(ctx, t.tables.Customers, filters)
	if err != nil {
		return nil, err
	}
	var recs []customerRecord
	if err := attributevalue.UnmarshalListOfMaps(raw, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal customers: %w", err)
	}
	out := make([]orders.Customer, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.customer())
	}
	slices.SortFunc(out, func(a, b orders.Customer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *txn) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	var filters []filter
	if f.Product != "" {
		filters = append(filters, strFilter("product", f.Product))
	}
	if f.CustomerID != 0 {
		filters = append(filters, numFilter("customer_id", f.CustomerID))
	}
	raw, err := t.scan(ctx, t.tables.Orders, filters)
	if err != nil {
		return nil, err
	}
	var recs []orderRecord
	if err := attributevalue.UnmarshalListOfMaps(raw, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	out := make([]orders.Order, 0, len(recs))
	for _, r := range recs {
		if _, seen := t.versions[r.OrderID]; !seen {
			t.versions[r.OrderID] = r.Version
		}
		out = append(out, r.order())
	}
	slices.SortFunc(out, func(a, b orders.Order) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *txn) ListItems(ctx context.Context, f orders.ItemFilter) ([]orders.Item, error) {
	var filters []filter
	if f.Product != "" {
		filters = append(filters, strFilter("product_name", f.Product))
	}
	if f.OrderID != 0 {
		filters = append(filters, numFilter("order_id", f.OrderID))
	}
	raw, err := t.scan(ctx, t.tables.Items, filters)
	if err != nil {
		return nil, err
	}
	var recs []itemRecord
	if err := attributevalue.UnmarshalListOfMaps(raw, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	out := make([]orders.Item, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.item())
	}
	slices.SortFunc(out, func(a, b orders.Item) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// NextID increments the sequence counter outside the unit of work; ids
// handed to a unit that later fails are skipped, never reused.
func (t *txn) NextID(ctx context.Context, seq orders.Sequence) (int64, error) {
	out, err := t.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &t.tables.Counters,
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: string(seq)},
		},
		UpdateExpression: awsString("SET next_value = if_not_exists(next_value, :start) + :inc"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":start": &types.AttributeValueMemberN{Value: strconv.FormatInt(seq.Start(), 10)},
			":inc":   &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", seq, err)
	}
	var counter struct {
		NextValue int64 `dynamodbav:"next_value"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return 0, fmt.Errorf("unmarshal counter %s: %w", seq, err)
	}
	return counter.NextValue - 1, nil
}

func (t *txn) PutCustomer(ctx context.Context, c *orders.Customer) error {
	item, err := attributevalue.MarshalMap(newCustomerRecord(c))
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	t.put(t.tables.Customers, c.ID, item, nil, nil)
	return nil
}

// PutOrder guards the write with the version read earlier in this unit of
// work, or with attribute_not_exists for an order this unit created.
func (t *txn) PutOrder(ctx context.Context, o *orders.Order) error {
	read, seen := t.versions[o.ID]
	item, err := attributevalue.MarshalMap(newOrderRecord(o, read+1))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if seen {
		t.put(t.tables.Orders, o.ID, item, awsString("version = :expected"), map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(read, 10)},
		})
		return nil
	}
	t.put(t.tables.Orders, o.ID, item, awsString("attribute_not_exists(order_id)"), nil)
	return nil
}

func (t *txn) PutItem(ctx context.Context, it *orders.Item) error {
	item, err := attributevalue.MarshalMap(newItemRecord(it))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	t.put(t.tables.Items, it.ID, item, nil, nil)
	return nil
}

func (t *txn) DeleteCustomer(ctx context.Context, id int64) error {
	t.del(t.tables.Customers, numKey("customer_id", id), id, nil, nil)
	return nil
}

func (t *txn) DeleteOrder(ctx context.Context, id int64) error {
	if read, seen := t.versions[id]; seen {
		t.del(t.tables.Orders, numKey("order_id", id), id, awsString("version = :expected"), map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(read, 10)},
		})
		return nil
	}
	t.del(t.tables.Orders, numKey("order_id", id), id, nil, nil)
	return nil
}

func (t *txn) DeleteItem(ctx context.Context, id int64) error {
	t.del(t.tables.Items, numKey("item_id", id), id, nil, nil)
	return nil
}

// put records a write. A later write to the same row replaces the item but
// keeps the condition of the first one, since a transaction may touch each
// row only once.
func (t *txn) put(table string, id int64, item map[string]types.AttributeValue, cond *string, values map[string]types.AttributeValue) {
	k := table + "/" + strconv.FormatInt(id, 10)
	if i, ok := t.pending[k]; ok {
		prev := t.writes[i]
		p := &types.Put{TableName: awsString(table), Item: item}
		switch {
		case prev.Put != nil:
			p.ConditionExpression = prev.Put.ConditionExpression
			p.ExpressionAttributeValues = prev.Put.ExpressionAttributeValues
		case prev.Delete != nil:
			p.ConditionExpression = prev.Delete.ConditionExpression
			p.ExpressionAttributeValues = prev.Delete.ExpressionAttributeValues
		}
		t.writes[i] = types.TransactWriteItem{Put: p}
		return
	}
	t.pending[k] = len(t.writes)
	t.writes = append(t.writes, types.TransactWriteItem{Put: &types.Put{
		TableName:                 awsString(table),
		Item:                      item,
		ConditionExpression:       cond,
		ExpressionAttributeValues: values,
	}})
}

func (t *txn) del(table string, key map[string]types.AttributeValue, id int64, cond *string, values map[string]types.AttributeValue) {
	k := table + "/" + strconv.FormatInt(id, 10)
	d := &types.Delete{
		TableName:                 awsString(table),
		Key:                       key,
		ConditionExpression:       cond,
		ExpressionAttributeValues: values,
	}
	if i, ok := t.pending[k]; ok {
		prev := t.writes[i]
		if prev.Put != nil && prev.Put.ConditionExpression != nil && *prev.Put.ConditionExpression == "attribute_not_exists(order_id)" {
			// created and removed in the same unit: nothing to write
			d = &types.Delete{TableName: awsString(table), Key: key}
		}
		t.writes[i] = types.TransactWriteItem{Delete: d}
		return
	}
	t.pending[k] = len(t.writes)
	t.writes = append(t.writes, types.TransactWriteItem{Delete: d})
}

func (t *txn) commit(ctx context.Context) error {
	for start := 0; start < len(t.writes); start += maxTransactItems {
		end := min(start+maxTransactItems, len(t.writes))
		_, err := t.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: t.writes[start:end],
		})
		if err != nil {
			var tce *types.TransactionCanceledException
			if errors.As(err, &tce) {
				return orders.Conflict("order was modified concurrently", err)
			}
			return fmt.Errorf("transact write: %w", err)
		}
	}
	return nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
