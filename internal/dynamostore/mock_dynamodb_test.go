package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory stand-in for the DynamoDB operations the
// repository issues. It stores items per table: table -> pk value -> item.
type mockDynamo struct {
	mu       sync.Mutex
	keys     map[string]string // table -> partition key attribute
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int

	transactCalls int
	// beforeTransact runs with the lock held, before conditions are checked.
	beforeTransact func()
}

var testTables = Tables{Customers: "customers", Orders: "orders", Items: "items", Counters: "counters"}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		keys: map[string]string{
			testTables.Customers: "customer_id",
			testTables.Orders:    "order_id",
			testTables.Items:     "item_id",
			testTables.Counters:  "name",
		},
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) ensureTable(tbl string) {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
}

func attrString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func (m *mockDynamo) pk(table string, item map[string]types.AttributeValue) (string, error) {
	name, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("unknown table %s", table)
	}
	v, ok := item[name]
	if !ok {
		return "", errors.New("no primary key in item")
	}
	return attrString(v), nil
}

func (m *mockDynamo) count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pk(table, params.Item)
	if err != nil {
		return nil, err
	}
	m.tables[table][pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

// UpdateItem only understands the counter increment.
func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.UpdateExpression == nil || *params.UpdateExpression != "SET next_value = if_not_exists(next_value, :start) + :inc" {
		return nil, errors.New("unsupported update expression")
	}
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		item = map[string]types.AttributeValue{m.keys[table]: params.Key[m.keys[table]]}
	}
	cur, err := strconv.ParseInt(attrString(params.ExpressionAttributeValues[":start"]), 10, 64)
	if err != nil {
		return nil, err
	}
	if v, ok := item["next_value"]; ok {
		cur, _ = strconv.ParseInt(attrString(v), 10, 64)
	}
	inc, _ := strconv.ParseInt(attrString(params.ExpressionAttributeValues[":inc"]), 10, 64)
	next := &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+inc, 10)}
	item["next_value"] = next
	m.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"next_value": next}}, nil
}

// Scan evaluates filters of the form "#f0 = :v0 AND #f1 = :v1" and pages
// through results pageSize at a time when pageSize is set.
func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)

	pks := make([]string, 0, len(m.tables[table]))
	for pk := range m.tables[table] {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	start := 0
	if params.ExclusiveStartKey != nil {
		last, err := m.pk(table, params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(pks, last) + 1
	}

	out := &dyn.ScanOutput{}
	for i := start; i < len(pks); i++ {
		if m.pageSize > 0 && i-start == m.pageSize {
			keyName := m.keys[table]
			out.LastEvaluatedKey = map[string]types.AttributeValue{keyName: m.tables[table][pks[i-1]][keyName]}
			break
		}
		item := m.tables[table][pks[i]]
		ok, err := matches(item, params)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func matches(item map[string]types.AttributeValue, params *dyn.ScanInput) (bool, error) {
	if params.FilterExpression == nil {
		return true, nil
	}
	for _, clause := range strings.Split(*params.FilterExpression, " AND ") {
		parts := strings.Split(clause, " = ")
		if len(parts) != 2 {
			return false, fmt.Errorf("unsupported filter %q", clause)
		}
		attr := params.ExpressionAttributeNames[parts[0]]
		want := params.ExpressionAttributeValues[parts[1]]
		got, ok := item[attr]
		if !ok || attrString(got) != attrString(want) {
			return false, nil
		}
	}
	return true, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	if m.beforeTransact != nil {
		m.beforeTransact()
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, errors.New("too many transact items")
	}

	// First pass: verify condition expressions
	seen := map[string]bool{}
	for _, it := range params.TransactItems {
		var (
			table  string
			key    map[string]types.AttributeValue
			cond   *string
			values map[string]types.AttributeValue
		)
		switch {
		case it.Put != nil:
			table, key, cond, values = *it.Put.TableName, it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeValues
		case it.Delete != nil:
			table, key, cond, values = *it.Delete.TableName, it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeValues
		default:
			return nil, errors.New("unsupported transact item")
		}
		m.ensureTable(table)
		pk, err := m.pk(table, key)
		if err != nil {
			return nil, err
		}
		if seen[table+"/"+pk] {
			return nil, errors.New("transaction touches the same item twice")
		}
		seen[table+"/"+pk] = true
		if cond == nil {
			continue
		}
		existing, exists := m.tables[table][pk]
		switch {
		case strings.HasPrefix(*cond, "attribute_not_exists("):
			if exists {
				return nil, &types.TransactionCanceledException{}
			}
		case *cond == "version = :expected":
			if !exists || attrString(existing["version"]) != attrString(values[":expected"]) {
				return nil, &types.TransactionCanceledException{}
			}
		default:
			return nil, fmt.Errorf("unsupported condition %q", *cond)
		}
	}
	// Second pass: apply all writes
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			pk, _ := m.pk(*p.TableName, p.Item)
			m.tables[*p.TableName][pk] = p.Item
		}
		if d := it.Delete; d != nil {
			pk, _ := m.pk(*d.TableName, d.Key)
			delete(m.tables[*d.TableName], pk)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
