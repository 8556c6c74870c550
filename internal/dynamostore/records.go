package dynamostore

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// money stores a decimal as a DynamoDB number without going through float64.
type money struct {
	decimal.Decimal
}

func (m money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.Decimal.String()}, nil
}

func (m *money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		d, err := decimal.NewFromString(v.Value)
		if err != nil {
			return fmt.Errorf("parse money %q: %w", v.Value, err)
		}
		m.Decimal = d
	case *types.AttributeValueMemberS:
		d, err := decimal.NewFromString(v.Value)
		if err != nil {
			return fmt.Errorf("parse money %q: %w", v.Value, err)
		}
		m.Decimal = d
	case *types.AttributeValueMemberNULL:
		m.Decimal = decimal.Zero
	default:
		return fmt.Errorf("unsupported money attribute %T", av)
	}
	return nil
}

type customerRecord struct {
	CustomerID  int64  `dynamodbav:"customer_id"`
	FirstName   string `dynamodbav:"first_name"`
	LastName    string `dynamodbav:"last_name"`
	ShipToState string `dynamodbav:"ship_to_state"`
}

type orderRecord struct {
	OrderID       int64     `dynamodbav:"order_id"`
	CustomerID    int64     `dynamodbav:"customer_id"`
	Product       string    `dynamodbav:"product"`
	CreationDate  time.Time `dynamodbav:"creation_date"`
	ItemTotal     money     `dynamodbav:"item_total"`
	TaxTotal      money     `dynamodbav:"tax_total"`
	ShippingTotal money     `dynamodbav:"shipping_total"`
	GrandTotal    money     `dynamodbav:"grand_total"`
	Version       int64     `dynamodbav:"version"`
}

type itemRecord struct {
	ItemID      int64  `dynamodbav:"item_id"`
	OrderID     int64  `dynamodbav:"order_id"`
	ProductName string `dynamodbav:"product_name"`
	Quantity    int64  `dynamodbav:"quantity"`
	UnitPrice   money  `dynamodbav:"unit_price"`
	ItemTotal   money  `dynamodbav:"item_total"`
}

func (r customerRecord) customer() orders.Customer {
	return orders.Customer{
		ID:          r.CustomerID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		ShipToState: r.ShipToState,
	}
}

func (r orderRecord) order() orders.Order {
	return orders.Order{
		ID:            r.OrderID,
		CustomerID:    r.CustomerID,
		Product:       r.Product,
		CreationDate:  r.CreationDate.UTC(),
		ItemTotal:     r.ItemTotal.Decimal,
		TaxTotal:      r.TaxTotal.Decimal,
		ShippingTotal: r.ShippingTotal.Decimal,
		GrandTotal:    r.GrandTotal.Decimal,
	}
}

func (r itemRecord) item() orders.Item {
	return orders.Item{
		ID:          r.ItemID,
		OrderID:     r.OrderID,
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice.Decimal,
		ItemTotal:   r.ItemTotal.Decimal,
	}
}

func newCustomerRecord(c *orders.Customer) customerRecord {
	return customerRecord{
		CustomerID:  c.ID,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		ShipToState: c.ShipToState,
	}
}

func newOrderRecord(o *orders.Order, version int64) orderRecord {
	return orderRecord{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		Product:       o.Product,
		CreationDate:  o.CreationDate.UTC(),
		ItemTotal:     money{o.ItemTotal},
		TaxTotal:      money{o.TaxTotal},
		ShippingTotal: money{o.ShippingTotal},
		GrandTotal:    money{o.GrandTotal},
		Version:       version,
	}
}

func newItemRecord(it *orders.Item) itemRecord {
	return itemRecord{
		ItemID:      it.ID,
		OrderID:     it.OrderID,
		ProductName: it.ProductName,
		Quantity:    it.Quantity,
		UnitPrice:   money{it.UnitPrice},
		ItemTotal:   money{it.ItemTotal},
	}
}
