package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// money goes over the wire as a JSON number
	decimal.MarshalJSONWithoutQuotes = true
}

// Customer owns zero or more orders. Orders is only populated on single-customer reads.
type Customer struct {
	ID          int64   `json:"customer_id"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	ShipToState string  `json:"ship_to_state"`
	Orders      []Order `json:"orders,omitempty"`
}

// FullName is derived and never stored.
func (c Customer) FullName() string {
	return c.FirstName + " " + c.LastName
}

// MarshalJSON adds full_name to the encoded customer.
func (c Customer) MarshalJSON() ([]byte, error) {
	type plain Customer
	return json.Marshal(struct {
		plain
		FullName string `json:"full_name"`
	}{plain: plain(c), FullName: c.FullName()})
}

// Order is the aggregate root: an order header together with its items.
// ItemTotal, TaxTotal and GrandTotal are derived; see Recalculate.
type Order struct {
	ID            int64           `json:"order_id"`
	CustomerID    int64           `json:"customer_id"`
	Product       string          `json:"product"`
	CreationDate  time.Time       `json:"creation_date"`
	ItemTotal     decimal.Decimal `json:"item_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	ShippingTotal decimal.Decimal `json:"shipping_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Items         []Item          `json:"items"`
}

// Item is a single order line. ItemTotal is derived.
type Item struct {
	ID          int64           `json:"item_id"`
	OrderID     int64           `json:"order_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ItemTotal   decimal.Decimal `json:"item_total"`
}

// CustomerInput carries the writable fields of a new customer.
type CustomerInput struct {
	FirstName   string
	LastName    string
	ShipToState string
}

// OrderInput carries the writable fields of a new order.
// A nil CreationDate defaults to the current UTC time.
type OrderInput struct {
	Product       string
	CreationDate  *time.Time
	ShippingTotal decimal.Decimal
}

// ItemInput carries the writable fields of a new item.
// Nil Quantity defaults to 1 and nil UnitPrice to 0.
type ItemInput struct {
	ProductName string
	Quantity    *int64
	UnitPrice   *decimal.Decimal
}

// Filters are conjunctive; zero values place no constraint.
type CustomerFilter struct {
	FirstName string
	LastName  string
}

type OrderFilter struct {
	Product    string
	CustomerID int64
}

type ItemFilter struct {
	Product string
	OrderID int64
}

// Sequence names an id sequence.
type Sequence string

const (
	SequenceCustomer Sequence = "customer"
	SequenceOrder    Sequence = "order"
	SequenceItem     Sequence = "item"
)

// Start is the first id handed out by the sequence.
func (s Sequence) Start() int64 {
	if s == SequenceItem {
		return 100
	}
	return 1
}

// Sequences lists every sequence a repository must provide.
var Sequences = []Sequence{SequenceCustomer, SequenceOrder, SequenceItem}
