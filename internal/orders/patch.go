package orders

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerPatch lists the customer fields a caller may overwrite.
type CustomerPatch struct {
	FirstName   *string
	LastName    *string
	ShipToState *string
}

type OrderPatch struct {
	Product       *string
	CreationDate  *time.Time
	ShippingTotal *decimal.Decimal
}

type ItemPatch struct {
	ProductName *string
	Quantity    *int64
	UnitPrice   *decimal.Decimal
}

// Fields that exist on the wire but are never writable through a patch.
var (
	customerReadOnly = []string{"customer_id", "full_name", "orders"}
	orderReadOnly    = []string{"order_id", "customer_id", "item_total", "tax_total", "grand_total", "items"}
	itemReadOnly     = []string{"item_id", "order_id", "item_total"}
)

// DecodeCustomerPatch builds a CustomerPatch from a raw JSON field map.
func DecodeCustomerPatch(fields map[string]json.RawMessage) (CustomerPatch, error) {
	var p CustomerPatch
	err := decodePatch(EntityCustomer, fields, customerReadOnly, map[string]any{
		"first_name":    &p.FirstName,
		"last_name":     &p.LastName,
		"ship_to_state": &p.ShipToState,
	})
	return p, err
}

func DecodeOrderPatch(fields map[string]json.RawMessage) (OrderPatch, error) {
	var p OrderPatch
	err := decodePatch(EntityOrder, fields, orderReadOnly, map[string]any{
		"product":        &p.Product,
		"creation_date":  &p.CreationDate,
		"shipping_total": &p.ShippingTotal,
	})
	return p, err
}

func DecodeItemPatch(fields map[string]json.RawMessage) (ItemPatch, error) {
	var p ItemPatch
	err := decodePatch(EntityItem, fields, itemReadOnly, map[string]any{
		"product_name": &p.ProductName,
		"quantity":     &p.Quantity,
		"unit_price":   &p.UnitPrice,
	})
	return p, err
}

func decodePatch(entity string, fields map[string]json.RawMessage, readOnly []string, writable map[string]any) error {
	for name, raw := range fields {
		target, ok := writable[name]
		if !ok {
			for _, ro := range readOnly {
				if ro == name {
					return IllegalFieldWrite(entity, name, "is server-managed and cannot be written")
				}
			}
			return IllegalFieldWrite(entity, name, "is not a writable field")
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return Validation(name, "invalid value for %q: %v", name, err)
		}
	}
	return nil
}

func (p CustomerPatch) validate() error {
	if p.ShipToState != nil && len(strings.TrimSpace(*p.ShipToState)) != 2 {
		return Validation("ship_to_state", "ship_to_state must be a two-letter state code")
	}
	return nil
}

func (p CustomerPatch) apply(c *Customer) {
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.ShipToState != nil {
		c.ShipToState = strings.ToUpper(strings.TrimSpace(*p.ShipToState))
	}
}

func (p OrderPatch) validate() error {
	if p.ShippingTotal != nil && p.ShippingTotal.IsNegative() {
		return Validation("shipping_total", "shipping_total must not be negative")
	}
	return nil
}

func (p OrderPatch) apply(o *Order) {
	if p.Product != nil {
		o.Product = *p.Product
	}
	if p.CreationDate != nil {
		o.CreationDate = p.CreationDate.UTC()
	}
	if p.ShippingTotal != nil {
		o.ShippingTotal = NormalizeMoney(*p.ShippingTotal)
	}
}

func (p ItemPatch) validate() error {
	if p.Quantity != nil && *p.Quantity < 1 {
		return Validation("quantity", "quantity must be a positive integer")
	}
	if p.UnitPrice != nil && p.UnitPrice.IsNegative() {
		return Validation("unit_price", "unit_price must not be negative")
	}
	return nil
}

func (p ItemPatch) apply(it *Item) {
	if p.ProductName != nil {
		it.ProductName = *p.ProductName
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
	}
	if p.UnitPrice != nil {
		it.UnitPrice = NormalizeMoney(*p.UnitPrice)
	}
}

func (in ItemInput) build() (Item, error) {
	it := Item{ProductName: in.ProductName, Quantity: 1, UnitPrice: decimal.Zero}
	if in.Quantity != nil {
		it.Quantity = *in.Quantity
	}
	if in.UnitPrice != nil {
		it.UnitPrice = NormalizeMoney(*in.UnitPrice)
	}
	if it.Quantity < 1 {
		return Item{}, Validation("quantity", "quantity must be a positive integer")
	}
	if it.UnitPrice.IsNegative() {
		return Item{}, Validation("unit_price", "unit_price must not be negative")
	}
	it.Recalculate()
	return it, nil
}

func (in OrderInput) validate() error {
	if in.ShippingTotal.IsNegative() {
		return Validation("shipping_total", "shipping_total must not be negative")
	}
	return nil
}

func (in CustomerInput) validate() error {
	if len(strings.TrimSpace(in.ShipToState)) != 2 {
		return Validation("ship_to_state", "ship_to_state must be a two-letter state code")
	}
	return nil
}
