package orders

import "github.com/shopspring/decimal"

// TaxRate applies to item total plus shipping.
var TaxRate = decimal.RequireFromString("0.075")

// Money inputs are kept at PriceScale places. The tax rate adds three, so
// every derived total fits in TotalScale places without rounding.
const (
	PriceScale int32 = 6
	TotalScale int32 = 9
)

// NormalizeMoney rounds a caller-supplied amount to PriceScale places.
func NormalizeMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// ItemTotal is quantity * unit price.
func ItemTotal(quantity int64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity))
}

// OrderItemTotal sums freshly computed item totals, ignoring whatever is
// stored on the items.
func OrderItemTotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(ItemTotal(it.Quantity, it.UnitPrice))
	}
	return sum
}

func TaxTotal(orderItemTotal, shippingTotal decimal.Decimal) decimal.Decimal {
	return orderItemTotal.Add(shippingTotal).Mul(TaxRate)
}

func GrandTotal(orderItemTotal, shippingTotal, taxTotal decimal.Decimal) decimal.Decimal {
	return orderItemTotal.Add(shippingTotal).Add(taxTotal)
}

// Recalculate refreshes every derived field of the aggregate from its
// current items and shipping total.
func (o *Order) Recalculate() {
	for i := range o.Items {
		o.Items[i].Recalculate()
	}
	o.ItemTotal = OrderItemTotal(o.Items)
	o.TaxTotal = TaxTotal(o.ItemTotal, o.ShippingTotal)
	o.GrandTotal = GrandTotal(o.ItemTotal, o.ShippingTotal, o.TaxTotal)
}

func (it *Item) Recalculate() {
	it.ItemTotal = ItemTotal(it.Quantity, it.UnitPrice)
}

// totalsEqual reports whether the stored derived fields of a and b match.
func totalsEqual(a, b *Order) bool {
	if !a.ItemTotal.Equal(b.ItemTotal) || !a.TaxTotal.Equal(b.TaxTotal) || !a.GrandTotal.Equal(b.GrandTotal) {
		return false
	}
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if !a.Items[i].ItemTotal.Equal(b.Items[i].ItemTotal) {
			return false
		}
	}
	return true
}
