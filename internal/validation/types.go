package validation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// CreateCustomerRequest is the payload for POST /customers
type CreateCustomerRequest struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	ShipToState string `json:"ship_to_state" validate:"required,len=2,alpha"` // upper-cased on store
}

// CreateItemRequest is the payload for POST /orders/:id/create-item and the
// elements of CreateOrderRequest.Items.
type CreateItemRequest struct {
	ProductName string           `json:"product_name" validate:"max=200"`
	Quantity    *int64           `json:"quantity,omitempty" validate:"omitempty,min=1"`    // defaults to 1
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty" validate:"omitempty,gte=0"` // defaults to 0
}

// CreateOrderRequest is the payload for POST /customers/:id/create-order
type CreateOrderRequest struct {
	Product       string              `json:"product" validate:"max=200"`
	CreationDate  *time.Time          `json:"creation_date,omitempty"` // defaults to now
	ShippingTotal decimal.Decimal     `json:"shipping_total" validate:"gte=0"`
	Items         []CreateItemRequest `json:"items,omitempty" validate:"omitempty,dive"`
}

func (r CreateCustomerRequest) Input() orders.CustomerInput {
	return orders.CustomerInput{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		ShipToState: r.ShipToState,
	}
}

func (r CreateItemRequest) Input() orders.ItemInput {
	return orders.ItemInput{
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
	}
}

func (r CreateOrderRequest) Input() (orders.OrderInput, []orders.ItemInput) {
	items := make([]orders.ItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, it.Input())
	}
	return orders.OrderInput{
		Product:       r.Product,
		CreationDate:  r.CreationDate,
		ShippingTotal: r.ShippingTotal,
	}, items
}
