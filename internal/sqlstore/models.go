package sqlstore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// money is a decimal column wide enough for every derived total. SQLite
// keeps it as text, since NUMERIC affinity would turn it into a float.
type money struct {
	decimal.Decimal
}

func (money) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return fmt.Sprintf("numeric(30,%d)", orders.TotalScale)
}

type customerRow struct {
	CustomerID  int64  `gorm:"primaryKey;autoIncrement:false"`
	FirstName   string `gorm:"size:255;index"`
	LastName    string `gorm:"size:255;index"`
	ShipToState string `gorm:"size:2"`

	Orders []orderRow `gorm:"foreignKey:CustomerID;references:CustomerID;constraint:OnDelete:CASCADE"`
}

func (customerRow) TableName() string { return "customer" }

type orderRow struct {
	OrderID       int64     `gorm:"primaryKey;autoIncrement:false"`
	CustomerID    int64     `gorm:"not null;index"`
	Product       string    `gorm:"size:255;index"`
	CreationDate  time.Time `gorm:"not null"`
	ItemTotal     money     `gorm:"not null"`
	TaxTotal      money     `gorm:"not null"`
	ShippingTotal money     `gorm:"not null"`
	GrandTotal    money     `gorm:"not null"`

	Items []itemRow `gorm:"foreignKey:OrderID;references:OrderID;constraint:OnDelete:CASCADE"`
}

func (orderRow) TableName() string { return "order_header" }

type itemRow struct {
	ItemID      int64  `gorm:"primaryKey;autoIncrement:false"`
	OrderID     int64  `gorm:"not null;index"`
	ProductName string `gorm:"size:255;index"`
	Quantity    int64  `gorm:"not null"`
	UnitPrice   money  `gorm:"not null"`
	ItemTotal   money  `gorm:"not null"`
}

func (itemRow) TableName() string { return "order_item" }

type sequenceRow struct {
	Name      string `gorm:"primaryKey;size:32"`
	NextValue int64  `gorm:"not null"`
}

func (sequenceRow) TableName() string { return "id_sequence" }

func customerFromRow(r customerRow) orders.Customer {
	return orders.Customer{
		ID:          r.CustomerID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		ShipToState: r.ShipToState,
	}
}

func customerToRow(c *orders.Customer) customerRow {
	return customerRow{
		CustomerID:  c.ID,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		ShipToState: c.ShipToState,
	}
}

func orderFromRow(r orderRow) orders.Order {
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

func orderToRow(o *orders.Order) orderRow {
	return orderRow{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		Product:       o.Product,
		CreationDate:  o.CreationDate.UTC(),
		ItemTotal:     money{o.ItemTotal},
		TaxTotal:      money{o.TaxTotal},
		ShippingTotal: money{o.ShippingTotal},
		GrandTotal:    money{o.GrandTotal},
	}
}

func itemFromRow(r itemRow) orders.Item {
	return orders.Item{
		ID:          r.ItemID,
		OrderID:     r.OrderID,
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice.Decimal,
		ItemTotal:   r.ItemTotal.Decimal,
	}
}

func itemToRow(it *orders.Item) itemRow {
	return itemRow{
		ItemID:      it.ID,
		OrderID:     it.OrderID,
		ProductName: it.ProductName,
		Quantity:    it.Quantity,
		UnitPrice:   money{it.UnitPrice},
		ItemTotal:   money{it.ItemTotal},
	}
}
