package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-customer-orders/internal/logger"
	"github.com/imrishuroy/go-customer-orders/internal/orders"
	"github.com/imrishuroy/go-customer-orders/internal/validation"
)

// Reseeder wipes and reloads the sample data.
type Reseeder interface {
	Recreate(ctx context.Context) error
}

// Config groups dependencies for the API routes.
type Config struct {
	Service *orders.Service
	// Idempotency enables Idempotency-Key handling on create routes when set.
	Idempotency IdempotencyStore
	// Seeder enables POST /orders/recreate-database when set.
	Seeder Reseeder
	Logger *logger.Logger
}

type handler struct {
	svc   *orders.Service
	store *orders.Store
	v     *validatorv10.Validate
	log   *logger.Logger
}

// Register mounts the customer, order and item routes on r.
func Register(r gin.IRouter, cfg Config) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	h := &handler{
		svc:   cfg.Service,
		store: cfg.Service.Store(),
		v:     validation.New(),
		log:   log.With("component", "handlers"),
	}
	idem := Idempotent(cfg.Idempotency, h.log)

	customers := r.Group("/customers")
	customers.GET("", h.listCustomers)
	customers.POST("", idem, h.createCustomer)
	customers.GET("/:id", h.getCustomer)
	customers.PUT("/:id", h.updateCustomer)
	customers.DELETE("/:id", h.deleteCustomer)
	customers.GET("/:id/orders", h.customerOrders)
	customers.POST("/:id/create-order", idem, h.createOrder)

	ordersGroup := r.Group("/orders")
	ordersGroup.GET("", h.listOrders)
	ordersGroup.GET("/:id", h.getOrder)
	ordersGroup.PUT("/:id", h.updateOrder)
	ordersGroup.DELETE("/:id", h.deleteOrder)
	ordersGroup.POST("/:id/create-item", idem, h.createItem)
	ordersGroup.POST("/:id/recompute", h.recompute)
	if cfg.Seeder != nil {
		ordersGroup.POST("/recreate-database", h.recreate(cfg.Seeder))
	}

	items := r.Group("/items")
	items.GET("", h.listItems)
	items.GET("/:id", h.getItem)
	items.PUT("/:id", h.updateItem)
	items.DELETE("/:id", h.deleteItem)
}
