package main

import "github.com/imrishuroy/go-customer-orders/internal/orders"

// reconcileOn lists the event types after which an order's stored totals are
// checked against its items. Deletes have nothing left to check, and the
// worker's own order.reconciled events are ignored so they cannot loop.
var reconcileOn = map[string]bool{
	orders.EventOrderCreated:    true,
	orders.EventOrderUpdated:    true,
	orders.EventOrderRecomputed: true,
	orders.EventItemAdded:       true,
	orders.EventItemUpdated:     true,
	orders.EventItemRemoved:     true,
}

// defaultLocalBody is processed when RUN_LOCAL=true and LOCAL_SQS_BODY is unset.
const defaultLocalBody = `{"event_id":"local-event-1","type":"order.recomputed","order_id":1}`
