package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-customer-orders/internal/idempotency"
	"github.com/imrishuroy/go-customer-orders/internal/logger"
	"github.com/imrishuroy/go-customer-orders/internal/orders"
)

// Reconciler is the part of *orders.Service the worker drives.
type Reconciler interface {
	ReconcileTotals(ctx context.Context, orderID int64) (bool, error)
}

// Deduper remembers which events were already handled. *idempotency.Store
// satisfies it.
type Deduper interface {
	CreateIfNotExists(ctx context.Context, key, requestHash string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, resourceID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
	Reclaim(ctx context.Context, key string) (bool, error)
}

// Processor handles SQS batches of order events.
type Processor struct {
	svc    Reconciler
	dedupe Deduper // optional
	log    *logger.Logger
}

func NewProcessor(svc Reconciler, dedupe Deduper, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{svc: svc, dedupe: dedupe, log: log.With("component", "worker")}
}

// Handle processes each record and reports the ones that failed, so SQS
// retries only those. After too many receives a message goes to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	p.log.Debug("received SQS batch", "records", len(ev.Records))
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Error("worker error", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev orders.Event
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if !reconcileOn[ev.Type] {
		p.log.Debug("ignoring event", "type", ev.Type, "event_id", ev.ID)
		return nil
	}
	if ev.OrderID == 0 {
		return fmt.Errorf("event %s (%s) has no order_id", ev.ID, ev.Type)
	}

	key := idempotency.ScopedKey("worker", ev.ID)
	if p.dedupe != nil && ev.ID != "" {
		proceed, err := p.claim(ctx, key, ev.Type)
		if err != nil || !proceed {
			return err
		}
	}

	fixed, err := p.svc.ReconcileTotals(ctx, ev.OrderID)
	switch {
	case orders.IsKind(err, orders.KindNotFound):
		// deleted since the event was sent
		p.log.Info("order no longer exists", "order_id", ev.OrderID, "event_id", ev.ID)
		err = nil
	case err != nil:
		p.finish(ctx, key, ev, err, false)
		return fmt.Errorf("reconcile order %d: %w", ev.OrderID, err)
	case fixed:
		p.log.Warn("corrected drifted order totals", "order_id", ev.OrderID, "event_id", ev.ID)
	}
	p.finish(ctx, key, ev, nil, fixed)
	return nil
}

// claim reports whether this delivery should do the work. A duplicate of a
// finished event is skipped; one still in flight elsewhere is retried later.
func (p *Processor) claim(ctx context.Context, key, eventType string) (bool, error) {
	created, err := p.dedupe.CreateIfNotExists(ctx, key, eventType)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	if created {
		return true, nil
	}
	rec, err := p.dedupe.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lookup event: %w", err)
	}
	switch {
	case rec == nil:
		return false, fmt.Errorf("event record %s vanished", key)
	case rec.Status == idempotency.StatusDone:
		p.log.Info("duplicate event already processed", "key", key)
		return false, nil
	case rec.Status == idempotency.StatusFailed:
		ok, err := p.dedupe.Reclaim(ctx, key)
		if err != nil {
			return false, fmt.Errorf("reclaim event: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, fmt.Errorf("event %s is being processed by another worker", key)
}

func (p *Processor) finish(ctx context.Context, key string, ev orders.Event, procErr error, fixed bool) {
	if p.dedupe == nil || ev.ID == "" {
		return
	}
	if procErr != nil {
		if err := p.dedupe.MarkFailed(ctx, key, procErr.Error()); err != nil {
			p.log.Warn("mark event failed", "key", key, "error", err)
		}
		return
	}
	outcome := "unchanged"
	if fixed {
		outcome = "corrected"
	}
	if err := p.dedupe.MarkDone(ctx, key, strconv.FormatInt(ev.OrderID, 10), outcome, http.StatusOK); err != nil {
		p.log.Warn("mark event done", "key", key, "error", err)
	}
}
