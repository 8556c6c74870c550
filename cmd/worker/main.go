package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-customer-orders/internal/app"
	"github.com/imrishuroy/go-customer-orders/internal/config"
	"github.com/imrishuroy/go-customer-orders/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// the worker only reacts to changes, it never loads sample data
	cfg.Seed.OnEmpty = false

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer lg.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to wire application", "error", err)
	}
	defer a.Close(ctx)

	var dedupe Deduper
	if a.Idempotency != nil {
		dedupe = a.Idempotency
	}
	p := NewProcessor(a.Service, dedupe, lg)

	// If RUN_LOCAL=true, process a single simulated SQS event and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = defaultLocalBody
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: body},
			},
		}
		resp, _ := p.Handle(ctx, event)
		if len(resp.BatchItemFailures) > 0 {
			lg.Error("local event failed", "message_id", resp.BatchItemFailures[0].ItemIdentifier)
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
