package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imrishuroy/go-customer-orders/internal/aws"
	"github.com/imrishuroy/go-customer-orders/internal/config"
	"github.com/imrishuroy/go-customer-orders/internal/dynamostore"
	"github.com/imrishuroy/go-customer-orders/internal/idempotency"
	"github.com/imrishuroy/go-customer-orders/internal/kafka"
	"github.com/imrishuroy/go-customer-orders/internal/logger"
	"github.com/imrishuroy/go-customer-orders/internal/orders"
	"github.com/imrishuroy/go-customer-orders/internal/redislock"
	"github.com/imrishuroy/go-customer-orders/internal/seed"
	"github.com/imrishuroy/go-customer-orders/internal/sqlstore"
)

// App holds the wired service and the resources that must be released on
// shutdown.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Service *orders.Service
	Seeder  *seed.Seeder
	// Idempotency is nil unless an idempotency table is configured.
	Idempotency *idempotency.Store

	aws     *aws.AWSClients
	closers []func(context.Context) error
}

// New builds the repository, locker, publisher and hooks selected by cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Log: log}
	if err := a.wire(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}
	hooks, err := a.hooks(ctx)
	if err != nil {
		return err
	}

	store := orders.NewStore(repo, a.Log)
	a.Service = orders.NewService(store, a.Log,
		orders.WithLocker(locker),
		orders.WithPublisher(pub),
		orders.WithHooks(hooks),
	)
	a.Seeder = seed.New(a.Service, a.Log)

	if t := cfg.DynamoDB.IdempotencyTable; t != "" {
		clients, err := a.awsClients(ctx)
		if err != nil {
			return err
		}
		a.Idempotency = idempotency.NewStore(clients.DynamoDB, t, cfg.DynamoDB.IdempotencyTTL)
	}

	if cfg.Seed.OnEmpty {
		seeded, err := a.Seeder.SeedIfEmpty(ctx)
		if err != nil {
			return fmt.Errorf("seed sample data: %w", err)
		}
		if seeded {
			a.Log.Info("loaded sample data into empty store")
		}
	}
	return nil
}

func (a *App) awsClients(ctx context.Context) (*aws.AWSClients, error) {
	if a.aws != nil {
		return a.aws, nil
	}
	clients, err := aws.NewAWSClients(ctx, aws.Options{
		Region:           a.Config.AWS.Region,
		EndpointOverride: a.Config.AWS.EndpointOverride,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init aws clients: %w", err)
	}
	a.aws = clients
	return clients, nil
}

func (a *App) repository(ctx context.Context) (orders.Repository, error) {
	cfg := a.Config
	switch strings.ToLower(cfg.Storage.Backend) {
	case "dynamodb":
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		a.Log.Info("using dynamodb storage", "orders_table", cfg.DynamoDB.OrdersTable)
		return dynamostore.NewRepository(clients.DynamoDB, dynamostore.Tables{
			Customers: cfg.DynamoDB.CustomersTable,
			Orders:    cfg.DynamoDB.OrdersTable,
			Items:     cfg.DynamoDB.ItemsTable,
			Counters:  cfg.DynamoDB.CountersTable,
		}), nil
	default:
		db, err := sqlstore.Open(sqlstore.Config{
			Driver:   cfg.Database.Driver,
			DSN:      cfg.Database.DSN,
			LogLevel: cfg.Database.LogLevel,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlstore.Close(db) })
		a.Log.Info("using sql storage", "driver", cfg.Database.Driver)
		return sqlstore.NewRepository(db), nil
	}
}

func (a *App) locker(ctx context.Context) (orders.Locker, error) {
	cfg := a.Config
	if !strings.EqualFold(cfg.Lock.Backend, "redis") {
		return orders.NewLocalLocker(), nil
	}
	rdb, err := redislock.Dial(ctx, cfg.Lock.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	a.Log.Info("using redis order locks", "addr", cfg.Lock.RedisAddr)
	return redislock.New(rdb, redislock.Options{TTL: cfg.Lock.TTL}, a.Log), nil
}

func (a *App) publisher(ctx context.Context) (orders.Publisher, error) {
	cfg := a.Config
	switch cfg.EventsBackend() {
	case "sqs":
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		a.Log.Info("publishing events to sqs", "queue_url", cfg.Events.QueueURL)
		return aws.NewPublisher(clients.SQS, cfg.Events.QueueURL), nil
	case "kafka":
		p, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		a.Log.Info("publishing events to kafka", "topic", cfg.Kafka.Topic)
		return p, nil
	default:
		return nil, nil
	}
}

func (a *App) hooks(ctx context.Context) (orders.Hooks, error) {
	cfg := a.Config
	if !strings.EqualFold(cfg.Metrics.Backend, "cloudwatch") {
		return nil, nil
	}
	clients, err := a.awsClients(ctx)
	if err != nil {
		return nil, err
	}
	m := aws.NewMetricsHooks(clients.CloudWatch, cfg.Metrics.Namespace, cfg.Metrics.Interval, a.Log)
	a.closers = append(a.closers, m.Close)
	return m, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
