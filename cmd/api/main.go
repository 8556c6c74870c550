package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-customer-orders/internal/app"
	"github.com/imrishuroy/go-customer-orders/internal/config"
	"github.com/imrishuroy/go-customer-orders/internal/handlers"
	"github.com/imrishuroy/go-customer-orders/internal/logger"
	"github.com/imrishuroy/go-customer-orders/internal/middleware"
)

func setupRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(a.Log))
	r.Use(middleware.CORS(a.Config.HTTP.CORSOrigins))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hcfg := handlers.Config{
		Service: a.Service,
		Logger:  a.Log,
	}
	// keep the interface nil when idempotency is disabled
	if a.Idempotency != nil {
		hcfg.Idempotency = a.Idempotency
	}
	if a.Config.Seed.AllowRecreate {
		hcfg.Seeder = a.Seeder
	}
	handlers.Register(r, hcfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
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

	if cfg.Log.Mode == "prod" || cfg.Log.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := setupRouter(a)

	// RUN_LOCAL=true runs a plain HTTP server for development.
	if cfg.RunLocal {
		lg.Info("running local server", "addr", cfg.HTTP.Addr)
		if err := r.Run(cfg.HTTP.Addr); err != nil {
			lg.Error("local server stopped", "error", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
