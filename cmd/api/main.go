package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-fulfillment/internal/api"
	"github.com/example/ec-fulfillment/internal/auth"
	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/command"
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/cart"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/payment"
	"github.com/example/ec-fulfillment/internal/email"
	"github.com/example/ec-fulfillment/internal/gateway"
	"github.com/example/ec-fulfillment/internal/infrastructure/kafka"
	"github.com/example/ec-fulfillment/internal/infrastructure/redisx"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/observability"
	"github.com/example/ec-fulfillment/internal/query"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		Stdout:      cfg.OTelStdout,
		SampleRatio: cfg.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Movement events go to Kafka when brokers are configured.
	var publisher store.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.MovementTopic, logger)
		defer producer.Close()
		publisher = producer
	}

	records, events, closeStores, err := openStores(ctx, cfg, publisher, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	var dedup payment.Deduper
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		dedup = redisx.NewDeduper(rdb, "webhook", redisx.TTLDedup)
	} else {
		dedup = redisx.NewMemoryDeduper(redisx.TTLDedup)
	}

	gw := gateway.New(gateway.Config{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
		Timeout:   cfg.GatewayTimeout,
	})
	if _, ok := gw.(*gateway.Mock); ok {
		logger.Warn("razorpay credentials not set; using the mock gateway")
	}

	notifier, closeNotifier := newNotifier(cfg, logger)
	defer closeNotifier()

	catalogSvc := catalog.NewService(records)
	contacts := notification.NewDirectory(records)
	ledger := inventory.NewService(records, events, catalogSvc, logger)
	carts := cart.NewService(records, catalogSvc)
	orders := order.NewService(records)
	payments := payment.NewService(records, orders, gw, dedup, payment.Config{
		Currency:      cfg.Currency,
		WebhookSecret: cfg.RazorpayWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
	}, logger)

	cmdHandler := command.NewHandler(carts, orders, ledger, payments, notifier, contacts, logger)
	queryHandler := query.NewHandler(carts, orders, ledger, payments)

	handlers := api.NewHandlers(cmdHandler, queryHandler, logger).WithDirectory(catalogSvc, contacts)
	tokens := auth.NewTokenValidator(cfg.JWTSecret, cfg.JWTIssuer)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handlers, tokens, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreBackend),
			zap.String("notify", cfg.NotifyMode))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.ExpiryEnabled() {
		g.Go(func() error {
			sweepExpired(gctx, cmdHandler, cfg.PendingOrderTTL, cfg.ExpirySweepInterval, logger)
			return nil
		})
	}

	return g.Wait()
}

// openStores returns the record store and movement log for the configured
// backend, plus a func that releases them.
func openStores(ctx context.Context, cfg config.Config, publisher store.Publisher, logger *zap.Logger) (store.RecordStoreInterface, store.EventStoreInterface, func(), error) {
	noop := func() {}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, noop, fmt.Errorf("schema: %w", err)
		}
		return store.NewPostgresRecordStore(db), store.NewPostgresEventStore(db, publisher, logger), closeDB(db, logger), nil

	case config.StoreDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, noop, fmt.Errorf("aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		return store.NewDynamoRecordStore(client, cfg.DynamoTable),
			store.NewDynamoEventStore(client, cfg.DynamoEventsTable, publisher, logger), noop, nil
	}

	logger.Warn("using in-memory store; state is lost on restart")
	return store.NewMemoryRecordStore(), store.NewEventStore(publisher, logger), noop, nil
}

func closeDB(db *sql.DB, logger *zap.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing postgres", zap.Error(err))
		}
	}
}

func newNotifier(cfg config.Config, logger *zap.Logger) (notification.Notifier, func()) {
	switch cfg.NotifyMode {
	case config.NotifyKafka:
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.NotificationTopic, logger)
		return notification.NewPublisher(producer), func() { _ = producer.Close() }
	case config.NotifySMTP:
		return email.NewService(smtpConfig(cfg), logger), func() {}
	}
	return notification.NewLogNotifier(logger), func() {}
}

func smtpConfig(cfg config.Config) email.Config {
	return email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}
}

// sweepExpired cancels pending orders older than ttl every interval.
func sweepExpired(ctx context.Context, h *command.Handler, ttl, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.ExpirePendingOrders(ctx, ttl)
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired pending orders", zap.Int("count", n))
			}
		}
	}
}
