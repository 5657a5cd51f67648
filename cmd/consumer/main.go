package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	provisioningapp "github.com/erp/provisioner/internal/application/provisioning"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/erp/provisioner/internal/infrastructure/cache"
	"github.com/erp/provisioner/internal/infrastructure/catalog"
	"github.com/erp/provisioner/internal/infrastructure/config"
	"github.com/erp/provisioner/internal/infrastructure/crypto"
	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/messaging"
	"github.com/erp/provisioner/internal/infrastructure/persistence"
	"github.com/erp/provisioner/internal/infrastructure/provider"
	"github.com/erp/provisioner/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap logger used while the OpenTelemetry log bridge is set up
	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = cfg.App.Name
	}

	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize log exporter", zap.Error(err))
	}

	log, err := logger.New(logCfg, telemetry.NewZapOTELCore(logProvider, logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting provisioning consumer",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("exchange", cfg.RabbitMQ.Exchange),
	)

	// Initialize tracing and metrics
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for name, shutdown := range map[string]func(context.Context) error{
			"tracer": tracerProvider.Shutdown,
			"meter":  meterProvider.Shutdown,
			"logger": logProvider.Shutdown,
		} {
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("Telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
			}
		}
	}()

	metrics, err := telemetry.NewProvisionerMetrics(meterProvider.Meter(telemetry.TracerName))
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Connect the registry database with a zap-backed GORM logger
	var gormOpts []logger.GormLoggerOption
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	}
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), gormOpts...)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTracing.LogFullSQL = cfg.Telemetry.DBLogFullSQL
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		dbTracing.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
	}
	if err := telemetry.NewDBTracingPlugin(dbTracing, log).Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Provider, catalog and secrets
	cipher, err := crypto.NewSecretCipher(cfg.Encryption.Passphrase)
	if err != nil {
		log.Fatal("Failed to initialize secret cipher", zap.Error(err))
	}
	providerClient, err := provider.NewClient(&provider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		SecretKey:      cfg.Provider.SecretKey,
		PluginKey:      cfg.Provider.PluginKey,
		TimeoutSeconds: int(cfg.Provider.Timeout / time.Second),
	}, provider.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to initialize provider client", zap.Error(err))
	}
	catalogValidator := catalog.NewValidator(providerClient,
		catalog.WithTTL(cfg.Catalog.TTL),
		catalog.WithLogger(log),
	)

	// Saga and handlers
	repo := persistence.NewGormRecordRepository(db.DB)
	saga := provisioningapp.NewSaga(providerClient, repo, catalogValidator, cipher,
		provisioningapp.Config{
			CredentialDelay:    cfg.Saga.CredentialDelay,
			ReconcileDelay:     cfg.Saga.ReconcileDelay,
			ClientConfirmDelay: cfg.Saga.ClientConfirmDelay,
			SeriesSettleDelay:  cfg.Saga.SeriesSettleDelay,
			PollAttempts:       cfg.Saga.PollAttempts,
			PollMaxInterval:    cfg.Saga.PollMaxInterval,
			PollDeadline:       cfg.Saga.PollDeadline,
		},
		provisioningapp.WithLogger(log),
		provisioningapp.WithRecorder(metrics),
	)

	// Delivery deduplication
	store, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create delivery store", zap.Error(err))
	}
	defer func() {
		_ = store.Close()
	}()
	idempotency := shared.IdempotencyConfig{Enabled: cfg.Idempotency.Enabled, TTL: cfg.Idempotency.TTL}
	dedup := func(h shared.EventHandler) shared.EventHandler {
		return messaging.NewIdempotentHandler(h, store, idempotency, log)
	}

	// Route each configured key to its event type and handler
	queues := cfg.Queues
	registry := messaging.NewHandlerRegistry()
	serializer := messaging.NewEventSerializer()

	serializer.Register(queues.CompanyRoutingKey, &provisioning.CompanyCreatedEvent{})
	registry.Register(dedup(provisioningapp.NewCompanyHandler(saga)), queues.CompanyRoutingKey)

	serializer.Register(queues.ClientRoutingKey, &provisioning.ClientCreatedEvent{})
	registry.Register(dedup(provisioningapp.NewClientHandler(saga)), queues.ClientRoutingKey)

	serializer.Register(queues.InvoiceRoutingKey, &provisioning.InvoiceRequestedEvent{})
	registry.Register(dedup(provisioningapp.NewInvoiceHandler(saga, repo, providerClient, cipher)), queues.InvoiceRoutingKey)

	hostname, _ := os.Hostname()
	consumer := messaging.NewConsumer(
		messaging.AMQPDialer(cfg.RabbitMQ.URL(), cfg.App.Name+"@"+hostname),
		messaging.ConsumerConfig{
			Exchange:          cfg.RabbitMQ.Exchange,
			Prefetch:          cfg.RabbitMQ.Prefetch,
			ConsumerTag:       cfg.App.Name,
			ReconnectAttempts: cfg.RabbitMQ.ReconnectAttempts,
			ReconnectDelay:    cfg.RabbitMQ.ReconnectDelay,
			Queues:            queues.RoutingQueues(),
		},
		registry,
		serializer,
		messaging.WithLogger(log),
		messaging.WithDeliveryRecorder(metrics),
	)

	log.Info("Consumer ready", zap.Strings("routing_keys", registry.RoutingKeys()))
	if err := consumer.Run(ctx); err != nil {
		log.Fatal("Consumer stopped with error", zap.Error(err))
	}
	log.Info("Consumer shut down gracefully")
}
