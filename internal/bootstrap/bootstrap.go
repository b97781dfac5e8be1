// Package bootstrap wires configuration into the running components shared
// by the server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/application/webhook"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/cache"
	"github.com/erp/fulfillment/internal/infrastructure/carrier"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/crm"
	"github.com/erp/fulfillment/internal/infrastructure/migration"
	"github.com/erp/fulfillment/internal/infrastructure/notify"
	"github.com/erp/fulfillment/internal/infrastructure/persistence"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/erp/fulfillment/internal/infrastructure/sheet"
	"github.com/erp/fulfillment/internal/infrastructure/storage"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Options selects the optional parts of the wiring
type Options struct {
	// Migrate applies the embedded schema (Postgres) or auto-migrates (SQLite)
	Migrate bool
	// Telemetry starts the OTLP meter and tracer providers
	Telemetry bool
	// Version is reported as the service version on telemetry resources
	Version string
}

// Components holds the wired application
type Components struct {
	Config     *config.Config
	DB         *persistence.Database
	Orders     *persistence.GormOrderRepository
	Dedup      shared.IdempotencyStore
	Reconciler *delivery.Reconciler
	Leads      *ordersync.Service
	Pipeline   *webhook.Pipeline
	Meters     *telemetry.MeterProvider
	Tracers    *telemetry.TracerProvider
	Metrics    *telemetry.ReconcileMetrics

	logger  *zap.Logger
	closers []func(context.Context) error
}

// Build connects the database, the gateways and the idempotency store and
// assembles the reconciliation services. On error everything opened so far
// is closed.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (_ *Components, err error) {
	c := &Components{Config: cfg, logger: log}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	if opts.Telemetry {
		if err := c.startTelemetry(ctx, opts.Version); err != nil {
			return nil, err
		}
	}

	c.DB, err = persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:    log,
		LogLevel:  cfg.Log.GormLevel,
		SlowQuery: cfg.Log.SlowQuery,
		Tracing:   opts.Telemetry && cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, err
	}
	c.onClose(func(context.Context) error { return c.DB.Close() })

	if opts.Migrate {
		if err := c.migrate(); err != nil {
			return nil, err
		}
	}
	c.Orders = persistence.NewGormOrderRepository(c.DB.DB)

	c.Dedup, err = cache.NewIdempotencyStore(ctx, cfg.Idempotency, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	c.onClose(func(context.Context) error { return c.Dedup.Close() })

	crmClient, err := crm.NewClient(cfg.CRM, log)
	if err != nil {
		return nil, fmt.Errorf("crm gateway: %w", err)
	}
	carrierClient, err := carrier.NewClient(cfg.Carrier, log)
	if err != nil {
		return nil, fmt.Errorf("carrier gateway: %w", err)
	}

	notifier, err := notify.New(cfg.Notify, log)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	reconcilerOpts := []delivery.Option{
		delivery.WithNotifier(notifier),
		delivery.WithLogger(log),
	}
	if c.Metrics != nil {
		reconcilerOpts = append(reconcilerOpts, delivery.WithMetrics(c.Metrics))
	}
	if cfg.Sheet.Enabled {
		ledger, err := newSheet(cfg.Sheet, log)
		if err != nil {
			return nil, err
		}
		reconcilerOpts = append(reconcilerOpts, delivery.WithSheet(ledger))
	}

	c.Reconciler = delivery.NewReconciler(c.Orders, crmClient, carrierClient, delivery.Config{
		StatusFieldID:     cfg.CRM.StatusFieldID,
		TrackerFieldID:    cfg.CRM.TrackerFieldID,
		Stages:            stageIDs(cfg.CRM),
		SheetName:         cfg.Sheet.SheetName,
		SheetStatusColumn: cfg.Sheet.StatusColumn,
		CallTimeout:       cfg.Scheduler.CallTimeout,
	}, reconcilerOpts...)

	c.Leads = ordersync.NewService(c.Orders, crmClient, c.Reconciler, ordersync.Config{
		PipelineID:          cfg.CRM.PipelineID,
		TrackerFieldID:      cfg.CRM.TrackerFieldID,
		PickupFieldID:       cfg.CRM.PickupFieldID,
		PurchaseDateFieldID: cfg.CRM.PurchaseDateFieldID,
		CommentFieldID:      cfg.CRM.CommentFieldID,
		CallTimeout:         cfg.Scheduler.CallTimeout,
	}, log)

	archive, err := newArchive(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	pipelineOpts := []webhook.Option{
		webhook.WithArchive(archive),
		webhook.WithLogger(log),
	}
	if c.Metrics != nil {
		pipelineOpts = append(pipelineOpts, webhook.WithMetrics(c.Metrics))
	}
	c.Pipeline = webhook.NewPipeline(c.Reconciler, c.Leads, c.Dedup, pipelineOpts...)

	return c, nil
}

// NewScheduler builds the reconciliation scheduler over the wired services.
// Start refuses to run while the scheduler prerequisites are missing.
func (c *Components) NewScheduler() (*scheduler.ReconciliationScheduler, error) {
	cfg := c.Config.Scheduler
	opts := []scheduler.Option{scheduler.WithPreflight(c.Config.ValidateForScheduler)}
	if c.Metrics != nil {
		opts = append(opts, scheduler.WithMetrics(c.Metrics))
	}
	return scheduler.NewReconciliationScheduler(scheduler.Config{
		ShipmentPollInterval:  cfg.ShipmentPollInterval,
		UntrackedSyncInterval: cfg.UntrackedSyncInterval,
		BatchSize:             cfg.BatchSize,
		HistorySize:           cfg.HistorySize,
	}, c.Orders, c.Reconciler, c.Leads, c.logger, opts...)
}

// Close releases everything Build opened, in reverse order
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Components) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Components) startTelemetry(ctx context.Context, version string) error {
	tcfg := telemetry.Config{
		Enabled:           c.Config.Telemetry.Enabled,
		CollectorEndpoint: c.Config.Telemetry.CollectorEndpoint,
		ExportInterval:    c.Config.Telemetry.MetricsInterval,
		ServiceName:       c.Config.Telemetry.ServiceName,
		Environment:       c.Config.App.Env,
		Version:           version,
		Insecure:          c.Config.Telemetry.Insecure,
	}

	meters, err := telemetry.NewMeterProvider(ctx, tcfg, c.logger)
	if err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}
	c.Meters = meters
	c.onClose(meters.Shutdown)

	tracers, err := telemetry.NewTracerProvider(ctx, tcfg, c.logger)
	if err != nil {
		return fmt.Errorf("tracer provider: %w", err)
	}
	c.Tracers = tracers
	c.onClose(tracers.Shutdown)

	if meters.IsEnabled() {
		c.Metrics, err = telemetry.NewReconcileMetrics(meters.Meter("fulfillment"))
		if err != nil {
			return fmt.Errorf("reconcile metrics: %w", err)
		}
	}
	return nil
}

func (c *Components) migrate() error {
	if c.Config.Database.Driver == persistence.DriverSQLite {
		return c.DB.AutoMigrate()
	}
	sqlDB, err := c.DB.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	m, err := migration.New(sqlDB, c.logger)
	if err != nil {
		return err
	}
	// closing the migrator would close the shared connection pool
	return m.Up()
}

func stageIDs(cfg config.CRMConfig) fulfillment.StageIDs {
	return fulfillment.StageIDs{
		fulfillment.StageSent:             cfg.StageSentID,
		fulfillment.StageDeliveredToPoint: cfg.StageDeliveredPointID,
		fulfillment.StageRealized:         cfg.StageRealizedID,
	}
}

func newSheet(cfg config.SheetConfig, log *zap.Logger) (fulfillment.SheetGateway, error) {
	creds, err := sheet.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	client, err := sheet.NewClient(cfg, creds, log)
	if err != nil {
		return nil, fmt.Errorf("sheet gateway: %w", err)
	}
	return client, nil
}

func newArchive(ctx context.Context, cfg *config.StorageConfig) (fulfillment.PayloadArchive, error) {
	if !cfg.Enabled {
		return storage.NewStubPayloadArchive(), nil
	}
	archive, err := storage.NewS3PayloadArchive(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("payload archive: %w", err)
	}
	return archive, nil
}
