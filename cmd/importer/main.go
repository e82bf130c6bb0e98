package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"merchant-sync/internal/broker"
	"merchant-sync/internal/config"
	"merchant-sync/internal/db"
	"merchant-sync/internal/log"
	"merchant-sync/internal/store"
	"merchant-sync/internal/usecase"
	"merchant-sync/internal/worker"
)

var (
	Version  = "dev"
	envFiles []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "importer",
		Short:         "Import merchant batch files and publish merchant_upserted events",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default ./.env if present)")

	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// app holds everything the importer commands share.
type app struct {
	cfg       config.Importer
	logger    *log.Logger
	pool      *pgxpool.Pool
	repo      *store.ImporterRepository
	conn      *amqp.Connection
	publisher *worker.RabbitMQPublisher
	processor *worker.OutboxProcessor
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadImporter(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := log.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.pool, err = db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	logger.Info("Connected to PostgreSQL")

	if err := db.EnsureSchema(ctx, a.pool, db.ImporterSchema); err != nil {
		a.Close()
		return nil, err
	}
	a.repo = store.NewImporterRepository(a.pool)

	a.conn, err = broker.DialRabbitMQ(ctx, cfg.AMQPURL, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher, err = worker.NewRabbitMQPublisher(a.conn, cfg.PublishTimeout, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.processor = worker.NewOutboxProcessor(a.repo, a.publisher, logger,
		worker.WithBatchSize(cfg.BatchSize),
		worker.WithPollInterval(cfg.PollInterval))
	return a, nil
}

func (a *app) importService() *usecase.ImportService {
	return usecase.NewImportService(a.repo, a.processor, a.cfg.Topic, a.logger)
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.conn != nil {
		a.conn.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
