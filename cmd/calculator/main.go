package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"merchant-sync/internal/broker"
	"merchant-sync/internal/config"
	"merchant-sync/internal/consumer"
	"merchant-sync/internal/db"
	"merchant-sync/internal/log"
	"merchant-sync/internal/store"
)

var Version = "dev"

func main() {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:           "calculator",
		Short:         "Consume merchant_upserted events into the calculator store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFiles)
		},
	}
	rootCmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default ./.env if present)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, envFiles []string) error {
	cfg, err := config.LoadCalculator(envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := log.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("Connected to PostgreSQL")

	if err := db.EnsureSchema(ctx, pool, db.CalculatorSchema); err != nil {
		return err
	}

	conn, err := broker.DialRabbitMQ(ctx, cfg.AMQPURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	source, err := consumer.NewAMQPSource(conn, cfg.Group, []string{cfg.Topic})
	if err != nil {
		return err
	}
	defer source.Close()

	policy, err := cfg.BackoffPolicy()
	if err != nil {
		return err
	}

	var handlerOpts []consumer.HandlerOption
	if !cfg.StrictEvents {
		handlerOpts = append(handlerOpts, consumer.WithLenientDefaults())
	}
	handler := consumer.NewMerchantUpsertedHandler(store.NewCalculatorRepository(pool), logger, handlerOpts...)

	loop := consumer.NewLoop(source, logger,
		consumer.WithBackoff(policy),
		consumer.WithHandlerTimeout(cfg.HandlerTimeout))
	loop.Register(cfg.Topic, handler)

	logger.Info("Waiting for messages. To exit press CTRL+C",
		log.String("group", cfg.Group), log.String("topic", cfg.Topic))

	err = loop.Run(ctx)
	stats := loop.Stats()
	logger.Info("Consumer stopped",
		log.Int64("received", stats.Received),
		log.Int64("handled", stats.Handled),
		log.Int64("failed", stats.Failed),
		log.Int64("undecodable", stats.Undecodable))
	if errors.Is(err, broker.ErrSourceClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}
