// Command replay delivers the same merchant_upserted message twice to the
// calculator handler. The second delivery must be skipped.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"merchant-sync/internal/config"
	"merchant-sync/internal/consumer"
	"merchant-sync/internal/db"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
	"merchant-sync/internal/store"
)

const samplePayload = `{"merchant_reference":"padberg_group","live_on":"2023-02-01","disbursement_frequency":"DAILY","minimum_monthly_fee":0}`

func main() {
	var msgID, payloadFile string

	rootCmd := &cobra.Command{
		Use:           "replay",
		Short:         "Deliver one merchant_upserted message twice to check idempotency",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.New("info")
			if err != nil {
				return err
			}
			if err := run(cmd.Context(), logger, msgID, payloadFile); err != nil {
				return err
			}
			logger.Info("Done")
			return nil
		},
	}
	rootCmd.Flags().StringVar(&msgID, "id", "", "message id (default: a new uuid)")
	rootCmd.Flags().StringVar(&payloadFile, "payload", "", "file holding the JSON payload (default: a sample merchant)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *log.Logger, msgID, payloadFile string) error {
	cfg, err := config.LoadCalculator()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool, db.CalculatorSchema); err != nil {
		return err
	}

	body := []byte(samplePayload)
	if payloadFile != "" {
		if body, err = os.ReadFile(payloadFile); err != nil {
			return err
		}
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}

	msg := model.Message{ID: msgID, Topic: cfg.Topic, Body: body}
	src := &replaySource{msgs: []model.Message{msg, msg}}
	loop := consumer.NewLoop(src, logger)
	loop.Register(cfg.Topic, consumer.NewMerchantUpsertedHandler(store.NewCalculatorRepository(pool), logger))

	logger.Info("Delivering message twice, the second attempt should be skipped", log.String("id", msgID))
	_ = loop.Run(ctx)

	stats := loop.Stats()
	if stats.Handled != 2 {
		return fmt.Errorf("expected both deliveries to be handled, got %d handled and %d failed",
			stats.Handled, stats.Failed+stats.Undecodable)
	}
	return nil
}
