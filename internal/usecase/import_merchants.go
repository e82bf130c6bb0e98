package usecase

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
	"merchant-sync/internal/normalizer"
)

// MerchantStore persists a batch of merchants together with the outbox rows
// announcing them.
type MerchantStore interface {
	UpsertMerchantsWithOutbox(ctx context.Context, merchants []model.Merchant, events []model.OutboxEvent) error
	CountPendingEvents(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Relay pushes pending outbox rows to the broker.
type Relay interface {
	Flush(ctx context.Context) (int, error)
}

type ImportResult struct {
	Imported  int `json:"imported"`
	Published int `json:"published"`
}

// ImportService runs one import of a merchant batch file.
//
// The merchant upsert and the outbox rows commit in one transaction, so a
// successful write always leaves a pending event behind it. Publishing happens
// after the commit: if it fails or the process dies, the rows stay in the
// outbox and the relay sends them later. The broker may then see an event
// twice, never zero times.
type ImportService struct {
	store  MerchantStore
	relay  Relay
	topic  string
	logger *log.Logger
	now    func() time.Time
}

func NewImportService(store MerchantStore, relay Relay, topic string, logger *log.Logger) *ImportService {
	if topic == "" {
		topic = model.TopicMerchantUpserted
	}
	return &ImportService{
		store:  store,
		relay:  relay,
		topic:  topic,
		logger: logger.Component("import"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run imports the batch file at path.
func (s *ImportService) Run(ctx context.Context, path string) (ImportResult, error) {
	s.logger.Info("Trying to open batch file", log.String("path", path))

	merchants, err := normalizer.ReadFile(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to normalize %s: %w", path, err)
	}
	return s.Import(ctx, merchants)
}

// RunReader imports a batch read from r. name only labels errors and logs.
func (s *ImportService) RunReader(ctx context.Context, name string, r io.Reader) (ImportResult, error) {
	merchants, err := normalizer.ReadAll(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to normalize %s: %w", name, err)
	}
	return s.Import(ctx, merchants)
}

// Import upserts already-normalized merchants and publishes one event per
// merchant in list order. Merchants stay upserted when publishing fails.
func (s *ImportService) Import(ctx context.Context, merchants []model.Merchant) (ImportResult, error) {
	if len(merchants) == 0 {
		s.logger.Info("Batch is empty, nothing to import")
		return ImportResult{}, nil
	}

	events, err := model.NewOutboxEvents(s.topic, merchants, s.now())
	if err != nil {
		return ImportResult{}, err
	}

	if err := s.store.UpsertMerchantsWithOutbox(ctx, merchants, events); err != nil {
		return ImportResult{}, fmt.Errorf("failed to store merchants: %w", err)
	}
	result := ImportResult{Imported: len(merchants)}

	// The relay drains the whole outbox, which may include rows of earlier
	// runs or miss rows another relay pass already sent. Only this run's rows
	// decide the outcome.
	relayed, flushErr := s.relay.Flush(ctx)

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	pending, err := s.store.CountPendingEvents(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("failed to check merchant events: %w", err)
	}
	result.Published = len(events) - pending

	if pending > 0 {
		if flushErr == nil {
			flushErr = apperr.Publish(s.topic, "", fmt.Errorf("%d events still pending", pending))
		}
		s.logger.Error("Merchants stored but not all events were published; the relay will retry",
			log.Int("imported", result.Imported), log.Int("published", result.Published), log.Error(flushErr))
		return result, fmt.Errorf("failed to publish merchant events: %w", flushErr)
	}
	if flushErr != nil {
		s.logger.Warn("Relay failed on events of another run", log.Int("relayed", relayed), log.Error(flushErr))
	}

	s.logger.Info("Import finished", log.Int("imported", result.Imported), log.Int("published", result.Published))
	return result, nil
}
