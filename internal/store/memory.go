package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/model"
)

// MemoryImporterStore keeps importer merchants and outbox rows in memory with
// the same contracts as ImporterRepository. Set FailWith to make the next
// writes fail with a StorageError.
type MemoryImporterStore struct {
	mu        sync.Mutex
	merchants map[string]model.Merchant
	order     []string
	outbox    []model.OutboxEvent
	seq       int64
	writes    int

	FailWith error
}

func NewMemoryImporterStore() *MemoryImporterStore {
	return &MemoryImporterStore{merchants: make(map[string]model.Merchant)}
}

func (s *MemoryImporterStore) UpsertMerchants(ctx context.Context, merchants []model.Merchant) error {
	if len(merchants) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return apperr.Storage("upsert merchants", s.FailWith)
	}
	s.upsertLocked(merchants)
	return nil
}

func (s *MemoryImporterStore) UpsertMerchantsWithOutbox(ctx context.Context, merchants []model.Merchant, events []model.OutboxEvent) error {
	if len(merchants) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return apperr.Storage("upsert merchants", s.FailWith)
	}
	s.upsertLocked(merchants)
	for _, e := range events {
		s.seq++
		e.Seq = s.seq
		s.outbox = append(s.outbox, e)
	}
	return nil
}

func (s *MemoryImporterStore) upsertLocked(merchants []model.Merchant) {
	s.writes++
	for _, m := range merchants {
		existing, ok := s.merchants[m.Reference]
		if !ok {
			s.order = append(s.order, m.Reference)
		} else {
			m.ID = existing.ID
		}
		s.merchants[m.Reference] = m
	}
}

func (s *MemoryImporterStore) ProcessPending(ctx context.Context, limit int, publish PublishFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.outbox
	if len(batch) > limit {
		batch = batch[:limit]
	}

	processed := 0
	var publishErr error
	for _, e := range batch {
		if err := publish(ctx, e); err != nil {
			publishErr = err
			break
		}
		processed++
	}
	s.outbox = append([]model.OutboxEvent(nil), s.outbox[processed:]...)
	return processed, publishErr
}

func (s *MemoryImporterStore) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox), nil
}

func (s *MemoryImporterStore) CountPendingEvents(ctx context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	n := 0
	for _, e := range s.outbox {
		if _, ok := wanted[e.ID]; ok {
			n++
		}
	}
	return n, nil
}

func (s *MemoryImporterStore) GetByReference(ctx context.Context, reference string) (model.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[reference]
	if !ok {
		return model.Merchant{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryImporterStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.merchants), nil
}

// Merchants returns every stored merchant in first-insert order.
func (s *MemoryImporterStore) Merchants() []model.Merchant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Merchant, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.merchants[ref])
	}
	return out
}

// Writes counts successful non-empty upsert calls.
func (s *MemoryImporterStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryImporterStore) Ping(ctx context.Context) error {
	return nil
}

// MemoryCalculatorStore is the in-memory counterpart of CalculatorRepository.
type MemoryCalculatorStore struct {
	mu        sync.Mutex
	merchants map[string]model.CalculatorMerchant
	processed map[string]struct{}

	FailWith error
}

func NewMemoryCalculatorStore() *MemoryCalculatorStore {
	return &MemoryCalculatorStore{
		merchants: make(map[string]model.CalculatorMerchant),
		processed: make(map[string]struct{}),
	}
}

func (s *MemoryCalculatorStore) UpsertMerchants(ctx context.Context, merchants []model.CalculatorMerchant) error {
	if len(merchants) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return apperr.Storage("upsert merchants", s.FailWith)
	}
	for _, m := range merchants {
		s.upsertLocked(m)
	}
	return nil
}

func (s *MemoryCalculatorStore) ApplyOnce(ctx context.Context, messageID string, merchant model.CalculatorMerchant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.processed[messageID]; seen {
		return false, nil
	}
	if s.FailWith != nil {
		return false, apperr.Storage("upsert merchant", s.FailWith)
	}
	s.upsertLocked(merchant)
	s.processed[messageID] = struct{}{}
	return true, nil
}

func (s *MemoryCalculatorStore) upsertLocked(m model.CalculatorMerchant) {
	if existing, ok := s.merchants[m.Reference]; ok {
		m.ID = existing.ID
	}
	s.merchants[m.Reference] = m
}

func (s *MemoryCalculatorStore) GetByReference(ctx context.Context, reference string) (model.CalculatorMerchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[reference]
	if !ok {
		return model.CalculatorMerchant{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryCalculatorStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.merchants), nil
}

func (s *MemoryCalculatorStore) Ping(ctx context.Context) error {
	return nil
}
