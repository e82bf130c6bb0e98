package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/model"
)

const upsertImporterMerchantsSQL = `
	INSERT INTO merchants (id, merchant_reference, email, live_on, disbursement_frequency, minimum_monthly_fee)
	SELECT * FROM unnest($1::uuid[], $2::text[], $3::text[], $4::date[], $5::text[], $6::bigint[])
	ON CONFLICT (merchant_reference) DO UPDATE SET
		email = EXCLUDED.email,
		live_on = EXCLUDED.live_on,
		disbursement_frequency = EXCLUDED.disbursement_frequency,
		minimum_monthly_fee = EXCLUDED.minimum_monthly_fee
`

const insertOutboxSQL = `
	INSERT INTO outbox (id, aggregate_id, topic, payload, created_at)
	SELECT id, aggregate_id, topic, payload, created_at
	FROM unnest($1::uuid[], $2::text[], $3::text[], $4::jsonb[], $5::timestamptz[])
		WITH ORDINALITY AS t(id, aggregate_id, topic, payload, created_at, ord)
	ORDER BY ord
`

const selectPendingOutboxSQL = `
	SELECT id, seq, aggregate_id, topic, payload, created_at
	FROM outbox
	ORDER BY seq ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ImporterRepository is the importer's Postgres store: merchants plus the
// outbox that feeds the broker.
type ImporterRepository struct {
	pool *pgxpool.Pool
}

func NewImporterRepository(pool *pgxpool.Pool) *ImporterRepository {
	return &ImporterRepository{pool: pool}
}

// UpsertMerchants writes the whole batch in one statement. An empty batch is a no-op.
func (r *ImporterRepository) UpsertMerchants(ctx context.Context, merchants []model.Merchant) error {
	if len(merchants) == 0 {
		return nil
	}
	if err := upsertImporterMerchants(ctx, r.pool, merchants); err != nil {
		return apperr.Storage("upsert merchants", err)
	}
	return nil
}

// UpsertMerchantsWithOutbox upserts the batch and records its outbox rows in
// a single transaction. Either both are visible or neither is.
func (r *ImporterRepository) UpsertMerchantsWithOutbox(ctx context.Context, merchants []model.Merchant, events []model.OutboxEvent) error {
	if len(merchants) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Storage("begin transaction", err)
	}
	// Rollback is a no-op once committed.
	defer tx.Rollback(ctx)

	if err := upsertImporterMerchants(ctx, tx, merchants); err != nil {
		return apperr.Storage("upsert merchants", err)
	}

	if err := insertOutbox(ctx, tx, events); err != nil {
		return apperr.Storage("insert outbox events", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage("commit transaction", err)
	}
	return nil
}

// ProcessPending locks up to limit outbox rows in insertion order and hands
// them to publish one at a time. Each accepted row is deleted; the first
// publish error stops the batch. Deletions made so far are committed and the
// error is returned with the number of rows processed.
func (r *ImporterRepository) ProcessPending(ctx context.Context, limit int, publish PublishFunc) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectPendingOutboxSQL, limit)
	if err != nil {
		return 0, apperr.Storage("fetch outbox events", err)
	}

	var events []model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Seq, &e.AggregateID, &e.Topic, &e.Payload, &e.CreatedAt); err != nil {
			rows.Close()
			return 0, apperr.Storage("scan outbox event", err)
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Storage("fetch outbox events", err)
	}

	processed := 0
	var publishErr error
	for _, e := range events {
		if err := publish(ctx, e); err != nil {
			publishErr = err
			break
		}
		if _, err := tx.Exec(ctx, "DELETE FROM outbox WHERE id = $1", e.ID); err != nil {
			return 0, apperr.Storage("delete outbox event", err)
		}
		processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Storage("commit transaction", err)
	}
	return processed, publishErr
}

// PendingCount reports how many outbox rows are still waiting for the broker.
func (r *ImporterRepository) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, apperr.Storage("count outbox events", err)
	}
	return n, nil
}

// CountPendingEvents reports how many of the given outbox rows have not been
// published yet.
func (r *ImporterRepository) CountPendingEvents(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE id = ANY($1::uuid[])", keys).Scan(&n); err != nil {
		return 0, apperr.Storage("count pending events", err)
	}
	return n, nil
}

func (r *ImporterRepository) GetByReference(ctx context.Context, reference string) (model.Merchant, error) {
	var m model.Merchant
	var frequency string
	err := r.pool.QueryRow(ctx, `
		SELECT id, merchant_reference, email, live_on, disbursement_frequency, minimum_monthly_fee
		FROM merchants WHERE merchant_reference = $1
	`, reference).Scan(&m.ID, &m.Reference, &m.Email, &m.LiveOn, &frequency, &m.MinimumMonthlyFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Merchant{}, ErrNotFound
	}
	if err != nil {
		return model.Merchant{}, apperr.Storage("get merchant", err)
	}
	m.Frequency = model.Frequency(frequency)
	return m, nil
}

func (r *ImporterRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM merchants").Scan(&n); err != nil {
		return 0, apperr.Storage("count merchants", err)
	}
	return n, nil
}

func (r *ImporterRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func upsertImporterMerchants(ctx context.Context, db execer, merchants []model.Merchant) error {
	merchants = dedupeMerchants(merchants)

	n := len(merchants)
	ids := make([]string, n)
	refs := make([]string, n)
	emails := make([]string, n)
	liveOn := make([]time.Time, n)
	frequencies := make([]string, n)
	fees := make([]int64, n)
	for i, m := range merchants {
		ids[i] = m.ID.String()
		refs[i] = m.Reference
		emails[i] = m.Email
		liveOn[i] = m.LiveOn
		frequencies[i] = string(m.Frequency)
		fees[i] = m.MinimumMonthlyFee
	}

	_, err := db.Exec(ctx, upsertImporterMerchantsSQL, ids, refs, emails, liveOn, frequencies, fees)
	return err
}

func insertOutbox(ctx context.Context, db execer, events []model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	n := len(events)
	ids := make([]string, n)
	aggregates := make([]string, n)
	topics := make([]string, n)
	payloads := make([]string, n)
	createdAt := make([]time.Time, n)
	for i, e := range events {
		ids[i] = e.ID.String()
		aggregates[i] = e.AggregateID
		topics[i] = e.Topic
		payloads[i] = string(e.Payload)
		createdAt[i] = e.CreatedAt
	}

	if _, err := db.Exec(ctx, insertOutboxSQL, ids, aggregates, topics, payloads, createdAt); err != nil {
		return fmt.Errorf("insert %d outbox rows: %w", n, err)
	}
	return nil
}
