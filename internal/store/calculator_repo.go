package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/model"
)

// The id column is written on insert only. A merchant keeps the id the
// calculator first gave it no matter how many events follow.
const upsertCalculatorMerchantsSQL = `
	INSERT INTO merchants (id, merchant_reference, live_on, disbursement_frequency, minimum_monthly_fee)
	SELECT * FROM unnest($1::uuid[], $2::text[], $3::date[], $4::text[], $5::bigint[])
	ON CONFLICT (merchant_reference) DO UPDATE SET
		live_on = EXCLUDED.live_on,
		disbursement_frequency = EXCLUDED.disbursement_frequency,
		minimum_monthly_fee = EXCLUDED.minimum_monthly_fee
`

// CalculatorRepository is the calculator's mirror of the importer merchants.
type CalculatorRepository struct {
	pool *pgxpool.Pool
}

func NewCalculatorRepository(pool *pgxpool.Pool) *CalculatorRepository {
	return &CalculatorRepository{pool: pool}
}

// UpsertMerchants writes the whole batch in one statement. An empty batch is a no-op.
func (r *CalculatorRepository) UpsertMerchants(ctx context.Context, merchants []model.CalculatorMerchant) error {
	if len(merchants) == 0 {
		return nil
	}
	if err := upsertCalculatorMerchants(ctx, r.pool, merchants); err != nil {
		return apperr.Storage("upsert merchants", err)
	}
	return nil
}

// ApplyOnce upserts merchant unless messageID was applied before. The
// processed-message marker and the upsert commit together, so a redelivered
// message is either fully applied or skipped.
func (r *CalculatorRepository) ApplyOnce(ctx context.Context, messageID string, merchant model.CalculatorMerchant) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, apperr.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, time.Now().UTC())
	if err != nil {
		return false, apperr.Storage("record processed message", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := upsertCalculatorMerchants(ctx, tx, []model.CalculatorMerchant{merchant}); err != nil {
		return false, apperr.Storage("upsert merchant", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, apperr.Storage("commit transaction", err)
	}
	return true, nil
}

func (r *CalculatorRepository) GetByReference(ctx context.Context, reference string) (model.CalculatorMerchant, error) {
	var m model.CalculatorMerchant
	var frequency string
	err := r.pool.QueryRow(ctx, `
		SELECT id, merchant_reference, live_on, disbursement_frequency, minimum_monthly_fee
		FROM merchants WHERE merchant_reference = $1
	`, reference).Scan(&m.ID, &m.Reference, &m.LiveOn, &frequency, &m.MinimumMonthlyFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CalculatorMerchant{}, ErrNotFound
	}
	if err != nil {
		return model.CalculatorMerchant{}, apperr.Storage("get merchant", err)
	}
	m.Frequency = model.Frequency(frequency)
	return m, nil
}

func (r *CalculatorRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM merchants").Scan(&n); err != nil {
		return 0, apperr.Storage("count merchants", err)
	}
	return n, nil
}

func (r *CalculatorRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func upsertCalculatorMerchants(ctx context.Context, db execer, merchants []model.CalculatorMerchant) error {
	merchants = dedupeCalculatorMerchants(merchants)

	n := len(merchants)
	ids := make([]string, n)
	refs := make([]string, n)
	liveOn := make([]time.Time, n)
	frequencies := make([]string, n)
	fees := make([]int64, n)
	for i, m := range merchants {
		ids[i] = m.ID.String()
		refs[i] = m.Reference
		liveOn[i] = m.LiveOn
		frequencies[i] = string(m.Frequency)
		fees[i] = m.MinimumMonthlyFee
	}

	_, err := db.Exec(ctx, upsertCalculatorMerchantsSQL, ids, refs, liveOn, frequencies, fees)
	return err
}
