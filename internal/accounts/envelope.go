package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
)

// DefaultEnvelope is the system-wide floor applied when an account has no
// row of its own.
var DefaultEnvelope = domain.RiskEnvelope{
	MaxDailyLoss:         100000,
	MaxDrawdownFraction:  0.25,
	MaxPositionNotional:  500000,
	MaxOpenPositions:     50,
	MaxAggregateExposure: 2000000,
	StopLossRequired:     false,
}

// EnvelopeRepo implements dispatch.RiskEnvelopeSource over the
// risk_envelopes table, falling back to DefaultEnvelope when an account
// has no override row. Precedence is per-link -> account -> system
// default; the per-link narrowing happens in the dispatcher.
type EnvelopeRepo struct {
	db *sql.DB
}

// NewEnvelopeRepo builds a risk envelope reader over the ledger database.
func NewEnvelopeRepo(db *sql.DB) *EnvelopeRepo { return &EnvelopeRepo{db: db} }

// Envelope returns account's risk envelope, or DefaultEnvelope if none is
// configured.
func (r *EnvelopeRepo) Envelope(ctx context.Context, account string) (domain.RiskEnvelope, error) {
	const query = `SELECT max_daily_loss, max_drawdown_fraction, max_position_notional,
		max_open_positions, max_aggregate_exposure, stop_loss_required
		FROM risk_envelopes WHERE account = ?`

	var e domain.RiskEnvelope
	var stopLossRequired int
	err := r.db.QueryRowContext(ctx, query, account).Scan(
		&e.MaxDailyLoss, &e.MaxDrawdownFraction, &e.MaxPositionNotional,
		&e.MaxOpenPositions, &e.MaxAggregateExposure, &stopLossRequired,
	)
	if err == sql.ErrNoRows {
		e = DefaultEnvelope
		e.Account = account
		return e, nil
	}
	if err != nil {
		return domain.RiskEnvelope{}, fmt.Errorf("envelope for %s: %w", account, err)
	}
	e.Account = account
	e.StopLossRequired = stopLossRequired != 0
	return e, nil
}

// Upsert writes account's risk envelope, used by an external admin
// surface — the replication core itself only reads envelopes.
func (r *EnvelopeRepo) Upsert(ctx context.Context, e domain.RiskEnvelope) error {
	const query = `INSERT INTO risk_envelopes
		(account, max_daily_loss, max_drawdown_fraction, max_position_notional, max_open_positions, max_aggregate_exposure, stop_loss_required)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(account) DO UPDATE SET
			max_daily_loss = excluded.max_daily_loss,
			max_drawdown_fraction = excluded.max_drawdown_fraction,
			max_position_notional = excluded.max_position_notional,
			max_open_positions = excluded.max_open_positions,
			max_aggregate_exposure = excluded.max_aggregate_exposure,
			stop_loss_required = excluded.stop_loss_required`
	_, err := r.db.ExecContext(ctx, query,
		e.Account, e.MaxDailyLoss, e.MaxDrawdownFraction, e.MaxPositionNotional,
		e.MaxOpenPositions, e.MaxAggregateExposure, boolToInt(e.StopLossRequired),
	)
	if err != nil {
		return fmt.Errorf("upsert envelope for %s: %w", e.Account, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
