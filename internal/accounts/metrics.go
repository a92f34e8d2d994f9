// Package accounts supplies the live account figures the Risk Gate and
// Dispatcher need but that neither the Order Store nor the Broker Adapter
// exposes directly: realized PnL, exposure, drawdown, position count,
// available balance, and last-known mark price.
//
// A layer of small, independently testable checks, each reading from the
// same underlying order/position data rather than maintaining its own
// running state.
package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// Metrics implements riskgate.AccountMetrics, dispatch.MarkPriceSource, and
// dispatch.BalanceSource over the Order Store's ledger database and the
// Broker Adapter's live positions/balance snapshots.
type Metrics struct {
	db     *sql.DB
	vault  domain.CredentialVault
	broker domain.BrokerAdapter
}

// New builds an account metrics reader.
func New(db *sql.DB, vault domain.CredentialVault, broker domain.BrokerAdapter) *Metrics {
	return &Metrics{db: db, vault: vault, broker: broker}
}

// DailyRealizedPnL sums (sell-notional - buy-notional) across every order
// owned by account that reached filled today, follower orders or not,
// ignoring fees (not modeled by the broker adapter's PlaceResult).
func (m *Metrics) DailyRealizedPnL(ctx context.Context, account string) (float64, error) {
	dayStart := time.Now().Truncate(24 * time.Hour).Unix()
	const query = `SELECT side, quantity, limit_price FROM orders
		WHERE owner_account = ? AND status = 'filled' AND terminal_at >= ?`
	rows, err := m.db.QueryContext(ctx, query, account, dayStart)
	if err != nil {
		return 0, fmt.Errorf("daily realized pnl for %s: %w", account, err)
	}
	defer rows.Close()

	var pnl float64
	for rows.Next() {
		var side string
		var quantity int64
		var limitPrice sql.NullFloat64
		if err := rows.Scan(&side, &quantity, &limitPrice); err != nil {
			return 0, err
		}
		if !limitPrice.Valid {
			continue
		}
		notional := float64(quantity) * limitPrice.Float64
		if side == string(domain.SideSell) {
			pnl += notional
		} else {
			pnl -= notional
		}
	}
	return pnl, rows.Err()
}

// Exposure sums quantity x last-mark across account's open positions.
func (m *Metrics) Exposure(ctx context.Context, account string) (float64, error) {
	positions, err := m.positions(ctx, account)
	if err != nil {
		return 0, err
	}
	var exposure float64
	for _, p := range positions {
		exposure += float64(p.Quantity) * p.LastMark
	}
	return exposure, nil
}

// DrawdownFraction estimates drawdown without a balance time series: the
// peak is the largest notional (quantity x limit price) of any filled sell
// order of account in the ledger, on any day, and the result is the live
// balance's shortfall below that peak as a fraction of it. With no such
// order, or a balance at or above the peak, it reports zero.
func (m *Metrics) DrawdownFraction(ctx context.Context, account string) (float64, error) {
	balance, err := m.AvailableBalance(ctx, account)
	if err != nil {
		return 0, err
	}
	const query = `SELECT MAX(quantity * limit_price) FROM orders
		WHERE owner_account = ? AND status = 'filled' AND side = 'sell'`
	var peak sql.NullFloat64
	if err := m.db.QueryRowContext(ctx, query, account).Scan(&peak); err != nil {
		return 0, fmt.Errorf("drawdown peak for %s: %w", account, err)
	}
	if !peak.Valid || peak.Float64 <= 0 {
		return 0, nil
	}
	if balance >= peak.Float64 {
		return 0, nil
	}
	return (peak.Float64 - balance) / peak.Float64, nil
}

// OpenPositionCount returns the number of distinct open positions.
func (m *Metrics) OpenPositionCount(ctx context.Context, account string) (int64, error) {
	positions, err := m.positions(ctx, account)
	if err != nil {
		return 0, err
	}
	return int64(len(positions)), nil
}

// AvailableBalance returns the account's live available balance.
func (m *Metrics) AvailableBalance(ctx context.Context, account string) (float64, error) {
	session, err := m.vault.Session(ctx, account)
	if err != nil {
		return 0, err
	}
	balance, err := m.broker.Balance(ctx, session, account)
	if err != nil {
		return 0, err
	}
	return balance.AvailableBalance, nil
}

// LastMark implements dispatch.MarkPriceSource from the ledger: it returns
// the limit price of the most recently created order for symbol on exchange
// that carries one, across all accounts (among orders created in the same
// second, the last inserted wins), and errors when there is none.
func (m *Metrics) LastMark(ctx context.Context, symbol, exchange string) (float64, error) {
	const query = `SELECT limit_price FROM orders
		WHERE symbol = ? AND exchange = ? AND limit_price IS NOT NULL
		ORDER BY created_at DESC, rowid DESC LIMIT 1`
	var price sql.NullFloat64
	if err := m.db.QueryRowContext(ctx, query, symbol, exchange).Scan(&price); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("no reference price available for %s on %s", symbol, exchange)
		}
		return 0, err
	}
	if !price.Valid {
		return 0, fmt.Errorf("no reference price available for %s on %s", symbol, exchange)
	}
	return price.Float64, nil
}

func (m *Metrics) positions(ctx context.Context, account string) ([]domain.PositionSnapshot, error) {
	session, err := m.vault.Session(ctx, account)
	if err != nil {
		return nil, err
	}
	return m.broker.Positions(ctx, session, account)
}
