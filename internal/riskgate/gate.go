// Package riskgate is a per-account pre-trade check consulted for every
// follower order: layered validation methods each returning an error,
// settings-driven thresholds with defaults supplied by the caller's
// envelope. Every breach here is a hard deny — replication has no
// soft-fail tier.
package riskgate

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
)

// AccountMetrics supplies the live figures the gate's checks are computed
// against: today's realized PnL from executed follower trades, current
// exposure, a drawdown estimate, and open position count. The default
// implementation reads these from the Order Store and Broker Adapter;
// tests substitute a fixed-value fake.
type AccountMetrics interface {
	DailyRealizedPnL(ctx context.Context, account string) (float64, error)
	Exposure(ctx context.Context, account string) (float64, error)
	DrawdownFraction(ctx context.Context, account string) (float64, error)
	OpenPositionCount(ctx context.Context, account string) (int64, error)
	AvailableBalance(ctx context.Context, account string) (float64, error)
}

// Gate implements domain.RiskGate.
type Gate struct {
	metrics AccountMetrics
	log     zerolog.Logger
}

// New builds a Risk Gate reading live account figures from metrics.
func New(metrics AccountMetrics, log zerolog.Logger) *Gate {
	return &Gate{
		metrics: metrics,
		log:     log.With().Str("component", "risk_gate").Logger(),
	}
}

// Check computes daily loss, drawdown, open position count, and
// exposure, then evaluates them against envelope, narrowest-wins (the
// caller has already applied the per-link override -> account -> system
// default precedence when building envelope). Denials are recorded by
// the caller and count toward replication outcome; they never raise
// alarms.
func (g *Gate) Check(ctx context.Context, account string, proposed *domain.Order, envelope domain.RiskEnvelope, referencePrice float64) (domain.RiskDecision, error) {
	pnl, err := g.metrics.DailyRealizedPnL(ctx, account)
	if err != nil {
		return domain.RiskDecision{}, err
	}
	if -pnl > envelope.MaxDailyLoss {
		return deny(g.log, account, replerr.DailyLossBreached), nil
	}

	drawdown, err := g.metrics.DrawdownFraction(ctx, account)
	if err != nil {
		return domain.RiskDecision{}, err
	}
	if drawdown > envelope.MaxDrawdownFraction {
		return deny(g.log, account, replerr.DrawdownBreached), nil
	}

	positionCount, err := g.metrics.OpenPositionCount(ctx, account)
	if err != nil {
		return domain.RiskDecision{}, err
	}
	if positionCount > envelope.MaxOpenPositions {
		return deny(g.log, account, replerr.PositionCountBreached), nil
	}

	exposure, err := g.metrics.Exposure(ctx, account)
	if err != nil {
		return domain.RiskDecision{}, err
	}
	if exposure > envelope.MaxAggregateExposure {
		return deny(g.log, account, replerr.ExposureBreached), nil
	}

	orderNotional := estimateNotional(proposed, referencePrice)
	if orderNotional > envelope.MaxPositionNotional {
		return deny(g.log, account, replerr.PositionSizeBreached), nil
	}

	if proposed.Side == domain.SideBuy {
		balance, err := g.metrics.AvailableBalance(ctx, account)
		if err != nil {
			return domain.RiskDecision{}, err
		}
		if orderNotional > balance {
			return deny(g.log, account, replerr.InsufficientBalance), nil
		}
	}

	return domain.RiskDecision{Allowed: true}, nil
}

func deny(log zerolog.Logger, account string, reason replerr.RiskDenialReason) domain.RiskDecision {
	log.Debug().Str("account", account).Str("reason", string(reason)).Msg("risk gate denied order")
	return domain.RiskDecision{Allowed: false, Reason: string(reason)}
}

// estimateNotional approximates the order's notional value for the
// position-size and balance checks. A limit order's own price is the most
// precise figure; a market order carries none, so it falls back to
// referencePrice, the same mark the copy policy transform already resolved
// for sizing.
func estimateNotional(o *domain.Order, referencePrice float64) float64 {
	price := referencePrice
	if o.LimitPrice != nil {
		price = *o.LimitPrice
	}
	return float64(o.Quantity) * price
}
