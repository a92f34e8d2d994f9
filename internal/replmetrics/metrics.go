// Package replmetrics aggregates a sealed Replication Event's per-follower
// outcomes and latency distribution, using an aggregate-counter shape
// common to this codebase's progress trackers. Percentile computation
// uses gonum.org/v1/gonum/stat's Quantile over a sorted copy rather than
// hand-rolled sort-and-index math — plenty fast at the handful-of-
// followers-per-event scale this runs at.
package replmetrics

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sentinel/internal/domain"
)

// Seal computes the aggregate counts and latency percentiles for a
// completed fan-out's per-follower results.
func Seal(masterOrderID string, results []domain.FollowerResult, startedAt, endedAt time.Time) *domain.ReplicationEvent {
	event := &domain.ReplicationEvent{
		MasterOrderID: masterOrderID,
		Total:         len(results),
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		Results:       results,
	}

	latencies := make([]float64, 0, len(results))
	for _, r := range results {
		switch r.Outcome {
		case domain.OutcomeDispatched:
			event.Dispatched++
			latencies = append(latencies, r.LatencyMs)
		case domain.OutcomePolicySkipped:
			event.PolicySkipped++
		case domain.OutcomeUnmapped:
			event.Unmapped++
		case domain.OutcomeRiskDenied:
			event.RiskDenied++
		case domain.OutcomeBrokerErrored:
			event.BrokerErrored++
		case domain.OutcomeTimedOut:
			event.TimedOut++
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		event.P50LatencyMs = stat.Quantile(0.50, stat.Empirical, latencies, nil)
		event.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, latencies, nil)
		event.P99LatencyMs = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	}

	return event
}

// Store persists sealed Replication Events append-only.
type Store struct {
	db *sql.DB
}

// NewStore builds a Replication Metrics store over the ledger database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Append writes a sealed event. Append-only: no update path exists.
func (s *Store) Append(ctx context.Context, event *domain.ReplicationEvent) error {
	const query = `INSERT INTO replication_events
		(master_order_id, total, dispatched, policy_skipped, unmapped, risk_denied, broker_errored, timed_out,
		 p50_latency_ms, p95_latency_ms, p99_latency_ms, started_at, ended_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err := s.db.ExecContext(ctx, query,
		event.MasterOrderID, event.Total, event.Dispatched, event.PolicySkipped, event.Unmapped,
		event.RiskDenied, event.BrokerErrored, event.TimedOut,
		event.P50LatencyMs, event.P95LatencyMs, event.P99LatencyMs,
		event.StartedAt.Unix(), event.EndedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append replication event %s: %w", event.MasterOrderID, err)
	}
	return nil
}

// Recent returns the most recently sealed events, newest first, for the
// dashboard's recent-latency view (the /metrics/replication endpoint).
func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.ReplicationEvent, error) {
	const query = `SELECT master_order_id, total, dispatched, policy_skipped, unmapped, risk_denied,
		broker_errored, timed_out, p50_latency_ms, p95_latency_ms, p99_latency_ms, started_at, ended_at
		FROM replication_events ORDER BY ended_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent replication events: %w", err)
	}
	defer rows.Close()

	var events []*domain.ReplicationEvent
	for rows.Next() {
		var e domain.ReplicationEvent
		var startedAt, endedAt int64
		if err := rows.Scan(&e.MasterOrderID, &e.Total, &e.Dispatched, &e.PolicySkipped, &e.Unmapped, &e.RiskDenied,
			&e.BrokerErrored, &e.TimedOut, &e.P50LatencyMs, &e.P95LatencyMs, &e.P99LatencyMs, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(startedAt, 0)
		e.EndedAt = time.Unix(endedAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Get returns a previously sealed event, without its per-follower Results
// (those are reported live via the Event Publisher, not persisted per-row).
func (s *Store) Get(ctx context.Context, masterOrderID string) (*domain.ReplicationEvent, error) {
	const query = `SELECT master_order_id, total, dispatched, policy_skipped, unmapped, risk_denied,
		broker_errored, timed_out, p50_latency_ms, p95_latency_ms, p99_latency_ms, started_at, ended_at
		FROM replication_events WHERE master_order_id = ?`
	row := s.db.QueryRowContext(ctx, query, masterOrderID)

	var e domain.ReplicationEvent
	var startedAt, endedAt int64
	err := row.Scan(&e.MasterOrderID, &e.Total, &e.Dispatched, &e.PolicySkipped, &e.Unmapped, &e.RiskDenied,
		&e.BrokerErrored, &e.TimedOut, &e.P50LatencyMs, &e.P95LatencyMs, &e.P99LatencyMs, &startedAt, &endedAt)
	if err != nil {
		return nil, fmt.Errorf("get replication event %s: %w", masterOrderID, err)
	}
	e.StartedAt = time.Unix(startedAt, 0)
	e.EndedAt = time.Unix(endedAt, 0)
	return &e, nil
}
