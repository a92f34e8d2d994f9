// Package followers resolves active-followers(master account) ->
// [Follower Link], a point-in-time snapshot read once per master-order
// fan-out, optionally cached with a short TTL to absorb bursts. The
// repository uses the column-constant shape common to this codebase's
// SQL repositories, plus a short-TTL snapshot cache that is read-mostly
// and timestamp-gated.
package followers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

const linkColumns = `master_account, follower_account, active, policy_variant,
	policy_ratio, policy_percent, policy_quantity, max_order_notional, max_daily_loss, created_at`

type snapshotEntry struct {
	links     []*domain.FollowerLink
	fetchedAt time.Time
}

// Registry implements domain.FollowerRegistry.
type Registry struct {
	db  *sql.DB
	ttl time.Duration

	mu        sync.Mutex
	snapshots map[string]snapshotEntry
}

// New builds a Follower Registry. ttl is the registry cache TTL (default
// 1s via follower_snapshot_ttl_ms); within one fan-out, late-arriving
// link changes are ignored — the dispatcher takes exactly one snapshot at
// fan-out start, so the TTL only matters across fan-outs.
func New(db *sql.DB, ttl time.Duration) *Registry {
	return &Registry{db: db, ttl: ttl, snapshots: make(map[string]snapshotEntry)}
}

// ActiveFollowers returns the active Follower Links for masterAccount,
// serving a cached snapshot if one was taken within ttl.
func (r *Registry) ActiveFollowers(ctx context.Context, masterAccount string) ([]*domain.FollowerLink, error) {
	r.mu.Lock()
	if entry, ok := r.snapshots[masterAccount]; ok && time.Since(entry.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return entry.links, nil
	}
	r.mu.Unlock()

	links, err := r.queryActive(ctx, masterAccount)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.snapshots[masterAccount] = snapshotEntry{links: links, fetchedAt: time.Now()}
	r.mu.Unlock()

	return links, nil
}

func (r *Registry) queryActive(ctx context.Context, masterAccount string) ([]*domain.FollowerLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM follower_links WHERE master_account = ? AND active = 1`, linkColumns)
	rows, err := r.db.QueryContext(ctx, query, masterAccount)
	if err != nil {
		return nil, fmt.Errorf("query active followers for %s: %w", masterAccount, err)
	}
	defer rows.Close()

	var links []*domain.FollowerLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follower link for %s: %w", masterAccount, err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanLink(rows *sql.Rows) (*domain.FollowerLink, error) {
	var link domain.FollowerLink
	var active int
	var variant string
	var ratio, percent sql.NullFloat64
	var quantity, maxNotional, maxDailyLoss sql.NullFloat64
	var createdAt int64

	err := rows.Scan(&link.MasterAccount, &link.FollowerAccount, &active, &variant,
		&ratio, &percent, &quantity, &maxNotional, &maxDailyLoss, &createdAt)
	if err != nil {
		return nil, err
	}

	link.Active = active != 0
	link.PolicyVariant = domain.CopyPolicyVariant(variant)
	link.CreatedAt = time.Unix(createdAt, 0)
	if ratio.Valid {
		link.PolicyRatio = &ratio.Float64
	}
	if percent.Valid {
		link.PolicyPercent = &percent.Float64
	}
	if quantity.Valid {
		q := int64(quantity.Float64)
		link.PolicyQuantity = &q
	}
	if maxNotional.Valid {
		link.MaxOrderNotional = &maxNotional.Float64
	}
	if maxDailyLoss.Valid {
		link.MaxDailyLoss = &maxDailyLoss.Float64
	}

	return &link, nil
}
