package followers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
	itesting "github.com/aristath/sentinel/internal/testing"
)

func TestRegistry_ActiveFollowers_ReturnsOnlyActive(t *testing.T) {
	db, cleanup := itesting.NewTestDB(t, "ledger")
	defer cleanup()

	conn := db.Conn()
	now := time.Now().Unix()
	_, err := conn.Exec(`INSERT INTO follower_links
		(master_account, follower_account, active, policy_variant, policy_ratio, created_at)
		VALUES (?, ?, 1, 'fixed-ratio', 0.5, ?)`, "master-1", "follower-1", now)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO follower_links
		(master_account, follower_account, active, policy_variant, policy_ratio, created_at)
		VALUES (?, ?, 0, 'fixed-ratio', 0.5, ?)`, "master-1", "follower-2", now)
	require.NoError(t, err)

	registry := New(conn, time.Minute)
	links, err := registry.ActiveFollowers(context.Background(), "master-1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "follower-1", links[0].FollowerAccount)
	assert.Equal(t, domain.PolicyFixedRatio, links[0].PolicyVariant)
	require.NotNil(t, links[0].PolicyRatio)
	assert.Equal(t, 0.5, *links[0].PolicyRatio)
}

func TestRegistry_ActiveFollowers_CachesWithinTTL(t *testing.T) {
	db, cleanup := itesting.NewTestDB(t, "ledger")
	defer cleanup()

	conn := db.Conn()
	now := time.Now().Unix()
	_, err := conn.Exec(`INSERT INTO follower_links
		(master_account, follower_account, active, policy_variant, policy_ratio, created_at)
		VALUES (?, ?, 1, 'fixed-ratio', 0.5, ?)`, "master-1", "follower-1", now)
	require.NoError(t, err)

	registry := New(conn, time.Hour)
	links1, err := registry.ActiveFollowers(context.Background(), "master-1")
	require.NoError(t, err)
	require.Len(t, links1, 1)

	// Insert a second link directly; cached snapshot should still return 1.
	_, err = conn.Exec(`INSERT INTO follower_links
		(master_account, follower_account, active, policy_variant, policy_ratio, created_at)
		VALUES (?, ?, 1, 'fixed-ratio', 0.5, ?)`, "master-1", "follower-2", now)
	require.NoError(t, err)

	links2, err := registry.ActiveFollowers(context.Background(), "master-1")
	require.NoError(t, err)
	assert.Len(t, links2, 1)
}

func TestRegistry_ActiveFollowers_NoLinksReturnsEmpty(t *testing.T) {
	db, cleanup := itesting.NewTestDB(t, "ledger")
	defer cleanup()

	registry := New(db.Conn(), time.Minute)
	links, err := registry.ActiveFollowers(context.Background(), "nonexistent-master")
	require.NoError(t, err)
	assert.Empty(t, links)
}
