package reconcile

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/orderstore"
	"github.com/aristath/sentinel/internal/replerr"
	itesting "github.com/aristath/sentinel/internal/testing"
)

// stubBroker is a domain.BrokerAdapter fake whose Status call is scripted
// per test; every other method panics if reached since reconcile never
// calls them.
type stubBroker struct {
	statusResult *domain.StatusResult
	statusErr    error
}

func (s *stubBroker) Place(ctx context.Context, session *domain.Session, spec domain.OrderSpec) (*domain.PlaceResult, error) {
	panic("reconcile never places orders")
}
func (s *stubBroker) Status(ctx context.Context, session *domain.Session, brokerOrderID string) (*domain.StatusResult, error) {
	return s.statusResult, s.statusErr
}
func (s *stubBroker) Modify(ctx context.Context, session *domain.Session, brokerOrderID string, diff domain.ModifyDiff) (*domain.StatusResult, error) {
	panic("reconcile never modifies orders")
}
func (s *stubBroker) Cancel(ctx context.Context, session *domain.Session, brokerOrderID string) (*domain.StatusResult, error) {
	panic("reconcile never cancels orders")
}
func (s *stubBroker) Positions(ctx context.Context, session *domain.Session, account string) ([]domain.PositionSnapshot, error) {
	panic("reconcile never reads positions")
}
func (s *stubBroker) Balance(ctx context.Context, session *domain.Session, account string) (*domain.BalanceSnapshot, error) {
	panic("reconcile never reads balance")
}
func (s *stubBroker) Ping(ctx context.Context) (*domain.PingResult, error) {
	panic("reconcile never pings")
}

func newUnknownOrder(t *testing.T, store *orderstore.Store, brokerOrderID *string) *domain.Order {
	t.Helper()
	draft := itesting.NewMasterOrderFixture()
	draft.ID = ""
	draft.Status = domain.StatusUnknown
	draft.BrokerOrderID = brokerOrderID
	order, err := store.Create(context.Background(), draft)
	require.NoError(t, err)
	return order
}

func strPtr(s string) *string { return &s }

func TestReconcileOnce_ResolvesUnknownToCancelled(t *testing.T) {
	db, closeDB := itesting.NewTestDB(t, "ledger")
	defer closeDB()
	store := orderstore.New(db.Conn(), zerolog.Nop())

	order := newUnknownOrder(t, store, strPtr("broker-123"))

	broker := &stubBroker{statusResult: &domain.StatusResult{Status: domain.StatusCancelled, BrokerExchangeID: "NSE-1", Message: "cancelled by user"}}
	vault := itesting.NewFakeVault()
	r := New(store, store, vault, broker, zerolog.Nop())

	require.NoError(t, r.reconcileOnce(context.Background()))

	resolved, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, resolved.Status)
}

func TestReconcileOnce_SkipsOrdersWithoutABrokerOrderID(t *testing.T) {
	db, closeDB := itesting.NewTestDB(t, "ledger")
	defer closeDB()
	store := orderstore.New(db.Conn(), zerolog.Nop())

	order := newUnknownOrder(t, store, nil)

	broker := &stubBroker{}
	vault := itesting.NewFakeVault()
	r := New(store, store, vault, broker, zerolog.Nop())

	require.NoError(t, r.reconcileOnce(context.Background()))

	resolved, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, resolved.Status)
}

func TestReconcileOnce_LeavesOrderUnknownWhenBrokerStillDoesNotKnow(t *testing.T) {
	db, closeDB := itesting.NewTestDB(t, "ledger")
	defer closeDB()
	store := orderstore.New(db.Conn(), zerolog.Nop())

	order := newUnknownOrder(t, store, strPtr("broker-456"))

	broker := &stubBroker{statusResult: &domain.StatusResult{Status: domain.StatusUnknown}}
	vault := itesting.NewFakeVault()
	r := New(store, store, vault, broker, zerolog.Nop())

	require.NoError(t, r.reconcileOnce(context.Background()))

	resolved, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, resolved.Status)
}

func TestReconcileOnce_ToleratesPermanentBrokerErrorOnStatusQuery(t *testing.T) {
	db, closeDB := itesting.NewTestDB(t, "ledger")
	defer closeDB()
	store := orderstore.New(db.Conn(), zerolog.Nop())

	order := newUnknownOrder(t, store, strPtr("broker-789"))

	broker := &stubBroker{statusErr: &replerr.PermanentBrokerError{Message: "unknown order id"}}
	vault := itesting.NewFakeVault()
	r := New(store, store, vault, broker, zerolog.Nop())

	// The broker rejecting the status query is logged, not fatal: the
	// pass as a whole still succeeds so other unknown orders get polled.
	require.NoError(t, r.reconcileOnce(context.Background()))

	resolved, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, resolved.Status)
}

func TestReconcileOnce_NoUnknownOrdersIsANoOp(t *testing.T) {
	db, closeDB := itesting.NewTestDB(t, "ledger")
	defer closeDB()
	store := orderstore.New(db.Conn(), zerolog.Nop())

	broker := &stubBroker{}
	vault := itesting.NewFakeVault()
	r := New(store, store, vault, broker, zerolog.Nop())

	assert.NoError(t, r.reconcileOnce(context.Background()))
}
