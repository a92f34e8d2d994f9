package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sentinel/internal/domain"
)

// FakeBroker is an in-memory domain.BrokerAdapter satisfying the contract
// without any network call. Every placed order is accepted and immediately
// marked Submitted unless PlaceErr/PlaceStatus say otherwise; settable
// fields let a test simulate rejects, transient failures, or timeouts.
type FakeBroker struct {
	mu sync.Mutex

	PlaceErr    error
	PlaceStatus domain.OrderStatus

	placed []domain.OrderSpec
}

// NewFakeBroker returns a broker fake that accepts every order as Submitted.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{PlaceStatus: domain.StatusSubmitted}
}

func (f *FakeBroker) Place(ctx context.Context, session *domain.Session, spec domain.OrderSpec) (*domain.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaceErr != nil {
		return nil, f.PlaceErr
	}
	f.placed = append(f.placed, spec)
	return &domain.PlaceResult{
		BrokerOrderID: uuid.NewString(),
		Status:        f.PlaceStatus,
	}, nil
}

func (f *FakeBroker) Status(ctx context.Context, session *domain.Session, brokerOrderID string) (*domain.StatusResult, error) {
	return &domain.StatusResult{Status: domain.StatusFilled}, nil
}

func (f *FakeBroker) Modify(ctx context.Context, session *domain.Session, brokerOrderID string, diff domain.ModifyDiff) (*domain.StatusResult, error) {
	return &domain.StatusResult{Status: domain.StatusSubmitted}, nil
}

func (f *FakeBroker) Cancel(ctx context.Context, session *domain.Session, brokerOrderID string) (*domain.StatusResult, error) {
	return &domain.StatusResult{Status: domain.StatusCancelled}, nil
}

func (f *FakeBroker) Positions(ctx context.Context, session *domain.Session, account string) ([]domain.PositionSnapshot, error) {
	return nil, nil
}

func (f *FakeBroker) Balance(ctx context.Context, session *domain.Session, account string) (*domain.BalanceSnapshot, error) {
	return &domain.BalanceSnapshot{Currency: "INR", AvailableBalance: 1_000_000}, nil
}

func (f *FakeBroker) Ping(ctx context.Context) (*domain.PingResult, error) {
	return &domain.PingResult{Latency: time.Millisecond}, nil
}

// Placed returns every OrderSpec submitted via Place, for assertions.
func (f *FakeBroker) Placed() []domain.OrderSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderSpec, len(f.placed))
	copy(out, f.placed)
	return out
}

// FakeVault is a domain.CredentialVault fake handing out a fixed session
// per account, never touching the network.
type FakeVault struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	Err      error
}

// NewFakeVault builds a vault fake with no sessions minted yet.
func NewFakeVault() *FakeVault {
	return &FakeVault{sessions: make(map[string]*domain.Session)}
}

func (f *FakeVault) Session(ctx context.Context, account string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if s, ok := f.sessions[account]; ok {
		return s, nil
	}
	session := &domain.Session{Account: account, Token: "fake-token", ExpiresAt: time.Now().Add(time.Hour)}
	f.sessions[account] = session
	return session, nil
}

// Invalidate drops the cached session, forcing the next Session call to
// mint a fresh one.
func (f *FakeVault) Invalidate(account string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, account)
}

// FakeAccountMetrics is a fixed-value riskgate.AccountMetrics /
// dispatch.MarkPriceSource / dispatch.BalanceSource fake.
type FakeAccountMetrics struct {
	PnL           float64
	ExposureValue float64
	Drawdown      float64
	OpenPositions int64
	Balance       float64
	Mark          float64
}

// NewFakeAccountMetrics returns a permissive fake (zero PnL/exposure/
// drawdown, no open positions, ample balance) so risk-gate tests opt into
// denial explicitly rather than tripping it by default.
func NewFakeAccountMetrics() *FakeAccountMetrics {
	return &FakeAccountMetrics{Balance: 1_000_000, Mark: 100}
}

func (f *FakeAccountMetrics) DailyRealizedPnL(ctx context.Context, account string) (float64, error) {
	return f.PnL, nil
}
func (f *FakeAccountMetrics) Exposure(ctx context.Context, account string) (float64, error) {
	return f.ExposureValue, nil
}
func (f *FakeAccountMetrics) DrawdownFraction(ctx context.Context, account string) (float64, error) {
	return f.Drawdown, nil
}
func (f *FakeAccountMetrics) OpenPositionCount(ctx context.Context, account string) (int64, error) {
	return f.OpenPositions, nil
}
func (f *FakeAccountMetrics) AvailableBalance(ctx context.Context, account string) (float64, error) {
	return f.Balance, nil
}
func (f *FakeAccountMetrics) LastMark(ctx context.Context, symbol, exchange string) (float64, error) {
	return f.Mark, nil
}

// FakeRiskEnvelopeSource hands out a single fixed envelope regardless of
// account.
type FakeRiskEnvelopeSource struct {
	Envelope_ domain.RiskEnvelope
}

func (f *FakeRiskEnvelopeSource) Envelope(ctx context.Context, account string) (domain.RiskEnvelope, error) {
	e := f.Envelope_
	e.Account = account
	return e, nil
}

// ErrNotFound is returned by fakes that model a missing row.
var ErrNotFound = fmt.Errorf("not found")
