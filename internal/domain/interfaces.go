package domain

import "context"

// BrokerAdapter transforms an abstract order into broker wire format:
// place, query, modify, cancel; surface
// typed errors (replerr.TransientBrokerError / PermanentBrokerError /
// TimeoutError). The adapter MUST NOT retry place() internally — retries
// are the dispatcher's decision.
type BrokerAdapter interface {
	Place(ctx context.Context, session *Session, spec OrderSpec) (*PlaceResult, error)
	Status(ctx context.Context, session *Session, brokerOrderID string) (*StatusResult, error)
	Modify(ctx context.Context, session *Session, brokerOrderID string, diff ModifyDiff) (*StatusResult, error)
	Cancel(ctx context.Context, session *Session, brokerOrderID string) (*StatusResult, error)
	Positions(ctx context.Context, session *Session, account string) ([]PositionSnapshot, error)
	Balance(ctx context.Context, session *Session, account string) (*BalanceSnapshot, error)
	Ping(ctx context.Context) (*PingResult, error)
}

// InstrumentMapper resolves a (symbol, exchange) pair to the broker's
// numeric instrument code.
type InstrumentMapper interface {
	Resolve(ctx context.Context, symbol, exchange string) (*InstrumentCode, error)
	Invalidate()
}

// CredentialVault hands out a live broker session for an account,
// authenticating and caching as needed.
type CredentialVault interface {
	Session(ctx context.Context, account string) (*Session, error)
}

// OrderStore persists orders and their status transitions.
type OrderStore interface {
	Create(ctx context.Context, draft *Order) (*Order, error)
	AppendStatus(ctx context.Context, orderID string, next OrderStatus, brokerOrderID, brokerExchangeID, message *string) (*Order, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	ListByParent(ctx context.Context, parentID string) ([]*Order, error)
}

// FollowerRegistry looks up the active followers copying a master account.
type FollowerRegistry interface {
	ActiveFollowers(ctx context.Context, masterAccount string) ([]*FollowerLink, error)
}

// RiskDecision is a risk check's result: allow, or deny with a reason.
type RiskDecision struct {
	Allowed bool
	Reason  string
}

// RiskGate evaluates a proposed follower order against an account's risk
// envelope. referencePrice is the same mark/limit price the copy policy
// transform sized the order against — market orders carry no LimitPrice of
// their own, so the gate needs it to estimate notional.
type RiskGate interface {
	Check(ctx context.Context, account string, proposed *Order, envelope RiskEnvelope, referencePrice float64) (RiskDecision, error)
}

// CopyPolicyTransform maps a master order into a follower order sized
// according to the follower's copy policy.
type CopyPolicyTransform interface {
	Transform(masterOrder *Order, link *FollowerLink, referencePrice float64, lotSize int64, followerAvailableBalance float64) (*Order, error)
}
