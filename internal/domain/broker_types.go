package domain

import "time"

// Broker-agnostic types for the BrokerAdapter contract. These abstract
// away the broker wire format so the dispatcher never constructs wire
// payloads directly.

// OrderSpec is the input to Broker Adapter's place() call, assembled by the
// dispatcher from a follower Order, the Instrument Mapper's resolved code,
// and the client-supplied idempotency token.
type OrderSpec struct {
	Exchange        string
	InstrumentCode  int64
	Side            Side
	Type            OrderType
	Quantity        int64
	LimitPrice      *float64
	TriggerPrice    *float64
	ProductType     ProductType
	TimeInForce     TimeInForce
	IdempotencyToken string // the follower order id
}

// PlaceResult is the Broker Adapter's place() result.
type PlaceResult struct {
	BrokerOrderID string
	Status        OrderStatus
	Message       string
}

// StatusResult is the Broker Adapter's status() result.
type StatusResult struct {
	Status           OrderStatus
	BrokerExchangeID string
	Message          string
}

// ModifyDiff carries the fields a modify() call may change; nil fields are
// left unchanged.
type ModifyDiff struct {
	Quantity     *int64
	LimitPrice   *float64
	TriggerPrice *float64
}

// PositionSnapshot is one open position returned by positions().
type PositionSnapshot struct {
	Symbol   string
	Exchange string
	Quantity int64
	AvgPrice float64
	LastMark float64
}

// BalanceSnapshot is the account balance returned by balance().
type BalanceSnapshot struct {
	Currency         string
	AvailableBalance float64
}

// PingResult is the Broker Adapter's ping() result.
type PingResult struct {
	Latency time.Duration
}

// Session is the Credential Vault's authenticated session handle. It is
// not reference-counted (refCount is never read or updated); the vault
// stores a new handle on refresh rather than changing one already handed out.
type Session struct {
	Account   string
	Token     string
	ExpiresAt time.Time
	refCount  int32
}
