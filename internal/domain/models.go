// Package domain holds the broker-agnostic types shared across every
// replication-core component: Order, Follower Link, Risk Envelope,
// Instrument Code, and Replication Event.
package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStop       OrderType = "stop"
	OrderTypeStopMarket OrderType = "stop-market"
)

// ProductType distinguishes intraday from delivery orders: two members
// only, mapped to single-letter wire constants by the broker adapter.
type ProductType string

const (
	ProductIntraday ProductType = "intraday"
	ProductDelivery ProductType = "delivery"
)

// TimeInForce enumerates order validity semantics.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFIOC TimeInForce = "ioc"
	TIFGTD TimeInForce = "gtd"
)

// OrderStatus is the canonical status set every broker response is mapped
// into. Transitions are monotonic along:
// pending -> submitted -> (filled | partially-filled -> filled) | rejected | cancelled.
// "unknown" is reachable from pending or submitted via a dispatch timeout,
// and is resolved later by the reconciler.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially-filled"
	StatusFilled          OrderStatus = "filled"
	StatusRejected        OrderStatus = "rejected"
	StatusCancelled       OrderStatus = "cancelled"
	StatusUnknown         OrderStatus = "unknown"
)

// orderStatusRank gives the monotonic partial order statuses must respect.
var orderStatusRank = map[OrderStatus]int{
	StatusPending:         0,
	StatusSubmitted:       1,
	StatusPartiallyFilled: 2,
	StatusFilled:          3,
}

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the monotonic partial order Order status must
// respect. Unknown is reachable from Pending or Submitted — a placement
// call can time out before the broker ever confirms receipt, so the
// follower order need not have reached Submitted first. Unknown resolves to
// any status the broker reports other than Pending; once terminal, no
// further transition is ever permitted.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusRejected || next == StatusCancelled {
		return true
	}
	if next == StatusUnknown {
		return s == StatusPending || s == StatusSubmitted
	}
	if s == StatusUnknown {
		return next != StatusPending
	}
	fromRank, fromOK := orderStatusRank[s]
	toRank, toOK := orderStatusRank[next]
	if !fromOK || !toOK {
		return false
	}
	return toRank >= fromRank
}

// Order is the identity the replication core reads and writes throughout
// the fan-out pipeline. Created by ingress (master) or the
// dispatcher (follower); mutated only by the dispatcher and adapter-driven
// status updates; never deleted.
type Order struct {
	ID               string
	OwnerAccount     string
	StrategyID       *string
	ParentID         *string // set iff this is a follower order
	Side             Side
	Type             OrderType
	Symbol           string
	Exchange         string
	Quantity         int64
	LimitPrice       *float64
	TriggerPrice     *float64
	ProductType      ProductType
	TimeInForce      TimeInForce
	Status           OrderStatus
	StatusRevision   int64
	BrokerOrderID    *string
	BrokerExchangeID *string
	LastMessage      *string
	CreatedAt        time.Time
	SubmittedAt      *time.Time
	TerminalAt       *time.Time
}

// IsFollowerOrder reports whether this order was derived from a master order.
func (o *Order) IsFollowerOrder() bool { return o.ParentID != nil }

// CopyPolicyVariant names the rule mapping master quantity to follower
// quantity.
type CopyPolicyVariant string

const (
	PolicyFixedRatio    CopyPolicyVariant = "fixed-ratio"
	PolicyPercentage    CopyPolicyVariant = "percentage"
	PolicyFixedQuantity CopyPolicyVariant = "fixed-quantity"
)

// FollowerLink is the relation and policy binding a follower to a master.
// At most one active link exists per (master, follower) pair.
type FollowerLink struct {
	MasterAccount    string
	FollowerAccount  string
	Active           bool
	PolicyVariant    CopyPolicyVariant
	PolicyRatio      *float64 // fixed-ratio: ratio in R+
	PolicyPercent    *float64 // percentage: percent in (0,100]
	PolicyQuantity   *int64   // fixed-quantity: quantity in N+
	MaxOrderNotional *float64
	MaxDailyLoss     *float64
	CreatedAt        time.Time
}

// RiskEnvelope is the set of per-account pre-trade limits.
// Precedence: per-link override -> account -> system default (narrowest
// wins), enforced by the risk gate, not by this type.
type RiskEnvelope struct {
	Account              string
	MaxDailyLoss         float64
	MaxDrawdownFraction  float64
	MaxPositionNotional  float64
	MaxOpenPositions     int64
	MaxAggregateExposure float64
	StopLossRequired     bool
}

// InstrumentCode is the broker's numeric identifier for a tradable security.
// (symbol, exchange) is unique while active; populated and refreshed out
// of band.
type InstrumentCode struct {
	Symbol          string
	Exchange        string
	ExchangeSegment string
	BrokerCode      int64
	LotSize         int64
	Active          bool
}

// FollowerOutcome enumerates what happened to one follower within a
// fan-out.
type FollowerOutcome string

const (
	OutcomeDispatched    FollowerOutcome = "dispatched"
	OutcomePolicySkipped FollowerOutcome = "policy_skipped"
	OutcomeUnmapped      FollowerOutcome = "unmapped"
	OutcomeRiskDenied    FollowerOutcome = "risk_denied"
	OutcomeBrokerErrored FollowerOutcome = "broker_errored"
	OutcomeTimedOut      FollowerOutcome = "timed_out"
)

// FollowerResult is one follower pipeline's terminal record within a
// Replication Event.
type FollowerResult struct {
	FollowerAccount string
	FollowerOrderID string
	Outcome         FollowerOutcome
	Reason          string
	LatencyMs       float64
}

// ReplicationEvent is the append-only aggregate record of one fan-out.
type ReplicationEvent struct {
	MasterOrderID string
	Total         int
	Dispatched    int
	PolicySkipped int
	Unmapped      int
	RiskDenied    int
	BrokerErrored int
	TimedOut      int
	P50LatencyMs  float64
	P95LatencyMs  float64
	P99LatencyMs  float64
	StartedAt     time.Time
	EndedAt       time.Time
	Results       []FollowerResult // in-memory only; not persisted per-row
}
