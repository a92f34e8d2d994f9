// Package replerr defines the error taxonomy shared by every component of
// the replication core. Components return these typed errors rather than
// ad-hoc strings so the dispatcher can branch on kind with
// errors.As/errors.Is instead of string matching.
package replerr

import "fmt"

// UnknownInstrumentError is permanent: no broker call is made.
type UnknownInstrumentError struct {
	Symbol   string
	Exchange string
}

func (e *UnknownInstrumentError) Error() string {
	return fmt.Sprintf("unknown instrument: %s on %s", e.Symbol, e.Exchange)
}

// RiskDenialReason enumerates why the risk gate denied an order.
type RiskDenialReason string

const (
	DailyLossBreached     RiskDenialReason = "DailyLossBreached"
	DrawdownBreached      RiskDenialReason = "DrawdownBreached"
	PositionCountBreached RiskDenialReason = "PositionCountBreached"
	PositionSizeBreached  RiskDenialReason = "PositionSizeBreached"
	ExposureBreached      RiskDenialReason = "ExposureBreached"
	InsufficientBalance   RiskDenialReason = "InsufficientBalance"
)

// RiskDeniedError is permanent for this order: skip with recorded outcome.
type RiskDeniedError struct {
	Reason RiskDenialReason
}

func (e *RiskDeniedError) Error() string {
	return fmt.Sprintf("risk denied: %s", e.Reason)
}

// PolicySkipReason enumerates why the copy policy transform skipped an order.
type PolicySkipReason string

const (
	TooSmall       PolicySkipReason = "TooSmall"
	LinkNotionalCap PolicySkipReason = "LinkNotionalCap"
)

// PolicySkipError means quantity went to zero, or the order exceeds the
// link's notional cap.
type PolicySkipError struct {
	Reason PolicySkipReason
}

func (e *PolicySkipError) Error() string {
	return fmt.Sprintf("policy skip: %s", e.Reason)
}

// InvalidCredentialsError is permanent per account until the vault is
// updated with fresh credentials.
type InvalidCredentialsError struct {
	Account string
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials for account %s", e.Account)
}

// AuthTransientError is retryable: the dispatcher re-requests a session
// from the vault once, without a delay.
type AuthTransientError struct {
	Cause error
}

func (e *AuthTransientError) Error() string {
	return fmt.Sprintf("transient auth failure: %v", e.Cause)
}

func (e *AuthTransientError) Unwrap() error { return e.Cause }

// TransientBrokerError maps to broker HTTP 429 or 5xx responses; the
// dispatcher retries these with backoff up to max_retries.
type TransientBrokerError struct {
	StatusCode int
	Message    string
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("transient broker error (%d): %s", e.StatusCode, e.Message)
}

// PermanentBrokerError maps to broker 4xx responses other than 401/429;
// the follower order is marked rejected with the broker message.
type PermanentBrokerError struct {
	StatusCode int
	Message    string
}

func (e *PermanentBrokerError) Error() string {
	return fmt.Sprintf("permanent broker error (%d): %s", e.StatusCode, e.Message)
}

// TimeoutError means the broker call exceeded its deadline; the follower
// order is left Unknown and resolved later by the reconciler.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("broker call timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// StaleTransitionError is returned by the Order Store when a transition is
// not permitted or loses the revision race; callers discard it rather than
// propagating it.
type StaleTransitionError struct {
	OrderID          string
	CurrentRevision  int64
	AttemptedRevision int64
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition on order %s: current revision %d, attempted %d",
		e.OrderID, e.CurrentRevision, e.AttemptedRevision)
}
