// Package dispatch is the heart of the replication core: a
// bounded-concurrency fan-out engine that, per accepted master order,
// runs one follower pipeline per active link and seals a Replication
// Event once every pipeline has terminated.
//
// The overall fan-out structure is a worker-pool/task-group shape
// (bounded goroutines draining a unit of work, context-deadline-aware).
// Concurrency is bounded by a golang.org/x/sync/semaphore weighted
// semaphore shared across every in-flight follower pipeline from every
// in-flight master order, so one large fan-out can't starve broker calls
// for another.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/replerr"
	"github.com/aristath/sentinel/internal/replmetrics"
)

// RiskEnvelopeSource resolves the effective risk envelope for a follower,
// narrowest-wins across per-link override -> account -> system default;
// the caller applies the per-link override, this source supplies the
// account/system-default floor beneath it.
type RiskEnvelopeSource interface {
	Envelope(ctx context.Context, account string) (domain.RiskEnvelope, error)
}

// MarkPriceSource supplies the last-known mark for the copy policy
// transform's percentage variant when the master order carries no price.
type MarkPriceSource interface {
	LastMark(ctx context.Context, symbol, exchange string) (float64, error)
}

// BalanceSource supplies a follower's available balance for the percentage
// copy-policy variant and the risk gate's insufficient-balance check.
type BalanceSource interface {
	AvailableBalance(ctx context.Context, account string) (float64, error)
}

// SessionInvalidator matches the Credential Vault's Invalidate method. The
// Dispatcher holds none and never calls it: after an AuthTransient failure
// it only re-requests a session, and invalidation on a broker 401 is done by
// the adapter.
type SessionInvalidator interface {
	Invalidate(account string)
}

// Config is the subset of the replication core's configuration the
// dispatcher consumes.
type Config struct {
	MaxInFlightBrokerCalls int
	DispatchTimeout        time.Duration
	MaxRetries             int
	RetryBaseDelay         time.Duration
	RetryCapDelay          time.Duration
	RetryJitterPct         int
	WorkerPoolMultiplier   int
}

// Dispatcher wires every replication-core component — broker adapter,
// instrument mapper, credential vault, order store, follower registry,
// risk gate, copy policy transform, metrics, and the event bus — into the
// fan-out engine.
type Dispatcher struct {
	cfg Config
	log zerolog.Logger

	orders     domain.OrderStore
	followers  domain.FollowerRegistry
	risk       domain.RiskGate
	policy     domain.CopyPolicyTransform
	instrument domain.InstrumentMapper
	vault      domain.CredentialVault
	brokerAPI  domain.BrokerAdapter
	envelopes  RiskEnvelopeSource
	marks      MarkPriceSource
	balances   BalanceSource
	metrics    *replmetrics.Store
	bus        *events.Bus

	sem        *semaphore.Weighted
	workerPool *semaphore.Weighted
	stripes    stripedMutex
}

// New assembles a Dispatcher over its component graph.
func New(
	cfg Config,
	orders domain.OrderStore,
	followers domain.FollowerRegistry,
	risk domain.RiskGate,
	policy domain.CopyPolicyTransform,
	instrument domain.InstrumentMapper,
	vault domain.CredentialVault,
	brokerAPI domain.BrokerAdapter,
	envelopes RiskEnvelopeSource,
	marks MarkPriceSource,
	balances BalanceSource,
	metrics *replmetrics.Store,
	bus *events.Bus,
	log zerolog.Logger,
) *Dispatcher {
	workers := int64(runtime.NumCPU() * cfg.WorkerPoolMultiplier)
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		cfg:        cfg,
		log:        log.With().Str("component", "dispatcher").Logger(),
		orders:     orders,
		followers:  followers,
		risk:       risk,
		policy:     policy,
		instrument: instrument,
		vault:      vault,
		brokerAPI:  brokerAPI,
		envelopes:  envelopes,
		marks:      marks,
		balances:   balances,
		metrics:    metrics,
		bus:        bus,
		sem:        semaphore.NewWeighted(int64(cfg.MaxInFlightBrokerCalls)),
		workerPool: semaphore.NewWeighted(workers),
	}
}

// Dispatch runs the full fan-out for masterOrderID. It blocks until
// every follower pipeline has terminated and the
// Replication Event has sealed; the Ingress Hook is what calls this inside
// a goroutine so the front door's acknowledgment never waits on it.
func (d *Dispatcher) Dispatch(ctx context.Context, masterOrderID string) (*domain.ReplicationEvent, error) {
	started := time.Now()

	master, err := d.orders.Get(ctx, masterOrderID)
	if err != nil {
		return nil, fmt.Errorf("resolve master order %s: %w", masterOrderID, err)
	}
	if !isDispatchable(master.Status) {
		return nil, fmt.Errorf("master order %s has non-dispatchable status %s", masterOrderID, master.Status)
	}

	links, err := d.followers.ActiveFollowers(ctx, master.OwnerAccount)
	if err != nil {
		return nil, fmt.Errorf("resolve active followers for %s: %w", master.OwnerAccount, err)
	}
	if len(links) == 0 {
		event := replmetrics.Seal(masterOrderID, nil, started, time.Now())
		d.publishSealed(masterOrderID, event)
		return event, d.metrics.Append(ctx, event)
	}

	results := make([]domain.FollowerResult, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link *domain.FollowerLink) {
			defer wg.Done()
			// workerPool bounds how many of this (and every other
			// in-flight master order's) follower pipelines run at once;
			// sized WorkerPoolMultiplier-per-CPU, independent of the
			// narrower MaxInFlightBrokerCalls bound placeWithRetry applies
			// around the broker call itself.
			if err := d.workerPool.Acquire(ctx, 1); err != nil {
				results[i] = domain.FollowerResult{
					FollowerAccount: link.FollowerAccount,
					Outcome:         domain.OutcomeTimedOut,
					Reason:          "dispatch_timeout",
				}
				return
			}
			defer d.workerPool.Release(1)
			results[i] = d.runPipeline(ctx, started, master, link)
		}(i, link)
	}
	wg.Wait()

	event := replmetrics.Seal(masterOrderID, results, started, time.Now())
	d.publishSealed(masterOrderID, event)
	return event, d.metrics.Append(ctx, event)
}

func isDispatchable(status domain.OrderStatus) bool {
	switch status {
	case domain.StatusSubmitted, domain.StatusPartiallyFilled, domain.StatusFilled:
		return true
	default:
		return false
	}
}

// runPipeline executes one follower's full pipeline — transform, resolve,
// risk-check, persist, place, reconcile — never returning an error: every
// failure mode is a recorded outcome instead, so one follower's trouble
// never aborts the fan-out for any other.
func (d *Dispatcher) runPipeline(ctx context.Context, fanOutStart time.Time, master *domain.Order, link *domain.FollowerLink) domain.FollowerResult {
	pipelineCtx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout)
	defer cancel()

	result := domain.FollowerResult{FollowerAccount: link.FollowerAccount}
	recordLatency := func() {
		result.LatencyMs = float64(time.Since(fanOutStart).Microseconds()) / 1000.0
	}

	// (a) Transform via the copy policy.
	referencePrice := 0.0
	if master.LimitPrice != nil {
		referencePrice = *master.LimitPrice
	} else if mark, err := d.marks.LastMark(pipelineCtx, master.Symbol, master.Exchange); err == nil {
		referencePrice = mark
	}
	availableBalance := 0.0
	if link.PolicyVariant == domain.PolicyPercentage {
		if bal, err := d.balances.AvailableBalance(pipelineCtx, link.FollowerAccount); err == nil {
			availableBalance = bal
		}
	}

	lotSize := int64(1)
	instrumentCode, instrErr := d.instrument.Resolve(pipelineCtx, master.Symbol, master.Exchange)
	if instrErr == nil {
		lotSize = instrumentCode.LotSize
	}

	draft, err := d.policy.Transform(master, link, referencePrice, lotSize, availableBalance)
	if err != nil {
		var skip *replerr.PolicySkipError
		if errors.As(err, &skip) {
			result.Outcome = domain.OutcomePolicySkipped
			result.Reason = string(skip.Reason)
			recordLatency()
			return result
		}
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = err.Error()
		recordLatency()
		return result
	}
	draft.ParentID = &master.ID

	// (b) Instrument resolve (resolved above; branch on its error here).
	if instrErr != nil {
		result.Outcome = domain.OutcomeUnmapped
		result.Reason = instrErr.Error()
		recordLatency()
		return result
	}

	// (c) Risk gate.
	envelope, err := d.envelopeFor(pipelineCtx, link)
	if err != nil {
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = err.Error()
		recordLatency()
		return result
	}
	decision, err := d.risk.Check(pipelineCtx, link.FollowerAccount, draft, envelope, referencePrice)
	if err != nil {
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = err.Error()
		recordLatency()
		return result
	}
	if !decision.Allowed {
		result.Outcome = domain.OutcomeRiskDenied
		result.Reason = decision.Reason
		recordLatency()
		return result
	}

	// (d) Persist a pending follower order; its id is the idempotency token.
	// Guarded by the per-account stripe lock so a concurrent re-dispatch of
	// the same master order can't race the existing-order lookup below.
	unlock := d.stripes.lock(link.FollowerAccount)
	defer unlock()

	existing, err := d.existingFollowerOrder(pipelineCtx, master.ID, link.FollowerAccount)
	if err != nil {
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = err.Error()
		recordLatency()
		return result
	}
	if existing != nil {
		result.FollowerOrderID = existing.ID
		result.Outcome, result.Reason = outcomeForExistingOrder(existing)
		recordLatency()
		return result
	}

	order, err := d.orders.Create(pipelineCtx, draft)
	if err != nil {
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = err.Error()
		recordLatency()
		return result
	}
	result.FollowerOrderID = order.ID

	placeResult, placeErr := d.placeWithRetry(pipelineCtx, link.FollowerAccount, order, instrumentCode.BrokerCode)
	if placeErr != nil {
		d.classifyOutcome(&result, placeErr)
		d.appendFailureStatus(pipelineCtx, order.ID, placeErr)
		recordLatency()
		return result
	}

	// (i) Append status with broker id and exchange id.
	brokerID := placeResult.BrokerOrderID
	if _, err := d.orders.AppendStatus(pipelineCtx, order.ID, placeResult.Status, &brokerID, nil, &placeResult.Message); err != nil {
		var stale *replerr.StaleTransitionError
		if !errors.As(err, &stale) {
			d.log.Warn().Err(err).Str("order_id", order.ID).Msg("append status failed after successful place")
		}
	}

	result.Outcome = domain.OutcomeDispatched
	recordLatency()
	d.publishOutcome(master.ID, result)
	return result
}

// placeWithRetry obtains a session (retrying once on AuthTransient), then
// places with retry-with-backoff on TransientBrokerError up to
// max_retries.
func (d *Dispatcher) placeWithRetry(ctx context.Context, account string, order *domain.Order, instrumentCode int64) (*domain.PlaceResult, error) {
	session, err := d.sessionWithRetry(ctx, account)
	if err != nil {
		return nil, err
	}

	spec := toOrderSpec(order, instrumentCode)

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil, &replerr.TimeoutError{Cause: err}
		}
		result, err := d.brokerAPI.Place(ctx, session, spec)
		d.sem.Release(1)

		if err == nil {
			return result, nil
		}
		lastErr = err

		var authErr *replerr.AuthTransientError
		if errors.As(err, &authErr) {
			session, err = d.sessionWithRetry(ctx, account)
			if err != nil {
				return nil, err
			}
			continue
		}

		var transient *replerr.TransientBrokerError
		if !errors.As(err, &transient) {
			return nil, err
		}
		if attempt == d.cfg.MaxRetries {
			break
		}
		delay := backoffDelay(attempt, d.cfg.RetryBaseDelay, d.cfg.RetryCapDelay, d.cfg.RetryJitterPct)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &replerr.TimeoutError{Cause: ctx.Err()}
		}
	}
	return nil, lastErr
}

// sessionWithRetry obtains a broker session, retrying authentication once
// on AuthTransient.
func (d *Dispatcher) sessionWithRetry(ctx context.Context, account string) (*domain.Session, error) {
	session, err := d.vault.Session(ctx, account)
	if err == nil {
		return session, nil
	}

	var authErr *replerr.AuthTransientError
	if !errors.As(err, &authErr) {
		return nil, err
	}
	return d.vault.Session(ctx, account)
}

// existingFollowerOrder returns the follower order already created for
// (masterOrderID, follower), if one exists. A repeated Dispatch call for a
// master order that's already been fanned out to this follower must
// observe that prior record instead of placing a second order with the
// broker.
func (d *Dispatcher) existingFollowerOrder(ctx context.Context, masterOrderID, followerAccount string) (*domain.Order, error) {
	siblings, err := d.orders.ListByParent(ctx, masterOrderID)
	if err != nil {
		return nil, fmt.Errorf("check existing follower orders for %s: %w", masterOrderID, err)
	}
	for _, o := range siblings {
		if o.OwnerAccount == followerAccount {
			return o, nil
		}
	}
	return nil, nil
}

// outcomeForExistingOrder maps a previously-dispatched follower order's
// persisted status back to the outcome a fresh run of the pipeline would
// have recorded, so a short-circuited re-dispatch reports consistently
// with the original attempt.
func outcomeForExistingOrder(order *domain.Order) (domain.FollowerOutcome, string) {
	reason := "idempotent replay: follower order already exists for this master order"
	if order.LastMessage != nil && *order.LastMessage != "" {
		reason = *order.LastMessage
	}
	switch order.Status {
	case domain.StatusRejected:
		return domain.OutcomeBrokerErrored, reason
	case domain.StatusUnknown:
		return domain.OutcomeTimedOut, reason
	default:
		return domain.OutcomeDispatched, reason
	}
}

// appendFailureStatus persists the status a failed placement leaves the
// follower order in: Unknown on timeout, since the broker may have
// accepted the order upstream and the reconciler will resolve it later;
// Rejected on every other, definitive failure.
func (d *Dispatcher) appendFailureStatus(ctx context.Context, orderID string, placeErr error) {
	next := domain.StatusRejected
	var timeout *replerr.TimeoutError
	if errors.As(placeErr, &timeout) {
		next = domain.StatusUnknown
	}
	message := placeErr.Error()
	if _, err := d.orders.AppendStatus(ctx, orderID, next, nil, nil, &message); err != nil {
		var stale *replerr.StaleTransitionError
		if !errors.As(err, &stale) {
			d.log.Warn().Err(err).Str("order_id", orderID).Msg("append status failed after failed placement")
		}
	}
}

func (d *Dispatcher) classifyOutcome(result *domain.FollowerResult, err error) {
	var invalidCreds *replerr.InvalidCredentialsError
	var timeout *replerr.TimeoutError
	switch {
	case errors.As(err, &invalidCreds):
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = "credential"
	case errors.As(err, &timeout):
		result.Outcome = domain.OutcomeTimedOut
		result.Reason = "dispatch_timeout"
	default:
		result.Outcome = domain.OutcomeBrokerErrored
		result.Reason = err.Error()
	}
}

func (d *Dispatcher) envelopeFor(ctx context.Context, link *domain.FollowerLink) (domain.RiskEnvelope, error) {
	envelope, err := d.envelopes.Envelope(ctx, link.FollowerAccount)
	if err != nil {
		return domain.RiskEnvelope{}, err
	}
	if link.MaxDailyLoss != nil && *link.MaxDailyLoss < envelope.MaxDailyLoss {
		envelope.MaxDailyLoss = *link.MaxDailyLoss
	}
	if link.MaxOrderNotional != nil && *link.MaxOrderNotional < envelope.MaxPositionNotional {
		envelope.MaxPositionNotional = *link.MaxOrderNotional
	}
	return envelope, nil
}

func toOrderSpec(order *domain.Order, instrumentCode int64) domain.OrderSpec {
	return domain.OrderSpec{
		Exchange:         order.Exchange,
		InstrumentCode:   instrumentCode,
		Side:             order.Side,
		Type:             order.Type,
		Quantity:         order.Quantity,
		LimitPrice:       order.LimitPrice,
		TriggerPrice:     order.TriggerPrice,
		ProductType:      order.ProductType,
		TimeInForce:      order.TimeInForce,
		IdempotencyToken: order.ID,
	}
}

func (d *Dispatcher) publishOutcome(masterOrderID string, result domain.FollowerResult) {
	d.bus.Publish("follower_outcome", events.EventWithData{
		Type:      events.FollowerOutcome,
		Timestamp: time.Now(),
		Data: &events.FollowerOutcomeData{
			MasterOrderID:   masterOrderID,
			FollowerAccount: result.FollowerAccount,
			FollowerOrderID: result.FollowerOrderID,
			Outcome:         string(result.Outcome),
			Reason:          result.Reason,
			LatencyMs:       result.LatencyMs,
		},
	})
}

func (d *Dispatcher) publishSealed(masterOrderID string, event *domain.ReplicationEvent) {
	d.bus.Publish("replication_sealed", events.EventWithData{
		Type:      events.ReplicationSealed,
		Timestamp: time.Now(),
		Data: &events.ReplicationSealedData{
			MasterOrderID: masterOrderID,
			Total:         event.Total,
			Dispatched:    event.Dispatched,
			PolicySkipped: event.PolicySkipped,
			Unmapped:      event.Unmapped,
			RiskDenied:    event.RiskDenied,
			BrokerErrored: event.BrokerErrored,
			TimedOut:      event.TimedOut,
			P95LatencyMs:  event.P95LatencyMs,
		},
	})
}
