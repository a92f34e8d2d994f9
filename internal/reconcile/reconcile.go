// Package reconcile is the background task that resolves orders left in
// Unknown status, polling the broker adapter for each on a fixed schedule
// (reconcile_interval_ms, default 10000ms), built around robfig/cron/v3.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
)

// UnknownOrderSource lists orders left in Unknown status, implemented by
// *orderstore.Store.
type UnknownOrderSource interface {
	ListUnknown(ctx context.Context) ([]*domain.Order, error)
}

// Reconciler polls the broker for every order left in Unknown status and
// applies its canonical resolution via the Order Store.
type Reconciler struct {
	orders UnknownOrderSource
	store  domain.OrderStore
	vault  domain.CredentialVault
	broker domain.BrokerAdapter
	log    zerolog.Logger

	cron *cron.Cron
}

// New builds a Reconciler. The poll period is passed to Start.
func New(orders UnknownOrderSource, store domain.OrderStore, vault domain.CredentialVault, broker domain.BrokerAdapter, log zerolog.Logger) *Reconciler {
	c := cron.New(cron.WithSeconds())
	return &Reconciler{
		orders: orders,
		store:  store,
		vault:  vault,
		broker: broker,
		log:    log.With().Str("component", "reconciler").Logger(),
		cron:   c,
	}
}

// scheduleExpr builds a "every interval" cron expression compatible with
// robfig/cron/v3's seconds-enabled parser.
func scheduleExpr(interval time.Duration) string {
	return "@every " + interval.String()
}

// Start registers the poll job and starts the cron scheduler. Call Stop to
// drain the in-flight job on shutdown.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) error {
	_, err := r.cron.AddFunc(scheduleExpr(interval), func() {
		if err := r.reconcileOnce(ctx); err != nil {
			r.log.Error().Err(err).Msg("reconcile pass failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running job to finish.
func (r *Reconciler) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// reconcileOnce resolves every order currently Unknown by polling the
// broker's status endpoint and applying the canonical transition.
func (r *Reconciler) reconcileOnce(ctx context.Context) error {
	orders, err := r.orders.ListUnknown(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	r.log.Debug().Int("count", len(orders)).Msg("reconciling unknown orders")
	for _, order := range orders {
		r.resolveOne(ctx, order)
	}
	return nil
}

func (r *Reconciler) resolveOne(ctx context.Context, order *domain.Order) {
	if order.BrokerOrderID == nil {
		// Never reached the broker: the place() call timed out before the
		// broker could even assign an id. Nothing to poll; leave it for
		// manual follow-up.
		return
	}

	session, err := r.vault.Session(ctx, order.OwnerAccount)
	if err != nil {
		r.log.Warn().Err(err).Str("order_id", order.ID).Msg("reconcile: session unavailable")
		return
	}

	status, err := r.broker.Status(ctx, session, *order.BrokerOrderID)
	if err != nil {
		var permanent *replerr.PermanentBrokerError
		if errors.As(err, &permanent) {
			r.log.Warn().Err(err).Str("order_id", order.ID).Msg("reconcile: broker rejects status query")
		}
		return
	}
	if status.Status == domain.StatusUnknown {
		return
	}

	if _, err := r.store.AppendStatus(ctx, order.ID, status.Status, order.BrokerOrderID, &status.BrokerExchangeID, &status.Message); err != nil {
		var stale *replerr.StaleTransitionError
		if !errors.As(err, &stale) {
			r.log.Warn().Err(err).Str("order_id", order.ID).Msg("reconcile: append status failed")
		}
	}
}
