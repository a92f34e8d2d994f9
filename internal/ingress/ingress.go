// Package ingress is the entry point the front door calls once a master
// order has been validated, risk-checked for the master itself, and
// persisted in "submitted" state.
//
// It follows the goroutine-launch-and-return-immediately bootstrap idiom
// (`go dispatcher.Dispatch(...)`): the master order's acknowledgment to
// its caller must never wait on follower fan-out.
package ingress

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

// Dispatcher is the subset of *dispatch.Dispatcher the hook depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, masterOrderID string) (*domain.ReplicationEvent, error)
}

// Hook is the Ingress Hook.
type Hook struct {
	dispatcher Dispatcher
	bus        *events.Bus
	log        zerolog.Logger
}

// New builds an Ingress Hook.
func New(dispatcher Dispatcher, bus *events.Bus, log zerolog.Logger) *Hook {
	return &Hook{dispatcher: dispatcher, bus: bus, log: log.With().Str("component", "ingress_hook").Logger()}
}

// Accept is called by the front door with an already-persisted master
// order. It publishes a "master order accepted" event, kicks off the
// dispatcher fan-out asynchronously, and returns immediately; the caller's
// acknowledgment never blocks on follower replication.
func (h *Hook) Accept(master *domain.Order) {
	h.bus.Publish("master_order_accepted", events.EventWithData{
		Type:      events.MasterOrderAccepted,
		Timestamp: time.Now(),
		Data: &events.MasterOrderAcceptedData{
			MasterOrderID: master.ID,
			OwnerAccount:  master.OwnerAccount,
			Symbol:        master.Symbol,
			Side:          string(master.Side),
		},
	})

	go func() {
		// A background fan-out is not bounded by the caller's request
		// context; it gets its own, so a client disconnect never cancels
		// in-flight broker calls mid-pipeline.
		ctx := context.Background()
		if _, err := h.dispatcher.Dispatch(ctx, master.ID); err != nil {
			h.log.Error().Err(err).Str("master_order_id", master.ID).Msg("dispatch failed")
		}
	}()
}
