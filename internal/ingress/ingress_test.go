package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	itesting "github.com/aristath/sentinel/internal/testing"
)

type fakeDispatcher struct {
	called chan string
	event  *domain.ReplicationEvent
	err    error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{called: make(chan string, 1), event: &domain.ReplicationEvent{}}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, masterOrderID string) (*domain.ReplicationEvent, error) {
	f.called <- masterOrderID
	return f.event, f.err
}

func TestAccept_PublishesMasterOrderAcceptedSynchronously(t *testing.T) {
	dispatcher := newFakeDispatcher()
	bus := events.New(zerolog.Nop(), nil)
	sub, cancel := bus.Subscribe("master_order_accepted")
	defer cancel()

	hook := New(dispatcher, bus, zerolog.Nop())
	master := itesting.NewMasterOrderFixture()

	hook.Accept(master)

	select {
	case evt := <-sub:
		data, ok := evt.Data.(*events.MasterOrderAcceptedData)
		require.True(t, ok)
		assert.Equal(t, master.ID, data.MasterOrderID)
		assert.Equal(t, master.OwnerAccount, data.OwnerAccount)
	case <-time.After(time.Second):
		t.Fatal("master_order_accepted was not published")
	}
}

func TestAccept_DispatchesInBackgroundWithoutBlocking(t *testing.T) {
	dispatcher := newFakeDispatcher()
	bus := events.New(zerolog.Nop(), nil)
	hook := New(dispatcher, bus, zerolog.Nop())
	master := itesting.NewMasterOrderFixture()

	start := time.Now()
	hook.Accept(master)
	elapsed := time.Since(start)

	// Accept must return before the dispatcher call completes: the fan-out
	// happens in a goroutine the caller never waits on.
	assert.Less(t, elapsed, 500*time.Millisecond)

	select {
	case gotID := <-dispatcher.called:
		assert.Equal(t, master.ID, gotID)
	case <-time.After(time.Second):
		t.Fatal("dispatcher.Dispatch was never called")
	}
}

func TestAccept_DispatchErrorIsLoggedNotPropagated(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.err = assertErr{}
	bus := events.New(zerolog.Nop(), nil)
	hook := New(dispatcher, bus, zerolog.Nop())
	master := itesting.NewMasterOrderFixture()

	// Accept has no error return; a failing dispatch must not panic or
	// otherwise surface beyond the log line.
	assert.NotPanics(t, func() { hook.Accept(master) })

	select {
	case <-dispatcher.called:
	case <-time.After(time.Second):
		t.Fatal("dispatcher.Dispatch was never called")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "dispatch failed" }
