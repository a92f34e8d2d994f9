package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   bool
	}{
		{"pending", StatusPending, false},
		{"submitted", StatusSubmitted, false},
		{"partially-filled", StatusPartiallyFilled, false},
		{"unknown", StatusUnknown, false},
		{"filled", StatusFilled, true},
		{"rejected", StatusRejected, true},
		{"cancelled", StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending to submitted", StatusPending, StatusSubmitted, true},
		{"submitted to partially-filled", StatusSubmitted, StatusPartiallyFilled, true},
		{"partially-filled to filled", StatusPartiallyFilled, StatusFilled, true},
		{"submitted to unknown", StatusSubmitted, StatusUnknown, true},
		{"pending to unknown", StatusPending, StatusUnknown, true},
		{"submitted to rejected", StatusSubmitted, StatusRejected, true},
		{"submitted to cancelled", StatusSubmitted, StatusCancelled, true},
		{"filled is terminal, no further transition", StatusFilled, StatusSubmitted, false},
		{"rejected is terminal", StatusRejected, StatusFilled, false},
		{"cannot go backwards", StatusPartiallyFilled, StatusSubmitted, false},
		{"same state is not a regression", StatusSubmitted, StatusSubmitted, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrder_IsFollowerOrder(t *testing.T) {
	master := &Order{ID: "o1"}
	assert.False(t, master.IsFollowerOrder())

	parent := "o1"
	follower := &Order{ID: "o2", ParentID: &parent}
	assert.True(t, follower.IsFollowerOrder())
}
