// Package policy derives a follower order draft from a master order and a
// Follower Link, in the pure-function, typed-context style of round/floor
// helpers over already-typed domain values.
package policy

import (
	"math"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
)

// Transformer implements domain.CopyPolicyTransform.
type Transformer struct{}

// New returns a Copy Policy Transform.
func New() *Transformer { return &Transformer{} }

// Transform derives a follower order draft from masterOrder under link's
// policy. referencePrice is masterOrder's price if set, else the last-known
// mark (used by the percentage variant); lotSize comes from the Instrument
// Mapper; followerAvailableBalance is read by the caller from the broker
// balance snapshot for the percentage variant.
func (t *Transformer) Transform(masterOrder *domain.Order, link *domain.FollowerLink, referencePrice float64, lotSize int64, followerAvailableBalance float64) (*domain.Order, error) {
	var quantity int64

	switch link.PolicyVariant {
	case domain.PolicyFixedRatio:
		if link.PolicyRatio == nil {
			return nil, &replerr.PolicySkipError{Reason: replerr.TooSmall}
		}
		quantity = int64(math.Round(float64(masterOrder.Quantity) * *link.PolicyRatio))

	case domain.PolicyPercentage:
		if link.PolicyPercent == nil || referencePrice <= 0 {
			return nil, &replerr.PolicySkipError{Reason: replerr.TooSmall}
		}
		budget := followerAvailableBalance * (*link.PolicyPercent / 100.0)
		quantity = int64(math.Floor(budget / referencePrice))

	case domain.PolicyFixedQuantity:
		if link.PolicyQuantity == nil {
			return nil, &replerr.PolicySkipError{Reason: replerr.TooSmall}
		}
		quantity = *link.PolicyQuantity

	default:
		return nil, &replerr.PolicySkipError{Reason: replerr.TooSmall}
	}

	// Rounding always floors to the lot size from the Instrument Mapper.
	if lotSize > 1 {
		quantity = (quantity / lotSize) * lotSize
	}

	if quantity <= 0 {
		return nil, &replerr.PolicySkipError{Reason: replerr.TooSmall}
	}

	notional := float64(quantity) * referencePrice
	if link.MaxOrderNotional != nil && notional > *link.MaxOrderNotional {
		return nil, &replerr.PolicySkipError{Reason: replerr.LinkNotionalCap}
	}

	follower := &domain.Order{
		OwnerAccount: link.FollowerAccount,
		Side:         masterOrder.Side,
		Type:         masterOrder.Type,
		Symbol:       masterOrder.Symbol,
		Exchange:     masterOrder.Exchange,
		Quantity:     quantity,
		ProductType:  masterOrder.ProductType,
		TimeInForce:  masterOrder.TimeInForce,
		Status:       domain.StatusPending,
	}
	// Price/trigger are copied verbatim for limit/stop orders.
	if masterOrder.Type == domain.OrderTypeLimit || masterOrder.Type == domain.OrderTypeStopMarket {
		follower.LimitPrice = masterOrder.LimitPrice
	}
	if masterOrder.Type == domain.OrderTypeStop || masterOrder.Type == domain.OrderTypeStopMarket {
		follower.TriggerPrice = masterOrder.TriggerPrice
	}

	return follower, nil
}
