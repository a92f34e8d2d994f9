package testing

import (
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sentinel/internal/domain"
)

// NewMasterOrderFixture returns a submitted master order ready to fan out,
// the shape dispatch.Dispatch expects Store.Get to return for an accepted
// master order.
func NewMasterOrderFixture() *domain.Order {
	price := 100.50
	return &domain.Order{
		ID:            uuid.NewString(),
		OwnerAccount:  "master-account",
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		Symbol:        "RELIANCE",
		Exchange:      "NSE",
		Quantity:      100,
		LimitPrice:    &price,
		ProductType:   domain.ProductIntraday,
		TimeInForce:   domain.TIFDay,
		Status:        domain.StatusSubmitted,
		StatusRevision: 0,
		CreatedAt:     time.Now(),
	}
}

// NewFollowerLinkFixture returns an active fixed-ratio follower link
// copying masterAccount's orders into followerAccount at the given ratio.
func NewFollowerLinkFixture(masterAccount, followerAccount string, ratio float64) *domain.FollowerLink {
	return &domain.FollowerLink{
		MasterAccount:   masterAccount,
		FollowerAccount: followerAccount,
		Active:          true,
		PolicyVariant:   domain.PolicyFixedRatio,
		PolicyRatio:     &ratio,
		CreatedAt:       time.Now(),
	}
}

// NewRiskEnvelopeFixture returns a permissive risk envelope, loose enough
// that tests exercising the happy path don't trip a deny by accident.
func NewRiskEnvelopeFixture(account string) domain.RiskEnvelope {
	return domain.RiskEnvelope{
		Account:               account,
		MaxDailyLoss:          1_000_000,
		MaxDrawdownFraction:   0.9,
		MaxPositionNotional:   10_000_000,
		MaxOpenPositions:      1000,
		MaxAggregateExposure:  50_000_000,
		StopLossRequired:      false,
	}
}
