package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
)

func ptr(f float64) *float64 { return &f }

func masterLimitOrder(qty int64, price float64) *domain.Order {
	p := price
	return &domain.Order{
		OwnerAccount: "master",
		Side:         domain.SideBuy,
		Type:         domain.OrderTypeLimit,
		Symbol:       "RELIANCE",
		Exchange:     "NSE",
		Quantity:     qty,
		LimitPrice:   &p,
		ProductType:  domain.ProductIntraday,
		TimeInForce:  domain.TIFDay,
	}
}

func TestTransform_FixedRatio(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	ratio := 0.5
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyFixedRatio,
		PolicyRatio:     &ratio,
	}

	got, err := tr.Transform(master, link, 50, 1, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Quantity)
	assert.Equal(t, "follower-1", got.OwnerAccount)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, master.LimitPrice, got.LimitPrice)
}

func TestTransform_FixedRatio_RoundsToLotSize(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	ratio := 0.33 // 100 * 0.33 = 33, rounds down to nearest multiple of 10 = 30
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyFixedRatio,
		PolicyRatio:     &ratio,
	}

	got, err := tr.Transform(master, link, 50, 10, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Quantity)
}

func TestTransform_Percentage(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	pct := 10.0 // 10% of available balance
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyPercentage,
		PolicyPercent:   &pct,
	}

	// 10% of 10000 = 1000 budget / 50 reference price = 20 shares
	got, err := tr.Transform(master, link, 50, 1, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Quantity)
}

func TestTransform_Percentage_ZeroReferencePriceSkips(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	pct := 10.0
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyPercentage,
		PolicyPercent:   &pct,
	}

	_, err := tr.Transform(master, link, 0, 1, 10_000)
	var skipErr *replerr.PolicySkipError
	require.ErrorAs(t, err, &skipErr)
	assert.Equal(t, replerr.TooSmall, skipErr.Reason)
}

func TestTransform_FixedQuantity(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	qty := int64(25)
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyFixedQuantity,
		PolicyQuantity:  &qty,
	}

	got, err := tr.Transform(master, link, 50, 1, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.Quantity)
}

func TestTransform_QuantityRoundsToZeroSkips(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	ratio := 0.001 // 100 * 0.001 = 0.1, rounds to 0
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyFixedRatio,
		PolicyRatio:     &ratio,
	}

	_, err := tr.Transform(master, link, 50, 1, 1_000_000)
	var skipErr *replerr.PolicySkipError
	require.ErrorAs(t, err, &skipErr)
	assert.Equal(t, replerr.TooSmall, skipErr.Reason)
}

func TestTransform_NotionalCapExceededSkips(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	ratio := 1.0
	notionalCap := 1000.0 // 100 shares * 50 = 5000 notional > cap
	link := &domain.FollowerLink{
		FollowerAccount:  "follower-1",
		PolicyVariant:    domain.PolicyFixedRatio,
		PolicyRatio:      &ratio,
		MaxOrderNotional: &notionalCap,
	}

	_, err := tr.Transform(master, link, 50, 1, 1_000_000)
	var skipErr *replerr.PolicySkipError
	require.ErrorAs(t, err, &skipErr)
	assert.Equal(t, replerr.LinkNotionalCap, skipErr.Reason)
}

func TestTransform_MissingRatioSkips(t *testing.T) {
	tr := New()
	master := masterLimitOrder(100, 50)
	link := &domain.FollowerLink{
		FollowerAccount: "follower-1",
		PolicyVariant:   domain.PolicyFixedRatio,
		PolicyRatio:     nil,
	}

	_, err := tr.Transform(master, link, 50, 1, 1_000_000)
	assert.Error(t, err)
}

func TestTransform_StopOrderCopiesTriggerPrice(t *testing.T) {
	tr := New()
	trigger := 45.0
	master := &domain.Order{
		OwnerAccount: "master",
		Side:         domain.SideSell,
		Type:         domain.OrderTypeStop,
		Symbol:       "TCS",
		Exchange:     "NSE",
		Quantity:     10,
		TriggerPrice: &trigger,
	}
	ratio := 1.0
	link := &domain.FollowerLink{FollowerAccount: "f1", PolicyVariant: domain.PolicyFixedRatio, PolicyRatio: &ratio}

	got, err := tr.Transform(master, link, 45, 1, 1_000_000)
	require.NoError(t, err)
	require.NotNil(t, got.TriggerPrice)
	assert.Equal(t, trigger, *got.TriggerPrice)
	assert.Nil(t, got.LimitPrice)
}
