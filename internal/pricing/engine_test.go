package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promotion-engine/internal/pricing"
)

func TestComputeAccumulatesDiscountFromNegativeLines(t *testing.T) {
	items := []pricing.Item{
		{Qty: 2, UnitPrice: 1000},
		{Qty: 1, UnitPrice: -500},
	}
	summary := pricing.Compute(items, 1900, 0)

	require.Equal(t, pricing.Money(2000), summary.Subtotal)
	require.Equal(t, pricing.Money(500), summary.Discount)
	require.Equal(t, pricing.Money(285), summary.Tax)
	require.Equal(t, pricing.Money(1785), summary.Total)
}

func TestComputeCapsDiscountAtSubtotal(t *testing.T) {
	items := []pricing.Item{
		{Qty: 1, UnitPrice: 300},
		{Qty: 1, UnitPrice: -1000},
	}
	summary := pricing.Compute(items, 1900, 100)

	require.Equal(t, pricing.Money(300), summary.Subtotal)
	require.Equal(t, pricing.Money(300), summary.Discount)
	require.Zero(t, summary.Tax)
	require.Equal(t, pricing.Money(100), summary.Total)
}

func TestComputeIgnoresNonPositiveQuantities(t *testing.T) {
	items := []pricing.Item{
		{Qty: 0, UnitPrice: 1000},
		{Qty: -2, UnitPrice: 1000},
		{Qty: 1, UnitPrice: 750},
	}
	summary := pricing.Compute(items, 0, 0)

	require.Equal(t, pricing.Money(750), summary.Subtotal)
	require.Equal(t, pricing.Money(750), summary.Total)
}
