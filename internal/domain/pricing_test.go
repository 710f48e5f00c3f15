package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputePricing_ReferenceCase(t *testing.T) {
	b := ComputePricing(decimal.RequireFromString("120.00"), 5, decimal.RequireFromString("150.50"))

	assertDecimal(t, "total", b.TotalPrice, "600.00")
	assertDecimal(t, "listing total", b.ListingTotal, "752.50")
	assertDecimal(t, "discount", b.DiscountAmount, "152.50")
	assertDecimal(t, "percentage", b.DiscountPercentage, "20.2658")

	if got := b.DiscountPercentageFloat(); got != 20.2658 {
		t.Fatalf("unexpected display percentage: %v", got)
	}
}

func TestComputePricing_RoundsHalfUp(t *testing.T) {
	// 1/3 скидки: 33.33333... -> 33.3333; 2/3 -> 66.6667.
	b := ComputePricing(decimal.RequireFromString("2.00"), 1, decimal.RequireFromString("3.00"))
	assertDecimal(t, "third", b.DiscountPercentage, "33.3333")

	b = ComputePricing(decimal.RequireFromString("1.00"), 1, decimal.RequireFromString("3.00"))
	assertDecimal(t, "two thirds", b.DiscountPercentage, "66.6667")
}

func TestComputePricing_AboveListingPrice(t *testing.T) {
	b := ComputePricing(decimal.RequireFromString("110.00"), 2, decimal.RequireFromString("100.00"))
	assertDecimal(t, "discount", b.DiscountAmount, "-20.00")
	assertDecimal(t, "percentage", b.DiscountPercentage, "-10")
}

func TestComputePricing_ZeroListingPrice(t *testing.T) {
	b := ComputePricing(decimal.RequireFromString("10.00"), 1, decimal.Zero)
	if !b.DiscountPercentage.IsZero() {
		t.Fatalf("expected zero percentage, got %s", b.DiscountPercentage)
	}
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: got %s, want %s", name, got.String(), want)
	}
}
