package domain

import "github.com/shopspring/decimal"

const (
	// MoneyScale: число знаков после запятой в денежных суммах.
	MoneyScale = 2
	// PercentScale: промежуточная точность процента скидки.
	PercentScale = 4
)

var hundred = decimal.NewFromInt(100)

// PriceBreakdown содержит производные суммы для отображения оффера.
type PriceBreakdown struct {
	TotalPrice         decimal.Decimal
	ListingTotal       decimal.Decimal
	DiscountAmount     decimal.Decimal
	DiscountPercentage decimal.Decimal
}

// ComputePricing считает итог оффера и скидку относительно цены объявления.
// Суммы округляются half-up до 2 знаков, процент до 4.
func ComputePricing(offeredPrice decimal.Decimal, quantity int, listingPrice decimal.Decimal) PriceBreakdown {
	qty := decimal.NewFromInt(int64(quantity))
	total := offeredPrice.Mul(qty).Round(MoneyScale)
	listingTotal := listingPrice.Mul(qty).Round(MoneyScale)
	discount := listingTotal.Sub(total).Round(MoneyScale)

	percentage := decimal.Zero
	if !listingTotal.IsZero() {
		percentage = discount.Mul(hundred).DivRound(listingTotal, PercentScale)
	}

	return PriceBreakdown{
		TotalPrice:         total,
		ListingTotal:       listingTotal,
		DiscountAmount:     discount,
		DiscountPercentage: percentage,
	}
}

// DiscountPercentageFloat отдаёт процент для отображения.
func (b PriceBreakdown) DiscountPercentageFloat() float64 {
	return b.DiscountPercentage.InexactFloat64()
}
