package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxMessageLength = 1000
	MaxReasonLength  = 500
	maxPriceDigits   = 10
)

// ValidatePrice проверяет цену: > 0, не более 10 целых и 2 дробных знаков.
func ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrPriceInvalid
	}
	if price.Exponent() < -MoneyScale && !price.Equal(price.Truncate(MoneyScale)) {
		return ErrPricePrecision
	}
	if len(price.Truncate(0).Abs().String()) > maxPriceDigits {
		return ErrPricePrecision
	}
	return nil
}

// ValidateQuantity проверяет, что количество положительное.
func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return ErrQuantityInvalid
	}
	return nil
}

// ValidateMessage ограничивает длину сопроводительного сообщения в символах.
func ValidateMessage(message string) error {
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ValidateReason ограничивает длину причины отклонения.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return ErrReasonTooLong
	}
	return nil
}

// ValidateID проверяет, что идентификатор не пустой.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrIDRequired
	}
	return nil
}
