package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the fixed-point precision of every credit amount.
const MoneyPlaces = 2

const MaxClientSeedLength = 128

// RoundMoney rounds half away from zero to two places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ToCents converts an amount to integer cents for storage.
func ToCents(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(MoneyPlaces).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -MoneyPlaces)
}

// CalculatePayout is stake * multiplier at money precision.
func CalculatePayout(stake, multiplier decimal.Decimal) decimal.Decimal {
	return RoundMoney(stake.Mul(multiplier))
}

func FormatCurrency(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

func GenerateClientSeed() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate client seed: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ValidateStake checks that stake is positive, has at most two decimal
// places and lies within [minStake, maxStake].
func ValidateStake(stake, minStake, maxStake decimal.Decimal) error {
	if !stake.IsPositive() {
		return fmt.Errorf("stake must be positive")
	}
	if !stake.Equal(RoundMoney(stake)) {
		return fmt.Errorf("stake %s has more than %d decimal places", stake, MoneyPlaces)
	}
	if stake.LessThan(minStake) {
		return fmt.Errorf("minimum stake is %s", FormatCurrency(minStake))
	}
	if stake.GreaterThan(maxStake) {
		return fmt.Errorf("maximum stake is %s", FormatCurrency(maxStake))
	}
	return nil
}

func ValidateClientSeed(seed string) error {
	if strings.TrimSpace(seed) == "" {
		return fmt.Errorf("client seed is required")
	}
	if len(seed) > MaxClientSeedLength {
		return fmt.Errorf("client seed longer than %d bytes", MaxClientSeedLength)
	}
	return nil
}
