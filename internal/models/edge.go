package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EdgeConfig is one version of the house-edge parameters. Every round keeps
// a copy of the version it was computed under.
type EdgeConfig struct {
	Version       int             `json:"version"`
	EdgeFraction  decimal.Decimal `json:"edge_fraction"`
	MaxMultiplier decimal.Decimal `json:"max_multiplier"`
	GrowthRate    decimal.Decimal `json:"growth_rate"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CoinPayoutMultiplier is 1 + (1 - edge), 1.95 at a 5% edge.
func (e EdgeConfig) CoinPayoutMultiplier() decimal.Decimal {
	return decimal.NewFromInt(2).Sub(e.EdgeFraction)
}

type EdgeUpdateRequest struct {
	EdgeFraction  decimal.Decimal  `json:"edge"`
	MaxMultiplier *decimal.Decimal `json:"max_multiplier,omitempty"`
}
