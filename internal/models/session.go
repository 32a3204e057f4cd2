package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RideSession is a coinflip double-or-nothing chain. FlipCount is the number
// of winning flips so far and serves as the optimistic version.
type RideSession struct {
	Owner          int64           `json:"owner"`
	CurrentAmount  decimal.Decimal `json:"current_amount"`
	FlipCount      int             `json:"flip_count"`
	LastGuess      CoinFace        `json:"last_guess"`
	LastHash       string          `json:"last_hash"`
	LastRoundID    int64           `json:"last_round_id"`
	ClientSeed     string          `json:"client_seed"`
	NextCommitment string          `json:"next_commitment_id"`
	NextHash       string          `json:"next_commitment_hash"`
	OpenedAt       time.Time       `json:"opened_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Live reports whether the session still holds anything.
func (s *RideSession) Live() bool {
	return s != nil && s.CurrentAmount.IsPositive()
}
