package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	UserID       int64           `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type BalanceResponse struct {
	Balance      decimal.Decimal `json:"balance"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
	Profit       decimal.Decimal `json:"profit"`
}

func (w *Wallet) Summary() BalanceResponse {
	return BalanceResponse{
		Balance:      w.Balance,
		TotalWagered: w.TotalWagered,
		TotalWon:     w.TotalWon,
		Profit:       w.TotalWon.Sub(w.TotalWagered),
	}
}

type HouseTotals struct {
	Wagered decimal.Decimal `json:"total_wagered"`
	Paid    decimal.Decimal `json:"total_paid"`
	Profit  decimal.Decimal `json:"profit"`
	Rounds  int64           `json:"rounds"`
}

type LeaderboardEntry struct {
	Rank      int             `json:"rank"`
	UserID    int64           `json:"user_id"`
	Game      GameType        `json:"game"`
	RoundID   int64           `json:"round_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
