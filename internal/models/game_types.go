package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OpenCoinflipRequest struct {
	Stake        decimal.Decimal `json:"stake"`
	Guess        CoinFace        `json:"guess" binding:"required"`
	// ClientSeed defaults to a server-generated seed when empty.
	ClientSeed   string          `json:"client_seed"`
	CommitmentID string          `json:"commitment_id" binding:"required"`
}

type CoinflipOpenResult struct {
	RoundID    int64           `json:"round_id"`
	Outcome    CoinFace        `json:"outcome"`
	Win        bool            `json:"win"`
	Payout     decimal.Decimal `json:"payout"`
	Balance    decimal.Decimal `json:"balance"`
	Secret     string          `json:"secret"`
	ClientSeed string          `json:"client_seed"`
	Session    *RideSession    `json:"session,omitempty"`
}

type RideCoinflipRequest struct {
	Guess CoinFace `json:"guess" binding:"required"`
}

type CoinflipRideResult struct {
	RoundID   int64           `json:"round_id"`
	Outcome   CoinFace        `json:"outcome"`
	Win       bool            `json:"win"`
	Amount    decimal.Decimal `json:"amount"`
	FlipCount int             `json:"flip_count"`
	Secret    string          `json:"secret"`
	NextHash  string          `json:"next_commitment_hash,omitempty"`
}

type CashOutResult struct {
	Payout  decimal.Decimal `json:"payout"`
	Balance decimal.Decimal `json:"balance"`
}

type StartCrashRequest struct {
	Stake        decimal.Decimal `json:"stake"`
	// ClientSeed defaults to a server-generated seed when empty.
	ClientSeed   string          `json:"client_seed"`
	CommitmentID string          `json:"commitment_id" binding:"required"`
}

type CrashStartResult struct {
	RoundID               int64            `json:"round_id"`
	Nonce                 int64            `json:"nonce"`
	Stake                 decimal.Decimal  `json:"stake"`
	CommitmentHash        string           `json:"commitment_hash"`
	ClientSeed            string           `json:"client_seed"`
	CrashMultiplierHidden bool             `json:"crash_multiplier_hidden"`
	CrashMultiplier       *decimal.Decimal `json:"crash_multiplier,omitempty"`
	GrowthRate            decimal.Decimal  `json:"growth_rate"`
	StartedAt             time.Time        `json:"started_at"`
	Balance               decimal.Decimal  `json:"balance"`
}

type CrashCashOutRequest struct {
	RoundID    int64           `json:"round_id" binding:"required"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type CrashCashOutResult struct {
	RoundID    int64           `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
	CrashedAt  decimal.Decimal `json:"crashed_at"`
	Balance    decimal.Decimal `json:"balance"`
	Secret     string          `json:"secret"`
}

type ActiveCrashInfo struct {
	Active         bool            `json:"active"`
	RoundID        int64           `json:"round_id,omitempty"`
	Stake          decimal.Decimal `json:"bet_amount"`
	LiveMultiplier decimal.Decimal `json:"live_multiplier"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
}

type CrashStats struct {
	TotalGames     int             `json:"total_games"`
	TotalWagered   decimal.Decimal `json:"total_wagered"`
	TotalWon       decimal.Decimal `json:"total_won"`
	Profit         decimal.Decimal `json:"profit"`
	WinRate        decimal.Decimal `json:"win_rate"`
	RTP            decimal.Decimal `json:"rtp"`
	AverageCrash   decimal.Decimal `json:"average_crash"`
	HighestCashout decimal.Decimal `json:"highest_cashout"`
	BiggestWin     decimal.Decimal `json:"biggest_win"`
	PendingRounds  int             `json:"pending_rounds"`
}

type VerifyRequest struct {
	Game       GameType `json:"game" binding:"required"`
	Secret     string   `json:"secret" binding:"required"`
	ClientSeed string   `json:"client_seed" binding:"required"`
	Nonce      int64    `json:"nonce"`
	Outcome    string   `json:"outcome" binding:"required"`
	// EdgeVersion selects a historic edge configuration; 0 means current.
	EdgeVersion int `json:"edge_version"`
}

type VerifyResult struct {
	RoundID           int64    `json:"round_id,omitempty"`
	Game              GameType `json:"game"`
	ClientSeed        string   `json:"client_seed"`
	Nonce             int64    `json:"nonce"`
	Secret            string   `json:"secret"`
	CommitmentHash    string   `json:"commitment_hash"`
	CommitmentValid   bool     `json:"commitment_valid"`
	Digest            string   `json:"digest"`
	RecordedOutcome   string   `json:"recorded_outcome"`
	RecomputedOutcome string   `json:"recomputed_outcome"`
	MatchesRecorded   bool     `json:"matches_recorded"`
	EdgeVersion       int      `json:"edge_version"`
}
