package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GameType string

const (
	GameTypeCrash    GameType = "crash"
	GameTypeCoinFlip GameType = "coinflip"
)

func (g GameType) Valid() bool {
	return g == GameTypeCrash || g == GameTypeCoinFlip
}

type CoinFace string

const (
	Heads CoinFace = "heads"
	Tails CoinFace = "tails"
)

func (f CoinFace) Valid() bool {
	return f == Heads || f == Tails
}

type RoundKind string

const (
	RoundKindCoinflipOpen RoundKind = "coinflip_open"
	RoundKindCoinflipRide RoundKind = "coinflip_ride"
	RoundKindCrash        RoundKind = "crash"
)

type RoundStatus string

const (
	RoundStatusRunning   RoundStatus = "running"
	RoundStatusCashedOut RoundStatus = "cashed_out"
	RoundStatusCrashed   RoundStatus = "crashed"
	RoundStatusWon       RoundStatus = "won"
	RoundStatusLost      RoundStatus = "lost"
)

// Round is the audit record of one outcome computation. ID doubles as the
// nonce fed into the digest. Settled rounds are never modified again.
type Round struct {
	ID    int64     `json:"id"`
	Owner int64     `json:"owner"`
	Game  GameType  `json:"game"`
	Kind  RoundKind `json:"kind"`

	Stake      decimal.Decimal `json:"stake"`
	ClientSeed string          `json:"client_seed"`
	Nonce      int64           `json:"nonce"`

	CommitmentID   string `json:"commitment_id"`
	CommitmentHash string `json:"commitment_hash"`
	Secret         string `json:"secret,omitempty"`
	Digest         string `json:"digest,omitempty"`

	Guess      CoinFace        `json:"guess,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	CrashPoint decimal.Decimal `json:"crash_point"`
	Win        bool            `json:"win"`

	Status      RoundStatus     `json:"status"`
	Settled     bool            `json:"settled"`
	Payout      decimal.Decimal `json:"payout"`
	CashedOutAt decimal.Decimal `json:"cashed_out_at"`

	Edge EdgeConfig `json:"edge"`

	CreatedAt time.Time  `json:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// Redacted returns a copy with every outcome-bearing field cleared.
func (r Round) Redacted() Round {
	r.Secret = ""
	r.Digest = ""
	r.Outcome = ""
	r.CrashPoint = decimal.Zero
	return r
}

// RoundView is what the API returns for a round. Crash data is only present
// once the round is revealed.
type RoundView struct {
	ID             int64            `json:"id"`
	Game           GameType         `json:"game"`
	Kind           RoundKind        `json:"kind"`
	Stake          decimal.Decimal  `json:"stake"`
	ClientSeed     string           `json:"client_seed"`
	Nonce          int64            `json:"nonce"`
	CommitmentHash string           `json:"commitment_hash"`
	Secret         string           `json:"secret,omitempty"`
	Guess          CoinFace         `json:"guess,omitempty"`
	Outcome        string           `json:"outcome,omitempty"`
	CrashedAt      *decimal.Decimal `json:"crashed_at,omitempty"`
	CashedOutAt    *decimal.Decimal `json:"cashed_out_at,omitempty"`
	Win            bool             `json:"win"`
	Status         RoundStatus      `json:"status"`
	Payout         decimal.Decimal  `json:"payout"`
	EdgeVersion    int              `json:"edge_version"`
	GameEnded      bool             `json:"game_ended"`
	CreatedAt      time.Time        `json:"created_at"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
}

// View renders r, exposing the secret and crash point only when revealed.
func (r Round) View(revealed bool) RoundView {
	if !revealed {
		r = r.Redacted()
	}
	v := RoundView{
		ID:             r.ID,
		Game:           r.Game,
		Kind:           r.Kind,
		Stake:          r.Stake,
		ClientSeed:     r.ClientSeed,
		Nonce:          r.Nonce,
		CommitmentHash: r.CommitmentHash,
		Secret:         r.Secret,
		Outcome:        r.Outcome,
		Guess:          r.Guess,
		Win:            r.Win,
		Status:         r.Status,
		Payout:         r.Payout,
		EdgeVersion:    r.Edge.Version,
		GameEnded:      revealed,
		CreatedAt:      r.CreatedAt,
		SettledAt:      r.SettledAt,
	}
	if r.Status == RoundStatusCashedOut {
		cashed := r.CashedOutAt
		v.CashedOutAt = &cashed
	}
	if revealed && r.Game == GameTypeCrash {
		crashed := r.CrashPoint
		v.CrashedAt = &crashed
	}
	return v
}
