package models

import "time"

// SeedCommitment is a server secret published by hash before use.
type SeedCommitment struct {
	ID         string     `json:"id"`
	Owner      int64      `json:"owner"`
	Secret     string     `json:"-"`
	Hash       string     `json:"commitment_hash"`
	Consumed   bool       `json:"consumed"`
	RoundID    int64      `json:"round_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

type CommitSeedResponse struct {
	CommitmentID   string `json:"commitment_id"`
	CommitmentHash string `json:"commitment_hash"`
}
