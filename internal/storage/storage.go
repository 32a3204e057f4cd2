// Package storage defines the persistence contract shared by the Redis and
// SQLite backends.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
)

var (
	ErrWalletNotFound        = apperrors.New(apperrors.CodeNotFound, "wallet not found")
	ErrRoundNotFound         = apperrors.New(apperrors.CodeNotFound, "round not found")
	ErrCommitmentNotFound    = apperrors.New(apperrors.CodeInvalidCommitment, "commitment not found")
	ErrCommitmentUnavailable = apperrors.New(apperrors.CodeInvalidCommitment, "commitment unknown, foreign or already consumed")
	ErrInsufficientFunds     = apperrors.New(apperrors.CodeInsufficientFunds, "insufficient funds")
	ErrActiveRoundExists     = apperrors.New(apperrors.CodeRoundActive, "crash round already running")
	ErrActiveRoundMismatch   = apperrors.New(apperrors.CodeInternalInconsistency, "active round marker does not match round")
	ErrSessionExists         = apperrors.New(apperrors.CodeSessionActive, "ride session already open")
	ErrSessionMissing        = apperrors.New(apperrors.CodeNoOpenSession, "no open ride session")
	ErrSessionChanged        = apperrors.New(apperrors.CodeConflict, "ride session changed concurrently")
	ErrRoundSettled          = apperrors.New(apperrors.CodeAlreadySettled, "round already settled")
	ErrDuplicateRound        = apperrors.New(apperrors.CodeInternalInconsistency, "round id already used")
	ErrDuplicateEdgeVersion  = apperrors.New(apperrors.CodeConflict, "edge version already exists")
	ErrLedgerMismatch        = apperrors.New(apperrors.CodeInternalInconsistency, "ledger lines do not add up to the balance delta")
	ErrEdgeNotFound          = apperrors.New(apperrors.CodeNotFound, "edge version not found")
)

type RoundMode int

const (
	RoundNone RoundMode = iota
	// RoundInsert requires the round id to be unused.
	RoundInsert
	// RoundFinalize overwrites an existing unsettled round.
	RoundFinalize
)

type ActiveOp int

const (
	ActiveNone ActiveOp = iota
	// ActiveClaim sets the owner's active crash marker; fails if one exists.
	ActiveClaim
	// ActiveRelease clears the marker; it must point at the round.
	ActiveRelease
)

type SessionOp int

const (
	SessionNone SessionOp = iota
	// SessionCreate requires that no session exists.
	SessionCreate
	// SessionReplace requires the stored FlipCount to equal ExpectVersion.
	SessionReplace
	// SessionDelete has the same precondition as SessionReplace.
	SessionDelete
)

// Settlement is one atomic unit of work. Every precondition is checked
// before anything is written; on any failure nothing changes.
type Settlement struct {
	Owner int64
	Now   time.Time

	// ConsumeCommitment, when set, is flipped to consumed and bound to Round.
	ConsumeCommitment string

	// Delta is applied to the owner's balance. The result may not be negative.
	Delta   decimal.Decimal
	Wagered decimal.Decimal
	Won     decimal.Decimal

	Transactions []models.Transaction

	Round     *models.Round
	RoundMode RoundMode

	Active      ActiveOp
	ActiveRound int64

	Session       SessionOp
	ExpectVersion int
	NewSession    *models.RideSession

	NewCommitment *models.SeedCommitment
}

type SettlementResult struct {
	Balance      decimal.Decimal
	Transactions []models.Transaction
}

type Store interface {
	// OpenAccount creates the wallet with an opening deposit if it does not
	// exist yet. It reports whether the wallet was created.
	OpenAccount(ctx context.Context, owner int64, initial decimal.Decimal, now time.Time) (bool, error)
	GetWallet(ctx context.Context, owner int64) (*models.Wallet, error)

	// NextNonce hands out strictly increasing ids. Gaps are allowed.
	NextNonce(ctx context.Context) (int64, error)

	CreateCommitment(ctx context.Context, c *models.SeedCommitment) error
	GetCommitment(ctx context.Context, id string) (*models.SeedCommitment, error)
	// ConsumeCommitment marks the commitment consumed if it belongs to owner
	// and was not consumed yet, and returns it with its secret.
	ConsumeCommitment(ctx context.Context, id string, owner int64, now time.Time) (*models.SeedCommitment, error)
	ListCommitments(ctx context.Context, owner int64, limit int) ([]*models.SeedCommitment, error)

	Settle(ctx context.Context, s *Settlement) (*SettlementResult, error)

	GetRound(ctx context.Context, id int64) (*models.Round, error)
	ListRounds(ctx context.Context, owner int64, game models.GameType, limit int) ([]*models.Round, error)
	RecentRounds(ctx context.Context, game models.GameType, limit int) ([]*models.Round, error)

	// GetRideSession and GetActiveCrashRound return nil, nil when absent.
	GetRideSession(ctx context.Context, owner int64) (*models.RideSession, error)
	GetActiveCrashRound(ctx context.Context, owner int64) (*models.Round, error)
	ListActiveCrashRounds(ctx context.Context) ([]*models.Round, error)

	ListTransactions(ctx context.Context, owner int64, limit int) ([]*models.Transaction, error)
	TopWins(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	HouseTotals(ctx context.Context) (*models.HouseTotals, error)

	SaveEdgeConfig(ctx context.Context, edge models.EdgeConfig) error
	// LatestEdgeConfig returns nil, nil before the first version is saved.
	LatestEdgeConfig(ctx context.Context) (*models.EdgeConfig, error)
	GetEdgeConfig(ctx context.Context, version int) (*models.EdgeConfig, error)

	Close() error
}

// ClampLimit applies the listing bounds used by every backend.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
