package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/monitoring"
	"provably-fair-backend/internal/storage"
)

// Ledger owns every balance mutation. Balances only move through Apply, and
// Apply only runs settlements that carry their round and ledger lines.
type Ledger struct {
	store    storage.Store
	clock    Clock
	log      *zap.Logger
	starting decimal.Decimal
}

func NewLedger(store storage.Store, clock Clock, log *zap.Logger, startingCredits decimal.Decimal) *Ledger {
	return &Ledger{store: store, clock: clock, log: log, starting: startingCredits}
}

// OpenAccount creates the owner's wallet with the configured opening credits.
// Calling it again is a no-op.
func (l *Ledger) OpenAccount(ctx context.Context, owner int64) (*models.Wallet, error) {
	if owner <= 0 {
		return nil, apperrors.Validation("invalid user id %d", owner)
	}
	created, err := l.store.OpenAccount(ctx, owner, l.starting, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	if created {
		l.log.Info("account opened", zap.Int64("owner", owner), zap.String("credits", l.starting.String()))
	}
	return l.store.GetWallet(ctx, owner)
}

func (l *Ledger) Wallet(ctx context.Context, owner int64) (*models.Wallet, error) {
	return l.store.GetWallet(ctx, owner)
}

func (l *Ledger) Balance(ctx context.Context, owner int64) (decimal.Decimal, error) {
	w, err := l.store.GetWallet(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (l *Ledger) Transactions(ctx context.Context, owner int64, limit int) ([]*models.Transaction, error) {
	return l.store.ListTransactions(ctx, owner, limit)
}

// Line builds a ledger line bound to a round.
func (l *Ledger) Line(owner int64, txType models.TransactionType, amount decimal.Decimal, round *models.Round, description string) models.Transaction {
	t := models.Transaction{
		ID:          uuid.NewString(),
		UserID:      owner,
		Type:        txType,
		Amount:      models.RoundMoney(amount),
		Description: description,
		CreatedAt:   l.clock.Now(),
	}
	if round != nil {
		t.RoundID = round.ID
		t.Game = round.Game
	}
	return t
}

// Apply runs a settlement. The balance delta must equal the sum of its
// ledger lines; a debit below zero fails with InsufficientFunds and leaves
// everything untouched.
func (l *Ledger) Apply(ctx context.Context, s *storage.Settlement) (*storage.SettlementResult, error) {
	sum := decimal.Zero
	for _, t := range s.Transactions {
		if t.UserID != s.Owner {
			return nil, apperrors.Newf(apperrors.CodeInternalInconsistency, "ledger line for %d in settlement of %d", t.UserID, s.Owner)
		}
		sum = sum.Add(t.Amount)
	}
	s.Delta = models.RoundMoney(s.Delta)
	if !sum.Equal(s.Delta) {
		l.log.Error("settlement does not balance",
			zap.Int64("owner", s.Owner),
			zap.String("delta", s.Delta.String()),
			zap.String("lines", sum.String()))
		return nil, storage.ErrLedgerMismatch
	}
	if s.Now.IsZero() {
		s.Now = l.clock.Now()
	}

	res, err := l.store.Settle(ctx, s)
	if err != nil {
		code := apperrors.CodeOf(err)
		monitoring.SettlementFailures.WithLabelValues(string(code)).Inc()
		if code == apperrors.CodeInternalInconsistency {
			fields := []zap.Field{zap.Int64("owner", s.Owner), zap.Error(err)}
			if s.Round != nil {
				fields = append(fields, zap.Int64("round_id", s.Round.ID))
			}
			l.log.Error("settlement rejected as inconsistent", fields...)
		}
		return nil, err
	}
	if !s.Delta.IsZero() {
		monitoring.WalletBalanceChanges.Inc()
	}
	return res, nil
}

// Settle moves delta on the owner's balance as a single ledger line bound to
// round. Game flows build richer settlements and go through Apply directly.
func (l *Ledger) Settle(ctx context.Context, owner int64, delta decimal.Decimal, round *models.Round, description string) (decimal.Decimal, error) {
	delta = models.RoundMoney(delta)
	if delta.IsZero() {
		return l.Balance(ctx, owner)
	}
	txType := models.TransactionTypeWin
	s := &storage.Settlement{Owner: owner, Delta: delta}
	if delta.IsNegative() {
		txType = models.TransactionTypeBet
		s.Wagered = delta.Neg()
	} else {
		s.Won = delta
	}
	s.Transactions = []models.Transaction{l.Line(owner, txType, delta, round, description)}

	res, err := l.Apply(ctx, s)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Balance, nil
}

// Leaderboard returns the biggest single payouts.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	return l.store.TopWins(ctx, limit)
}

// HouseProfit sums stakes taken and payouts made across all users.
func (l *Ledger) HouseProfit(ctx context.Context) (*models.HouseTotals, error) {
	return l.store.HouseTotals(ctx)
}
