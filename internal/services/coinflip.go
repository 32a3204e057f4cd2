package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/monitoring"
	"provably-fair-backend/internal/storage"
)

type BetLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// CoinflipService runs the double-or-nothing ride: open, ride, cash out.
type CoinflipService struct {
	store  storage.Store
	vault  *SeedVault
	edges  *EdgeRegistry
	ledger *Ledger
	limits BetLimits
	clock  Clock
	log    *zap.Logger
}

func NewCoinflipService(store storage.Store, vault *SeedVault, edges *EdgeRegistry, ledger *Ledger, limits BetLimits, clock Clock, log *zap.Logger) *CoinflipService {
	return &CoinflipService{
		store:  store,
		vault:  vault,
		edges:  edges,
		ledger: ledger,
		limits: limits,
		clock:  clock,
		log:    log.Named("coinflip"),
	}
}

// Session returns the owner's live ride session, or nil.
func (s *CoinflipService) Session(ctx context.Context, owner int64) (*models.RideSession, error) {
	session, err := s.store.GetRideSession(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !session.Live() {
		return nil, nil
	}
	return session, nil
}

// Open debits the stake and flips. A win opens a ride session holding
// stake * payout multiplier; a loss leaves no session.
func (s *CoinflipService) Open(ctx context.Context, owner int64, req *models.OpenCoinflipRequest) (*models.CoinflipOpenResult, error) {
	if err := models.ValidateStake(req.Stake, s.limits.Min, s.limits.Max); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid stake", err)
	}
	if !req.Guess.Valid() {
		return nil, apperrors.Validation("guess must be heads or tails")
	}
	clientSeed, err := resolveClientSeed(req.ClientSeed)
	if err != nil {
		return nil, err
	}

	existing, err := s.Session(ctx, owner)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, storage.ErrSessionExists
	}

	commitment, err := s.vault.Peek(ctx, req.CommitmentID, owner)
	if err != nil {
		return nil, err
	}
	nonce, err := s.store.NextNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate nonce: %w", err)
	}

	engine := s.edges.Current()
	now := s.clock.Now()
	digest := DigestHex(commitment.Secret, clientSeed, nonce)
	outcome := engine.CoinOutcome(commitment.Secret, clientSeed, nonce)
	win := outcome == req.Guess

	round := &models.Round{
		ID:             nonce,
		Owner:          owner,
		Game:           models.GameTypeCoinFlip,
		Kind:           models.RoundKindCoinflipOpen,
		Stake:          req.Stake,
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CommitmentID:   commitment.ID,
		CommitmentHash: commitment.Hash,
		Secret:         commitment.Secret,
		Digest:         digest,
		Guess:          req.Guess,
		Outcome:        string(outcome),
		Win:            win,
		Status:         models.RoundStatusLost,
		Settled:        true,
		Payout:         decimal.Zero,
		Edge:           engine.Edge(),
		CreatedAt:      now,
		SettledAt:      &now,
	}

	settlement := &storage.Settlement{
		Owner:             owner,
		Now:               now,
		ConsumeCommitment: commitment.ID,
		Delta:             req.Stake.Neg(),
		Wagered:           req.Stake,
		Round:             round,
		RoundMode:         storage.RoundInsert,
	}
	settlement.Transactions = []models.Transaction{
		s.ledger.Line(owner, models.TransactionTypeBet, req.Stake.Neg(), round, "Coinflip stake"),
	}

	var session *models.RideSession
	if win {
		amount := models.CalculatePayout(req.Stake, engine.PayoutMultiplier())
		round.Status = models.RoundStatusWon
		round.Payout = amount

		next, err := s.vault.Generate(owner)
		if err != nil {
			return nil, err
		}
		session = &models.RideSession{
			Owner:          owner,
			CurrentAmount:  amount,
			FlipCount:      1,
			LastGuess:      req.Guess,
			LastHash:       digest,
			LastRoundID:    round.ID,
			ClientSeed:     clientSeed,
			NextCommitment: next.ID,
			NextHash:       next.Hash,
			OpenedAt:       now,
			UpdatedAt:      now,
		}
		settlement.Session = storage.SessionCreate
		settlement.NewSession = session
		settlement.NewCommitment = next
	}

	res, err := s.ledger.Apply(ctx, settlement)
	if err != nil {
		return nil, err
	}
	monitoring.RoundsSettled.WithLabelValues(string(models.GameTypeCoinFlip), string(round.Status)).Inc()
	s.log.Info("coinflip opened",
		zap.Int64("owner", owner),
		zap.Int64("round_id", round.ID),
		zap.String("stake", req.Stake.String()),
		zap.String("outcome", round.Outcome),
		zap.Bool("win", win))

	return &models.CoinflipOpenResult{
		RoundID:    round.ID,
		Outcome:    outcome,
		Win:        win,
		Payout:     round.Payout,
		Balance:    res.Balance,
		Secret:     commitment.Secret,
		ClientSeed: clientSeed,
		Session:    session,
	}, nil
}

// Ride flips the whole session amount again. A win multiplies it by the
// payout multiplier; a loss ends the session with nothing further debited.
func (s *CoinflipService) Ride(ctx context.Context, owner int64, guess models.CoinFace) (*models.CoinflipRideResult, error) {
	if !guess.Valid() {
		return nil, apperrors.Validation("guess must be heads or tails")
	}
	session, err := s.Session(ctx, owner)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrNoOpenSession
	}

	commitment, err := s.vault.Peek(ctx, session.NextCommitment, owner)
	if err != nil {
		if s.sessionMoved(ctx, session) {
			return nil, storage.ErrSessionChanged
		}
		s.log.Error("ride session points at unusable commitment",
			zap.Int64("owner", owner), zap.String("commitment_id", session.NextCommitment), zap.Error(err))
		return nil, apperrors.Wrap(apperrors.CodeInternalInconsistency, "ride commitment unavailable", err)
	}
	nonce, err := s.store.NextNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate nonce: %w", err)
	}

	engine := s.edges.Current()
	now := s.clock.Now()
	clientSeed := RideClientSeed(session.ClientSeed, session.FlipCount, session.CurrentAmount)
	digest := DigestHex(commitment.Secret, clientSeed, nonce)
	outcome := engine.CoinOutcome(commitment.Secret, clientSeed, nonce)
	win := outcome == guess

	round := &models.Round{
		ID:             nonce,
		Owner:          owner,
		Game:           models.GameTypeCoinFlip,
		Kind:           models.RoundKindCoinflipRide,
		Stake:          session.CurrentAmount,
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CommitmentID:   commitment.ID,
		CommitmentHash: commitment.Hash,
		Secret:         commitment.Secret,
		Digest:         digest,
		Guess:          guess,
		Outcome:        string(outcome),
		Win:            win,
		Status:         models.RoundStatusLost,
		Settled:        true,
		Payout:         decimal.Zero,
		Edge:           engine.Edge(),
		CreatedAt:      now,
		SettledAt:      &now,
	}

	settlement := &storage.Settlement{
		Owner:             owner,
		Now:               now,
		ConsumeCommitment: commitment.ID,
		Round:             round,
		RoundMode:         storage.RoundInsert,
		ExpectVersion:     session.FlipCount,
	}

	result := &models.CoinflipRideResult{
		RoundID: round.ID,
		Outcome: outcome,
		Win:     win,
		Secret:  commitment.Secret,
	}

	if win {
		amount := models.CalculatePayout(session.CurrentAmount, engine.PayoutMultiplier())
		round.Status = models.RoundStatusWon
		round.Payout = amount

		next, err := s.vault.Generate(owner)
		if err != nil {
			return nil, err
		}
		updated := *session
		updated.CurrentAmount = amount
		updated.FlipCount = session.FlipCount + 1
		updated.LastGuess = guess
		updated.LastHash = digest
		updated.LastRoundID = round.ID
		updated.NextCommitment = next.ID
		updated.NextHash = next.Hash
		updated.UpdatedAt = now

		settlement.Session = storage.SessionReplace
		settlement.NewSession = &updated
		settlement.NewCommitment = next

		result.Amount = amount
		result.FlipCount = updated.FlipCount
		result.NextHash = next.Hash
	} else {
		settlement.Session = storage.SessionDelete
		result.FlipCount = session.FlipCount
	}

	if _, err := s.ledger.Apply(ctx, settlement); err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionMissing):
			return nil, apperrors.ErrNoOpenSession
		case errors.Is(err, storage.ErrCommitmentUnavailable):
			// A concurrent ride consumed the same commitment first.
			return nil, storage.ErrSessionChanged
		}
		return nil, err
	}
	monitoring.RoundsSettled.WithLabelValues(string(models.GameTypeCoinFlip), string(round.Status)).Inc()
	s.log.Info("coinflip ride",
		zap.Int64("owner", owner),
		zap.Int64("round_id", round.ID),
		zap.Int("flip", session.FlipCount+1),
		zap.String("amount", session.CurrentAmount.String()),
		zap.Bool("win", win))
	return result, nil
}

// sessionMoved reports whether the stored session no longer matches seen.
func (s *CoinflipService) sessionMoved(ctx context.Context, seen *models.RideSession) bool {
	current, err := s.store.GetRideSession(ctx, seen.Owner)
	if err != nil {
		return false
	}
	return current == nil || current.FlipCount != seen.FlipCount || current.NextCommitment != seen.NextCommitment
}

// CashOut credits the session amount and closes the session. The unused
// next commitment stays with the owner and can seed a later round.
func (s *CoinflipService) CashOut(ctx context.Context, owner int64) (*models.CashOutResult, error) {
	session, err := s.Session(ctx, owner)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrNothingToCashOut
	}

	last := &models.Round{ID: session.LastRoundID, Game: models.GameTypeCoinFlip}
	settlement := &storage.Settlement{
		Owner:         owner,
		Now:           s.clock.Now(),
		Delta:         session.CurrentAmount,
		Won:           session.CurrentAmount,
		Session:       storage.SessionDelete,
		ExpectVersion: session.FlipCount,
		Transactions: []models.Transaction{
			s.ledger.Line(owner, models.TransactionTypeWin, session.CurrentAmount, last,
				fmt.Sprintf("Coinflip cash out after %d flips", session.FlipCount)),
		},
	}
	res, err := s.ledger.Apply(ctx, settlement)
	if err != nil {
		if errors.Is(err, storage.ErrSessionMissing) {
			return nil, apperrors.ErrNothingToCashOut
		}
		return nil, err
	}
	monitoring.RoundsSettled.WithLabelValues(string(models.GameTypeCoinFlip), string(models.RoundStatusCashedOut)).Inc()
	s.log.Info("coinflip cashed out",
		zap.Int64("owner", owner),
		zap.Int("flips", session.FlipCount),
		zap.String("payout", session.CurrentAmount.String()))
	return &models.CashOutResult{Payout: session.CurrentAmount, Balance: res.Balance}, nil
}
