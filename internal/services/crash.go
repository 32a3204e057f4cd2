package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/jobs"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/monitoring"
	"provably-fair-backend/internal/storage"
)

// MaxRecentRounds bounds the public recent-rounds feed.
const MaxRecentRounds = 20

type CrashSettings struct {
	RevealCrashOnStart bool
	EnforceLiveCounter bool
	// A running round is revealed once now >= start +
	// max(RevealMinimum, crash duration + RevealGrace).
	RevealGrace   time.Duration
	RevealMinimum time.Duration
}

// CrashService runs crash rounds. The multiplier grows linearly from 1.00 at
// the edge's growth rate per second; a round that reaches its crash point
// without a cash-out is lost.
type CrashService struct {
	store       storage.Store
	vault       *SeedVault
	edges       *EdgeRegistry
	ledger      *Ledger
	limits      BetLimits
	settings    CrashSettings
	clock       Clock
	log         *zap.Logger
	broadcaster Broadcaster
}

func NewCrashService(store storage.Store, vault *SeedVault, edges *EdgeRegistry, ledger *Ledger, limits BetLimits, settings CrashSettings, clock Clock, log *zap.Logger) *CrashService {
	return &CrashService{
		store:       store,
		vault:       vault,
		edges:       edges,
		ledger:      ledger,
		limits:      limits,
		settings:    settings,
		clock:       clock,
		log:         log.Named("crash"),
		broadcaster: NopBroadcaster,
	}
}

func (s *CrashService) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = NopBroadcaster
	}
	s.broadcaster = b
}

var oneMultiplier = decimal.NewFromInt(1)

// crashDuration is how long the counter takes to climb from 1.00 to the
// round's crash point.
func crashDuration(r *models.Round) time.Duration {
	rate := r.Edge.GrowthRate
	if !rate.IsPositive() || r.CrashPoint.LessThanOrEqual(oneMultiplier) {
		return 0
	}
	ms := r.CrashPoint.Sub(oneMultiplier).Div(rate).Shift(3).IntPart()
	return time.Duration(ms) * time.Millisecond
}

// CrashTime is the instant a running round busts.
func (s *CrashService) CrashTime(r *models.Round) time.Time {
	return r.CreatedAt.Add(crashDuration(r))
}

// LiveMultiplier is the counter shown to the player at now: 1 + rate *
// elapsed seconds, floored to two places and capped at the crash point.
func (s *CrashService) LiveMultiplier(r *models.Round, now time.Time) decimal.Decimal {
	elapsed := now.Sub(r.CreatedAt)
	if elapsed <= 0 {
		return oneMultiplier
	}
	seconds := decimal.NewFromInt(elapsed.Milliseconds()).Shift(-3)
	live := oneMultiplier.Add(r.Edge.GrowthRate.Mul(seconds)).Truncate(models.MoneyPlaces)
	if live.GreaterThan(r.CrashPoint) {
		return r.CrashPoint
	}
	return live
}

// IsRevealed reports whether the round's secret and crash point may be shown.
func (s *CrashService) IsRevealed(r *models.Round, now time.Time) bool {
	if r.Game != models.GameTypeCrash || r.Settled {
		return true
	}
	wait := crashDuration(r) + s.settings.RevealGrace
	if wait < s.settings.RevealMinimum {
		wait = s.settings.RevealMinimum
	}
	return !now.Before(r.CreatedAt.Add(wait))
}

func (s *CrashService) crashedByTime(r *models.Round, now time.Time) bool {
	return !now.Before(s.CrashTime(r))
}

func crashedCopy(r *models.Round) *models.Round {
	crashed := *r
	crashed.Status = models.RoundStatusCrashed
	crashed.Settled = true
	crashed.Win = false
	crashed.Payout = decimal.Zero
	return &crashed
}

// asOf returns r as it stands at now. A running crash round past its crash
// time reads as crashed; the stored round is not touched.
func (s *CrashService) asOf(r *models.Round, now time.Time) *models.Round {
	if r.Game != models.GameTypeCrash || r.Settled || !s.crashedByTime(r, now) {
		return r
	}
	return crashedCopy(r)
}

func (s *CrashService) view(r *models.Round, now time.Time) models.RoundView {
	return s.asOf(r, now).View(s.IsRevealed(r, now))
}

// Start debits the stake and opens a running round. An owner has at most one
// running round; one that has already busted by time is settled first.
func (s *CrashService) Start(ctx context.Context, owner int64, req *models.StartCrashRequest) (*models.CrashStartResult, error) {
	if err := models.ValidateStake(req.Stake, s.limits.Min, s.limits.Max); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid stake", err)
	}
	clientSeed, err := resolveClientSeed(req.ClientSeed)
	if err != nil {
		return nil, err
	}

	active, err := s.store.GetActiveCrashRound(ctx, owner)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if !s.crashedByTime(active, s.clock.Now()) {
			return nil, storage.ErrActiveRoundExists
		}
		if err := s.finalizeCrashed(ctx, active); err != nil && !errors.Is(err, storage.ErrRoundSettled) {
			return nil, err
		}
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
	crashPoint := engine.CrashMultiplier(commitment.Secret, clientSeed, nonce)

	round := &models.Round{
		ID:             nonce,
		Owner:          owner,
		Game:           models.GameTypeCrash,
		Kind:           models.RoundKindCrash,
		Stake:          req.Stake,
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CommitmentID:   commitment.ID,
		CommitmentHash: commitment.Hash,
		Secret:         commitment.Secret,
		Digest:         DigestHex(commitment.Secret, clientSeed, nonce),
		Outcome:        crashPoint.StringFixed(models.MoneyPlaces),
		CrashPoint:     crashPoint,
		Status:         models.RoundStatusRunning,
		Payout:         decimal.Zero,
		Edge:           engine.Edge(),
		CreatedAt:      now,
	}

	res, err := s.ledger.Apply(ctx, &storage.Settlement{
		Owner:             owner,
		Now:               now,
		ConsumeCommitment: commitment.ID,
		Delta:             req.Stake.Neg(),
		Wagered:           req.Stake,
		Transactions: []models.Transaction{
			s.ledger.Line(owner, models.TransactionTypeBet, req.Stake.Neg(), round, "Crash stake"),
		},
		Round:       round,
		RoundMode:   storage.RoundInsert,
		Active:      storage.ActiveClaim,
		ActiveRound: round.ID,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("crash round started",
		zap.Int64("owner", owner),
		zap.Int64("round_id", round.ID),
		zap.String("stake", req.Stake.String()))
	s.broadcaster.BroadcastBalance(owner, res.Balance)
	s.broadcaster.BroadcastGameUpdate(owner, round.ID, oneMultiplier)

	result := &models.CrashStartResult{
		RoundID:               round.ID,
		Nonce:                 nonce,
		Stake:                 req.Stake,
		CommitmentHash:        commitment.Hash,
		ClientSeed:            clientSeed,
		CrashMultiplierHidden: !s.settings.RevealCrashOnStart,
		GrowthRate:            round.Edge.GrowthRate,
		StartedAt:             now,
		Balance:               res.Balance,
	}
	if s.settings.RevealCrashOnStart {
		result.CrashMultiplier = &crashPoint
	}
	return result, nil
}

// CashOut settles a running round at the requested multiplier. A request
// arriving after the crash time settles the round as lost and fails with
// AlreadyCrashed. A request ahead of the live counter is only rejected; one
// at or above the crash point without the live counter check also busts.
func (s *CrashService) CashOut(ctx context.Context, owner int64, req *models.CrashCashOutRequest) (*models.CrashCashOutResult, error) {
	round, err := s.store.GetRound(ctx, req.RoundID)
	if err != nil {
		if errors.Is(err, storage.ErrRoundNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if round.Owner != owner || round.Game != models.GameTypeCrash {
		return nil, apperrors.ErrNotFound
	}
	if round.Settled {
		return nil, apperrors.ErrAlreadySettled
	}
	if req.Multiplier.LessThan(oneMultiplier) {
		return nil, apperrors.Newf(apperrors.CodeInvalidMultiplier, "multiplier must be at least 1.00, got %s", req.Multiplier)
	}
	requested := req.Multiplier.Truncate(models.MoneyPlaces)

	now := s.clock.Now()
	bust := func() (*models.CrashCashOutResult, error) {
		if err := s.finalizeCrashed(ctx, round); err != nil {
			if errors.Is(err, storage.ErrRoundSettled) {
				return nil, apperrors.ErrAlreadySettled
			}
			return nil, err
		}
		return nil, apperrors.ErrAlreadyCrashed
	}
	if s.crashedByTime(round, now) {
		return bust()
	}
	if s.settings.EnforceLiveCounter {
		live := s.LiveMultiplier(round, now)
		if requested.GreaterThan(live) {
			return nil, apperrors.Newf(apperrors.CodeInvalidMultiplier, "multiplier %s is ahead of the live counter %s", requested, live)
		}
	}
	if requested.GreaterThanOrEqual(round.CrashPoint) {
		return bust()
	}

	payout := models.CalculatePayout(round.Stake, requested)
	settled := *round
	settled.Status = models.RoundStatusCashedOut
	settled.Settled = true
	settled.Win = true
	settled.Payout = payout
	settled.CashedOutAt = requested
	settled.SettledAt = &now

	res, err := s.ledger.Apply(ctx, &storage.Settlement{
		Owner: owner,
		Now:   now,
		Delta: payout,
		Won:   payout,
		Transactions: []models.Transaction{
			s.ledger.Line(owner, models.TransactionTypeWin, payout, round,
				fmt.Sprintf("Crash cash out at %sx", requested.StringFixed(models.MoneyPlaces))),
		},
		Round:       &settled,
		RoundMode:   storage.RoundFinalize,
		Active:      storage.ActiveRelease,
		ActiveRound: round.ID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrRoundSettled) {
			return nil, apperrors.ErrAlreadySettled
		}
		return nil, err
	}

	monitoring.RoundsSettled.WithLabelValues(string(models.GameTypeCrash), string(models.RoundStatusCashedOut)).Inc()
	s.log.Info("crash cashed out",
		zap.Int64("owner", owner),
		zap.Int64("round_id", round.ID),
		zap.String("multiplier", requested.String()),
		zap.String("payout", payout.String()))
	s.broadcaster.BroadcastBalance(owner, res.Balance)

	return &models.CrashCashOutResult{
		RoundID:    round.ID,
		Multiplier: requested,
		Payout:     payout,
		CrashedAt:  round.CrashPoint,
		Balance:    res.Balance,
		Secret:     round.Secret,
	}, nil
}

// finalizeCrashed settles a running round as lost and releases the owner's
// active marker.
func (s *CrashService) finalizeCrashed(ctx context.Context, round *models.Round) error {
	now := s.clock.Now()
	crashed := crashedCopy(round)
	crashed.SettledAt = &now

	_, err := s.ledger.Apply(ctx, &storage.Settlement{
		Owner:       round.Owner,
		Now:         now,
		Round:       crashed,
		RoundMode:   storage.RoundFinalize,
		Active:      storage.ActiveRelease,
		ActiveRound: round.ID,
	})
	if err != nil {
		return err
	}
	monitoring.RoundsSettled.WithLabelValues(string(models.GameTypeCrash), string(models.RoundStatusCrashed)).Inc()
	s.log.Info("crash round busted",
		zap.Int64("owner", round.Owner),
		zap.Int64("round_id", round.ID),
		zap.String("crash_point", round.CrashPoint.String()))
	s.broadcaster.BroadcastGameCrash(round.Owner, round.ID, round.CrashPoint)
	return nil
}

// SweepCrashed settles every running round whose crash time has passed and
// returns how many it settled.
func (s *CrashService) SweepCrashed(ctx context.Context) (int, error) {
	rounds, err := s.store.ListActiveCrashRounds(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	swept := 0
	for _, r := range rounds {
		if !s.crashedByTime(r, now) {
			continue
		}
		if err := s.finalizeCrashed(ctx, r); err != nil {
			if errors.Is(err, storage.ErrRoundSettled) || errors.Is(err, storage.ErrActiveRoundMismatch) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// Sweeper returns a job that runs SweepCrashed every interval.
func (s *CrashService) Sweeper(interval time.Duration) jobs.Job {
	return jobs.Ticker{
		Interval: interval,
		Run: func(ctx context.Context) {
			n, err := s.SweepCrashed(ctx)
			if err != nil {
				s.log.Error("crash sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				s.log.Info("crash sweep settled rounds", zap.Int("count", n))
			}
		},
	}
}

// Round returns a view of the round, hiding the crash data until revealed.
func (s *CrashService) Round(ctx context.Context, id int64) (*models.RoundView, error) {
	r, err := s.store.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(r, s.clock.Now())
	return &view, nil
}

// OwnedRound is Round restricted to the owner's crash rounds.
func (s *CrashService) OwnedRound(ctx context.Context, owner, id int64) (*models.RoundView, error) {
	r, err := s.store.GetRound(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRoundNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if r.Owner != owner || r.Game != models.GameTypeCrash {
		return nil, apperrors.ErrNotFound
	}
	view := s.view(r, s.clock.Now())
	return &view, nil
}

// Active describes the owner's running round, if any.
func (s *CrashService) Active(ctx context.Context, owner int64) (*models.ActiveCrashInfo, error) {
	r, err := s.store.GetActiveCrashRound(ctx, owner)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &models.ActiveCrashInfo{Active: false}, nil
	}
	now := s.clock.Now()
	if s.crashedByTime(r, now) {
		if err := s.finalizeCrashed(ctx, r); err != nil && !errors.Is(err, storage.ErrRoundSettled) {
			return nil, err
		}
		return &models.ActiveCrashInfo{Active: false}, nil
	}
	created := r.CreatedAt
	return &models.ActiveCrashInfo{
		Active:         true,
		RoundID:        r.ID,
		Stake:          r.Stake,
		LiveMultiplier: s.LiveMultiplier(r, now),
		CreatedAt:      &created,
	}, nil
}

// PublishLive broadcasts the live multiplier of the owner's round roundID.
// It reports false once that round is no longer running.
func (s *CrashService) PublishLive(ctx context.Context, owner, roundID int64) (bool, error) {
	info, err := s.Active(ctx, owner)
	if err != nil {
		return false, err
	}
	if !info.Active || info.RoundID != roundID {
		return false, nil
	}
	s.broadcaster.BroadcastGameUpdate(owner, roundID, info.LiveMultiplier)
	return true, nil
}

// History lists the owner's crash rounds, newest first.
func (s *CrashService) History(ctx context.Context, owner int64, limit int) ([]models.RoundView, error) {
	rounds, err := s.store.ListRounds(ctx, owner, models.GameTypeCrash, limit)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	views := make([]models.RoundView, 0, len(rounds))
	for _, r := range rounds {
		views = append(views, s.view(r, now))
	}
	return views, nil
}

// Recent lists the latest revealed crash rounds across all players.
func (s *CrashService) Recent(ctx context.Context, limit int) ([]models.RoundView, error) {
	if limit <= 0 || limit > MaxRecentRounds {
		limit = MaxRecentRounds
	}
	rounds, err := s.store.RecentRounds(ctx, models.GameTypeCrash, limit*2)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	views := make([]models.RoundView, 0, limit)
	for _, r := range rounds {
		if !s.IsRevealed(r, now) {
			continue
		}
		views = append(views, s.asOf(r, now).View(true))
		if len(views) == limit {
			break
		}
	}
	return views, nil
}

// Stats aggregates the owner's last hundred crash rounds.
func (s *CrashService) Stats(ctx context.Context, owner int64) (*models.CrashStats, error) {
	rounds, err := s.store.ListRounds(ctx, owner, models.GameTypeCrash, 100)
	if err != nil {
		return nil, err
	}

	stats := &models.CrashStats{
		TotalWagered:   decimal.Zero,
		TotalWon:       decimal.Zero,
		Profit:         decimal.Zero,
		WinRate:        decimal.Zero,
		RTP:            decimal.Zero,
		AverageCrash:   decimal.Zero,
		HighestCashout: decimal.Zero,
		BiggestWin:     decimal.Zero,
	}
	now := s.clock.Now()
	wins := 0
	crashSum := decimal.Zero
	for _, r := range rounds {
		r = s.asOf(r, now)
		if !r.Settled {
			stats.PendingRounds++
			continue
		}
		stats.TotalGames++
		stats.TotalWagered = stats.TotalWagered.Add(r.Stake)
		stats.TotalWon = stats.TotalWon.Add(r.Payout)
		crashSum = crashSum.Add(r.CrashPoint)
		if r.Status == models.RoundStatusCashedOut {
			wins++
			if r.CashedOutAt.GreaterThan(stats.HighestCashout) {
				stats.HighestCashout = r.CashedOutAt
			}
			if r.Payout.GreaterThan(stats.BiggestWin) {
				stats.BiggestWin = r.Payout
			}
		}
	}
	stats.Profit = stats.TotalWon.Sub(stats.TotalWagered)
	if stats.TotalGames > 0 {
		games := decimal.NewFromInt(int64(stats.TotalGames))
		stats.WinRate = decimal.NewFromInt(int64(wins)).Div(games).Shift(2).Round(2)
		stats.AverageCrash = crashSum.Div(games).Round(2)
	}
	if stats.TotalWagered.IsPositive() {
		stats.RTP = stats.TotalWon.Div(stats.TotalWagered).Shift(2).Round(2)
	}
	return stats, nil
}
