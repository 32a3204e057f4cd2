package services

import (
	"context"

	"go.uber.org/zap"

	"provably-fair-backend/internal/config"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/storage"
)

// GameEngine is the entry point used by the transport layer. It wires the
// seed vault, the edge registry, the ledger and both games over one store.
type GameEngine struct {
	Vault    *SeedVault
	Edges    *EdgeRegistry
	Ledger   *Ledger
	Coinflip *CoinflipService
	Crash    *CrashService
	Verifier *Verifier

	broadcaster Broadcaster
	log         *zap.Logger
}

func NewGameEngine(store storage.Store, edges *EdgeRegistry, cfg *config.Config, clock Clock, log *zap.Logger) *GameEngine {
	limits := BetLimits{Min: cfg.MinBet, Max: cfg.MaxBet}
	vault := NewSeedVault(store, clock, log.Named("vault"))
	ledger := NewLedger(store, clock, log.Named("ledger"), cfg.StartingCredits)
	crash := NewCrashService(store, vault, edges, ledger, limits, CrashSettings{
		RevealCrashOnStart: cfg.RevealCrashOnStart,
		EnforceLiveCounter: cfg.EnforceLiveCounter,
		RevealGrace:        cfg.RevealGrace,
		RevealMinimum:      cfg.RevealMinimum,
	}, clock, log)

	return &GameEngine{
		Vault:       vault,
		Edges:       edges,
		Ledger:      ledger,
		Coinflip:    NewCoinflipService(store, vault, edges, ledger, limits, clock, log),
		Crash:       crash,
		Verifier:    NewVerifier(store, edges, crash, clock, log),
		broadcaster: NopBroadcaster,
		log:         log,
	}
}

func (ge *GameEngine) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = NopBroadcaster
	}
	ge.broadcaster = b
	ge.Crash.SetBroadcaster(b)
}

func (ge *GameEngine) OpenAccount(ctx context.Context, owner int64) (*models.Wallet, error) {
	return ge.Ledger.OpenAccount(ctx, owner)
}

// Account returns the wallet together with any open ride or crash round.
func (ge *GameEngine) Account(ctx context.Context, owner int64) (*models.Account, error) {
	wallet, err := ge.Ledger.Wallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	session, err := ge.Coinflip.Session(ctx, owner)
	if err != nil {
		return nil, err
	}
	active, err := ge.Crash.Active(ctx, owner)
	if err != nil {
		return nil, err
	}
	account := &models.Account{
		UserID:      owner,
		Wallet:      wallet.Summary(),
		RideSession: session,
	}
	if active.Active {
		account.ActiveCrash = active
	}
	return account, nil
}

func (ge *GameEngine) CommitSeed(ctx context.Context, owner int64) (*models.CommitSeedResponse, error) {
	return ge.Vault.Commit(ctx, owner)
}

func (ge *GameEngine) OpenCoinflip(ctx context.Context, owner int64, req *models.OpenCoinflipRequest) (*models.CoinflipOpenResult, error) {
	res, err := ge.Coinflip.Open(ctx, owner, req)
	if err != nil {
		return nil, err
	}
	ge.broadcaster.BroadcastBalance(owner, res.Balance)
	return res, nil
}

func (ge *GameEngine) RideCoinflip(ctx context.Context, owner int64, guess models.CoinFace) (*models.CoinflipRideResult, error) {
	return ge.Coinflip.Ride(ctx, owner, guess)
}

func (ge *GameEngine) CashOutCoinflip(ctx context.Context, owner int64) (*models.CashOutResult, error) {
	res, err := ge.Coinflip.CashOut(ctx, owner)
	if err != nil {
		return nil, err
	}
	ge.broadcaster.BroadcastBalance(owner, res.Balance)
	return res, nil
}

func (ge *GameEngine) StartCrash(ctx context.Context, owner int64, req *models.StartCrashRequest) (*models.CrashStartResult, error) {
	return ge.Crash.Start(ctx, owner, req)
}

func (ge *GameEngine) CashOutCrash(ctx context.Context, owner int64, req *models.CrashCashOutRequest) (*models.CrashCashOutResult, error) {
	return ge.Crash.CashOut(ctx, owner, req)
}

func (ge *GameEngine) VerifyRound(ctx context.Context, roundID int64) (*models.VerifyResult, error) {
	return ge.Verifier.VerifyRound(ctx, roundID)
}
