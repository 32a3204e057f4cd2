package services_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/config"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/services"
	"provably-fair-backend/internal/storage"
	"provably-fair-backend/internal/storage/sqlite"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                "test",
		StoreDriver:        config.StoreSQLite,
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		StartingCredits:    dec("1000"),
		MinBet:             dec("0.01"),
		MaxBet:             dec("10000"),
		EdgeFraction:       dec("0.05"),
		MaxMultiplier:      dec("1000000"),
		GrowthRate:         dec("0.1"),
		EnforceLiveCounter: true,
		RevealGrace:        2 * time.Second,
		RevealMinimum:      5 * time.Second,
		SweepInterval:      time.Second,
	}
}

func newMiniredisStore(t *testing.T) *services.RedisService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := services.NewRedisServiceWithClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "casino.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type harness struct {
	store  storage.Store
	clock  *services.ManualClock
	cfg    *config.Config
	engine *services.GameEngine
}

func newHarness(t *testing.T, store storage.Store) *harness {
	t.Helper()
	cfg := testConfig()
	clock := services.NewManualClock(testStart)
	log := zaptest.NewLogger(t)
	edges, err := services.LoadEdgeRegistry(context.Background(), store, models.EdgeConfig{
		EdgeFraction:  cfg.EdgeFraction,
		MaxMultiplier: cfg.MaxMultiplier,
		GrowthRate:    cfg.GrowthRate,
	}, clock, log)
	if err != nil {
		t.Fatalf("load edge registry: %v", err)
	}
	return &harness{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		engine: services.NewGameEngine(store, edges, cfg, clock, log),
	}
}

// eachStore runs fn once against the Redis store and once against SQLite.
func eachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("redis", func(t *testing.T) {
		fn(t, newHarness(t, newMiniredisStore(t)))
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newHarness(t, newSQLiteStore(t)))
	})
}

func (h *harness) openAccount(t *testing.T, owner int64) {
	t.Helper()
	if _, err := h.engine.OpenAccount(context.Background(), owner); err != nil {
		t.Fatalf("open account %d: %v", owner, err)
	}
}

func (h *harness) commit(t *testing.T, owner int64) *models.CommitSeedResponse {
	t.Helper()
	c, err := h.engine.CommitSeed(context.Background(), owner)
	if err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	return c
}

// secret reads a commitment's secret straight from the store, which lets a
// test predict outcomes before playing them.
func (h *harness) secret(t *testing.T, commitmentID string) string {
	t.Helper()
	c, err := h.store.GetCommitment(context.Background(), commitmentID)
	if err != nil {
		t.Fatalf("get commitment: %v", err)
	}
	return c.Secret
}

// upcomingNonce burns one nonce and returns the one the next round will get.
func (h *harness) upcomingNonce(t *testing.T) int64 {
	t.Helper()
	n, err := h.store.NextNonce(context.Background())
	if err != nil {
		t.Fatalf("next nonce: %v", err)
	}
	return n + 1
}

func (h *harness) balance(t *testing.T, owner int64) decimal.Decimal {
	t.Helper()
	b, err := h.engine.Ledger.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

// findCrashSeed searches for a client seed whose crash point at nonce
// satisfies want.
func (h *harness) findCrashSeed(t *testing.T, secret string, nonce int64, want func(decimal.Decimal) bool) string {
	t.Helper()
	engine := h.engine.Edges.Current()
	for i := 0; i < 5000; i++ {
		seed := fmt.Sprintf("seed-%d", i)
		if want(engine.CrashMultiplier(secret, seed, nonce)) {
			return seed
		}
	}
	t.Fatalf("no client seed found for nonce %d", nonce)
	return ""
}

func opposite(f models.CoinFace) models.CoinFace {
	if f == models.Heads {
		return models.Tails
	}
	return models.Heads
}

func expectCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("expected %s error, got %s (%v)", code, got, err)
	}
}

func expectBalance(t *testing.T, h *harness, owner int64, want string) {
	t.Helper()
	if got := h.balance(t, owner); !got.Equal(dec(want)) {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}

func isCode(err error, code apperrors.Code) bool {
	var appErr *apperrors.Error
	return errors.As(err, &appErr) && appErr.Code == code
}
