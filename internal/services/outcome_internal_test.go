package services

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"provably-fair-backend/internal/models"
)

func defaultEngine(t *testing.T) *OutcomeEngine {
	t.Helper()
	engine, err := NewOutcomeEngine(models.EdgeConfig{
		Version:       1,
		EdgeFraction:  decimal.RequireFromString("0.05"),
		MaxMultiplier: decimal.NewFromInt(1000000),
		GrowthRate:    decimal.RequireFromString("0.1"),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func digestFor(h *big.Int) []byte {
	return h.FillBytes(make([]byte, 32))
}

func TestCrashFromDigestFormula(t *testing.T) {
	engine := defaultEngine(t)
	window := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	withR := func(r *big.Int) *big.Int {
		h := new(big.Int).Lsh(r, 8)
		return h.Add(h, big.NewInt(1))
	}

	tests := []struct {
		name string
		h    *big.Int
		want string
	}{
		{"zero digest busts", big.NewInt(0), "1.00"},
		{"multiple of twenty busts", big.NewInt(20 * 977), "1.00"},
		{"r of zero", big.NewInt(1), "1.00"},
		{"half window doubles", withR(new(big.Int).Div(window, big.NewInt(2))), "2.00"},
		{"nine tenths is ten", withR(new(big.Int).Mul(big.NewInt(9), new(big.Int).Div(window, big.NewInt(10)))), "10.00"},
		{"top of window clamps", withR(new(big.Int).Sub(window, big.NewInt(1))), "1000000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.crashFromDigest(digestFor(tt.h))
			if got.StringFixed(2) != tt.want {
				t.Errorf("crash point = %s, want %s", got.StringFixed(2), tt.want)
			}
		})
	}
}

func TestInstantBustRate(t *testing.T) {
	engine := defaultEngine(t)
	rng := rand.New(rand.NewSource(42))
	twenty := big.NewInt(20)
	one := decimal.NewFromInt(1)

	const samples = 200000
	busts := 0
	buf := make([]byte, 32)
	for i := 0; i < samples; i++ {
		rng.Read(buf)
		h := new(big.Int).SetBytes(buf)
		m := engine.crashFromDigest(buf)
		if m.LessThan(one) {
			t.Fatalf("multiplier %s below 1.00", m)
		}
		if new(big.Int).Mod(h, twenty).Sign() == 0 {
			busts++
			if !m.Equal(one) {
				t.Fatalf("digest divisible by 20 gave %s, want 1.00", m)
			}
		}
	}

	rate := float64(busts) / samples
	if rate < 0.047 || rate > 0.053 {
		t.Errorf("instant bust rate = %.4f, want about 0.05", rate)
	}
}

func TestBustEveryFollowsEdge(t *testing.T) {
	engine, err := NewOutcomeEngine(models.EdgeConfig{
		EdgeFraction:  decimal.RequireFromString("0.01"),
		MaxMultiplier: decimal.NewFromInt(1000),
		GrowthRate:    decimal.RequireFromString("0.1"),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if engine.bustEvery.Int64() != 100 {
		t.Errorf("bustEvery = %d, want 100", engine.bustEvery.Int64())
	}
	if got := engine.crashFromDigest(digestFor(big.NewInt(100 * 3))); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("crash point = %s, want 1.00", got)
	}
}

func TestCoinFromDigestParity(t *testing.T) {
	if coinFromDigest(digestFor(big.NewInt(1024))) != models.Heads {
		t.Error("even digest should be heads")
	}
	if coinFromDigest(digestFor(big.NewInt(1025))) != models.Tails {
		t.Error("odd digest should be tails")
	}
}
