package services_test

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/services"
)

func TestEdgeRegistryVersions(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		edges := h.engine.Edges

		if v := edges.Current().Edge().Version; v != 1 {
			t.Fatalf("initial version = %d, want 1", v)
		}

		_, err := edges.Update(ctx, dec("0.005"), nil)
		expectCode(t, err, apperrors.CodeValidation)
		_, err = edges.Update(ctx, dec("0.2"), nil)
		expectCode(t, err, apperrors.CodeValidation)

		next, err := edges.Update(ctx, dec("0.02"), nil)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if next.Version != 2 || !next.MaxMultiplier.Equal(dec("1000000")) {
			t.Fatalf("updated edge = %+v", next)
		}
		if got := edges.Current().PayoutMultiplier(); !got.Equal(dec("1.98")) {
			t.Fatalf("payout multiplier = %s, want 1.98", got)
		}

		old, err := edges.Version(ctx, 1)
		if err != nil {
			t.Fatalf("version 1: %v", err)
		}
		if !old.Edge().EdgeFraction.Equal(dec("0.05")) {
			t.Fatalf("version 1 edge = %s", old.Edge().EdgeFraction)
		}

		reloaded, err := services.LoadEdgeRegistry(ctx, h.store, models.EdgeConfig{
			EdgeFraction:  dec("0.05"),
			MaxMultiplier: dec("1000000"),
			GrowthRate:    dec("0.1"),
		}, h.clock, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if e := reloaded.Current().Edge(); e.Version != 2 || !e.EdgeFraction.Equal(dec("0.02")) {
			t.Fatalf("reloaded edge = %+v", e)
		}
	})
}

func TestNewRoundsSnapshotCurrentEdge(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 6001
		ctx := context.Background()
		h.openAccount(t, owner)
		if _, err := h.engine.Edges.Update(ctx, dec("0.02"), nil); err != nil {
			t.Fatalf("update: %v", err)
		}

		opened := h.openWinning(t, owner, "10")
		if !opened.Payout.Equal(dec("19.80")) {
			t.Fatalf("payout = %s, want 19.80", opened.Payout)
		}
		round, err := h.store.GetRound(ctx, opened.RoundID)
		if err != nil {
			t.Fatalf("get round: %v", err)
		}
		if round.Edge.Version != 2 {
			t.Fatalf("round edge version = %d, want 2", round.Edge.Version)
		}
	})
}
