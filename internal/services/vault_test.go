package services_test

import (
	"context"
	"sync"
	"testing"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/services"
)

func TestCommitPublishesHashOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 1001
		h.openAccount(t, owner)

		c := h.commit(t, owner)
		if c.CommitmentID == "" || len(c.CommitmentHash) != 64 {
			t.Fatalf("unexpected commitment %+v", c)
		}
		if services.HashSecret(h.secret(t, c.CommitmentID)) != c.CommitmentHash {
			t.Fatal("commitment hash does not match stored secret")
		}

		pending, err := h.engine.Vault.Pending(context.Background(), owner)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != c.CommitmentID {
			t.Fatalf("pending = %+v", pending)
		}
	})
}

func TestCommitRequiresAccount(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		_, err := h.engine.CommitSeed(context.Background(), 4242)
		expectCode(t, err, apperrors.CodeNotFound)
	})
}

func TestConsumeIsSingleUse(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 1002
		ctx := context.Background()
		h.openAccount(t, owner)
		h.openAccount(t, owner+1)
		c := h.commit(t, owner)

		_, err := h.engine.Vault.Consume(ctx, c.CommitmentID, owner+1)
		expectCode(t, err, apperrors.CodeInvalidCommitment)

		secret, err := h.engine.Vault.Consume(ctx, c.CommitmentID, owner)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if services.HashSecret(secret) != c.CommitmentHash {
			t.Fatal("consumed secret does not match commitment")
		}

		_, err = h.engine.Vault.Consume(ctx, c.CommitmentID, owner)
		expectCode(t, err, apperrors.CodeInvalidCommitment)

		_, err = h.engine.Vault.Consume(ctx, "does-not-exist", owner)
		expectCode(t, err, apperrors.CodeInvalidCommitment)
	})
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 1003
		h.openAccount(t, owner)
		c := h.commit(t, owner)

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			rejected  int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.engine.Vault.Consume(context.Background(), c.CommitmentID, owner)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case isCode(err, apperrors.CodeInvalidCommitment):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if successes != 1 || rejected != workers-1 {
			t.Fatalf("successes=%d rejected=%d, want 1 and %d", successes, rejected, workers-1)
		}
	})
}
