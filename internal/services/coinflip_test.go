package services_test

import (
	"context"
	"sync"
	"testing"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/services"
)

// predictOpen returns the face the next open with commitment c and seed will
// land on.
func (h *harness) predictOpen(t *testing.T, commitmentID, seed string) models.CoinFace {
	t.Helper()
	nonce := h.upcomingNonce(t)
	return h.engine.Edges.Current().CoinOutcome(h.secret(t, commitmentID), seed, nonce)
}

// predictRide returns the face the next ride of owner's session will land on.
func (h *harness) predictRide(t *testing.T, owner int64) models.CoinFace {
	t.Helper()
	session, err := h.store.GetRideSession(context.Background(), owner)
	if err != nil || session == nil {
		t.Fatalf("ride session: %v %v", session, err)
	}
	nonce := h.upcomingNonce(t)
	seed := services.RideClientSeed(session.ClientSeed, session.FlipCount, session.CurrentAmount)
	return h.engine.Edges.Current().CoinOutcome(h.secret(t, session.NextCommitment), seed, nonce)
}

func (h *harness) openWinning(t *testing.T, owner int64, stake string) *models.CoinflipOpenResult {
	t.Helper()
	c := h.commit(t, owner)
	guess := h.predictOpen(t, c.CommitmentID, "abc")
	res, err := h.engine.OpenCoinflip(context.Background(), owner, &models.OpenCoinflipRequest{
		Stake:        dec(stake),
		Guess:        guess,
		ClientSeed:   "abc",
		CommitmentID: c.CommitmentID,
	})
	if err != nil {
		t.Fatalf("open coinflip: %v", err)
	}
	if !res.Win {
		t.Fatalf("predicted win lost: %+v", res)
	}
	return res
}

func TestCoinflipRideAndCashOut(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3001
		ctx := context.Background()
		h.openAccount(t, owner)

		opened := h.openWinning(t, owner, "10")
		if !opened.Payout.Equal(dec("19.50")) {
			t.Fatalf("open payout = %s, want 19.50", opened.Payout)
		}
		if !opened.Balance.Equal(dec("990")) {
			t.Fatalf("balance after open = %s, want 990", opened.Balance)
		}
		if opened.Session == nil || opened.Session.FlipCount != 1 {
			t.Fatalf("expected session with one flip, got %+v", opened.Session)
		}

		guess := h.predictRide(t, owner)
		ride, err := h.engine.RideCoinflip(ctx, owner, guess)
		if err != nil {
			t.Fatalf("ride: %v", err)
		}
		if !ride.Win || !ride.Amount.Equal(dec("38.03")) || ride.FlipCount != 2 {
			t.Fatalf("ride = %+v, want win with 38.03 after 2 flips", ride)
		}
		expectBalance(t, h, owner, "990")

		out, err := h.engine.CashOutCoinflip(ctx, owner)
		if err != nil {
			t.Fatalf("cash out: %v", err)
		}
		if !out.Payout.Equal(dec("38.03")) || !out.Balance.Equal(dec("1028.03")) {
			t.Fatalf("cash out = %+v", out)
		}

		_, err = h.engine.CashOutCoinflip(ctx, owner)
		expectCode(t, err, apperrors.CodeNothingToCashOut)
		_, err = h.engine.RideCoinflip(ctx, owner, models.Heads)
		expectCode(t, err, apperrors.CodeNoOpenSession)

		wallet, err := h.engine.Ledger.Wallet(ctx, owner)
		if err != nil {
			t.Fatalf("wallet: %v", err)
		}
		if !wallet.TotalWagered.Equal(dec("10")) || !wallet.TotalWon.Equal(dec("38.03")) {
			t.Fatalf("wallet totals wagered=%s won=%s", wallet.TotalWagered, wallet.TotalWon)
		}
	})
}

func TestCoinflipOpenLossLeavesNoSession(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3002
		ctx := context.Background()
		h.openAccount(t, owner)

		c := h.commit(t, owner)
		guess := opposite(h.predictOpen(t, c.CommitmentID, "abc"))
		res, err := h.engine.OpenCoinflip(ctx, owner, &models.OpenCoinflipRequest{
			Stake: dec("10"), Guess: guess, ClientSeed: "abc", CommitmentID: c.CommitmentID,
		})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if res.Win || res.Session != nil || !res.Payout.IsZero() {
			t.Fatalf("expected a loss, got %+v", res)
		}
		if services.HashSecret(res.Secret) != c.CommitmentHash {
			t.Fatal("revealed secret does not match the commitment")
		}
		expectBalance(t, h, owner, "990")

		session, err := h.engine.Coinflip.Session(ctx, owner)
		if err != nil || session != nil {
			t.Fatalf("session after loss = %+v, %v", session, err)
		}
	})
}

func TestCoinflipRideLossForfeitsSession(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3003
		ctx := context.Background()
		h.openAccount(t, owner)
		h.openWinning(t, owner, "10")

		guess := opposite(h.predictRide(t, owner))
		ride, err := h.engine.RideCoinflip(ctx, owner, guess)
		if err != nil {
			t.Fatalf("ride: %v", err)
		}
		if ride.Win {
			t.Fatalf("expected a loss, got %+v", ride)
		}
		expectBalance(t, h, owner, "990")

		session, err := h.store.GetRideSession(ctx, owner)
		if err != nil || session != nil {
			t.Fatalf("session after ride loss = %+v, %v", session, err)
		}
		_, err = h.engine.CashOutCoinflip(ctx, owner)
		expectCode(t, err, apperrors.CodeNothingToCashOut)
	})
}

func TestCoinflipOpenRejections(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3004
		ctx := context.Background()
		h.openAccount(t, owner)
		c := h.commit(t, owner)

		open := func(stake string, guess models.CoinFace, commitmentID string) error {
			_, err := h.engine.OpenCoinflip(ctx, owner, &models.OpenCoinflipRequest{
				Stake: dec(stake), Guess: guess, ClientSeed: "abc", CommitmentID: commitmentID,
			})
			return err
		}

		expectCode(t, open("0", models.Heads, c.CommitmentID), apperrors.CodeValidation)
		expectCode(t, open("10.001", models.Heads, c.CommitmentID), apperrors.CodeValidation)
		expectCode(t, open("10", "edge", c.CommitmentID), apperrors.CodeValidation)
		expectCode(t, open("10", models.Heads, "unknown"), apperrors.CodeInvalidCommitment)
		expectCode(t, open("5000", models.Heads, c.CommitmentID), apperrors.CodeInsufficientFunds)
		expectBalance(t, h, owner, "1000")

		// The commitment survives every rejected attempt.
		if _, err := h.engine.Vault.Peek(ctx, c.CommitmentID, owner); err != nil {
			t.Fatalf("commitment consumed by a rejected open: %v", err)
		}

		h.openWinning(t, owner, "1")
		other := h.commit(t, owner)
		expectCode(t, open("1", models.Heads, other.CommitmentID), apperrors.CodeSessionActive)
	})
}

func TestCoinflipConcurrentRidesSerialize(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3005
		ctx := context.Background()
		h.openAccount(t, owner)
		h.openWinning(t, owner, "10")

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			losses    int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			guess := models.Heads
			if i%2 == 1 {
				guess = models.Tails
			}
			wg.Add(1)
			go func(guess models.CoinFace) {
				defer wg.Done()
				res, err := h.engine.RideCoinflip(ctx, owner, guess)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && res.Win:
					wins++
				case err == nil:
					losses++
				case isCode(err, apperrors.CodeInvalidCommitment),
					isCode(err, apperrors.CodeConflict),
					isCode(err, apperrors.CodeNoOpenSession):
					conflicts++
				default:
					t.Errorf("unexpected ride error: %v", err)
				}
			}(guess)
		}
		wg.Wait()

		if wins+losses == 0 {
			t.Fatal("no ride succeeded")
		}
		if losses > 1 {
			t.Fatalf("%d rides lost the same session", losses)
		}
		session, err := h.store.GetRideSession(ctx, owner)
		if err != nil {
			t.Fatalf("ride session: %v", err)
		}
		if losses == 1 {
			if session != nil {
				t.Fatalf("session survived a loss: %+v", session)
			}
			return
		}
		if session == nil || session.FlipCount != 1+wins {
			t.Fatalf("session %+v after %d winning rides", session, wins)
		}
		expectBalance(t, h, owner, "990")
	})
}

func TestCoinflipUnusedCommitmentStaysWithOwner(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3006
		ctx := context.Background()
		h.openAccount(t, owner)
		opened := h.openWinning(t, owner, "2")
		next := opened.Session.NextCommitment

		if _, err := h.engine.CashOutCoinflip(ctx, owner); err != nil {
			t.Fatalf("cash out: %v", err)
		}
		c, err := h.engine.Vault.Peek(ctx, next, owner)
		if err != nil {
			t.Fatalf("next commitment not usable after cash out: %v", err)
		}
		if c.Hash != opened.Session.NextHash {
			t.Fatalf("next hash = %s, want %s", c.Hash, opened.Session.NextHash)
		}
	})
}

func TestCoinflipOpenGeneratesClientSeed(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		const owner = 3007
		ctx := context.Background()
		h.openAccount(t, owner)
		c := h.commit(t, owner)

		res, err := h.engine.OpenCoinflip(ctx, owner, &models.OpenCoinflipRequest{
			Stake: dec("1"), Guess: models.Heads, CommitmentID: c.CommitmentID,
		})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if len(res.ClientSeed) != 32 {
			t.Fatalf("generated client seed = %q", res.ClientSeed)
		}
		round, err := h.store.GetRound(ctx, res.RoundID)
		if err != nil {
			t.Fatalf("get round: %v", err)
		}
		if round.ClientSeed != res.ClientSeed {
			t.Fatalf("round client seed = %q, result %q", round.ClientSeed, res.ClientSeed)
		}
		if want := h.engine.Edges.Current().CoinOutcome(res.Secret, res.ClientSeed, res.RoundID); want != res.Outcome {
			t.Fatalf("outcome = %s, recomputed %s", res.Outcome, want)
		}
	})
}
