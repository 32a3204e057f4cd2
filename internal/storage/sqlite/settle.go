package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/storage"
)

func newTxID() string {
	return uuid.NewString()
}

func insertTransaction(ctx context.Context, db execer, t models.Transaction) error {
	var roundID any
	if t.RoundID != 0 {
		roundID = t.RoundID
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount_cents, balance_before_cents,
		   balance_after_cents, round_id, game, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Type), models.ToCents(t.Amount), models.ToCents(t.BalanceBefore),
		models.ToCents(t.BalanceAfter), roundID, string(t.Game), t.Description, toMillis(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Settle applies the settlement inside one immediate transaction. All reads
// that guard a write happen before the first write.
func (s *Store) Settle(ctx context.Context, st *storage.Settlement) (*storage.SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	var balance, wagered, won int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance_cents, total_wagered_cents, total_won_cents FROM wallets WHERE user_id = ?`,
		st.Owner).Scan(&balance, &wagered, &won)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	if st.ConsumeCommitment != "" {
		var owner int64
		var consumed int
		err := tx.QueryRowContext(ctx,
			`SELECT owner, consumed FROM commitments WHERE id = ?`, st.ConsumeCommitment,
		).Scan(&owner, &consumed)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && (owner != st.Owner || consumed != 0)) {
			return nil, storage.ErrCommitmentUnavailable
		}
		if err != nil {
			return nil, fmt.Errorf("load commitment: %w", err)
		}
	}

	if st.Round != nil {
		existing, err := getRound(ctx, tx, st.Round.ID)
		switch st.RoundMode {
		case storage.RoundInsert:
			if err == nil {
				return nil, storage.ErrDuplicateRound
			}
			if !errors.Is(err, storage.ErrRoundNotFound) {
				return nil, err
			}
		case storage.RoundFinalize:
			if err != nil {
				return nil, err
			}
			if existing.Settled {
				return nil, storage.ErrRoundSettled
			}
		}
	}

	switch st.Active {
	case storage.ActiveClaim:
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT round_id FROM crash_active WHERE owner = ?`, st.Owner).Scan(&current)
		if err == nil {
			return nil, storage.ErrActiveRoundExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load active round: %w", err)
		}
	case storage.ActiveRelease:
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT round_id FROM crash_active WHERE owner = ?`, st.Owner).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && current != st.ActiveRound) {
			return nil, storage.ErrActiveRoundMismatch
		}
		if err != nil {
			return nil, fmt.Errorf("load active round: %w", err)
		}
	}

	switch st.Session {
	case storage.SessionCreate:
		existing, err := getRideSession(ctx, tx, st.Owner)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, storage.ErrSessionExists
		}
	case storage.SessionReplace, storage.SessionDelete:
		existing, err := getRideSession(ctx, tx, st.Owner)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, storage.ErrSessionMissing
		}
		if existing.FlipCount != st.ExpectVersion {
			return nil, storage.ErrSessionChanged
		}
	}

	delta := models.ToCents(st.Delta)
	if balance+delta < 0 {
		return nil, storage.ErrInsufficientFunds
	}

	// Writes.
	now := toMillis(st.Now)
	newBalance := balance + delta
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_cents = ?, total_wagered_cents = ?, total_won_cents = ?, updated_at = ?
		 WHERE user_id = ?`,
		newBalance, wagered+models.ToCents(st.Wagered), won+models.ToCents(st.Won), now, st.Owner,
	); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}

	if st.Round != nil {
		record, err := json.Marshal(st.Round)
		if err != nil {
			return nil, fmt.Errorf("encode round: %w", err)
		}
		settled := 0
		if st.Round.Settled {
			settled = 1
		}
		switch st.RoundMode {
		case storage.RoundInsert:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO rounds (id, owner, game, status, settled, record, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				st.Round.ID, st.Round.Owner, string(st.Round.Game), string(st.Round.Status), settled,
				string(record), toMillis(st.Round.CreatedAt))
		case storage.RoundFinalize:
			_, err = tx.ExecContext(ctx,
				`UPDATE rounds SET status = ?, settled = ?, record = ? WHERE id = ? AND settled = 0`,
				string(st.Round.Status), settled, string(record), st.Round.ID)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return nil, storage.ErrDuplicateRound
			}
			return nil, fmt.Errorf("write round: %w", err)
		}
	}

	if st.ConsumeCommitment != "" {
		var roundID any
		if st.Round != nil {
			roundID = st.Round.ID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE commitments SET consumed = 1, consumed_at = ?, round_id = ? WHERE id = ? AND consumed = 0`,
			now, roundID, st.ConsumeCommitment,
		); err != nil {
			return nil, fmt.Errorf("consume commitment: %w", err)
		}
	}

	switch st.Active {
	case storage.ActiveClaim:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crash_active (owner, round_id) VALUES (?, ?)`, st.Owner, st.ActiveRound,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, storage.ErrActiveRoundExists
			}
			return nil, fmt.Errorf("claim active round: %w", err)
		}
	case storage.ActiveRelease:
		if _, err := tx.ExecContext(ctx, `DELETE FROM crash_active WHERE owner = ?`, st.Owner); err != nil {
			return nil, fmt.Errorf("release active round: %w", err)
		}
	}

	switch st.Session {
	case storage.SessionCreate, storage.SessionReplace:
		record, err := json.Marshal(st.NewSession)
		if err != nil {
			return nil, fmt.Errorf("encode ride session: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ride_sessions (owner, flip_count, record, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (owner) DO UPDATE SET flip_count = excluded.flip_count,
			   record = excluded.record, updated_at = excluded.updated_at`,
			st.Owner, st.NewSession.FlipCount, string(record), now,
		); err != nil {
			return nil, fmt.Errorf("write ride session: %w", err)
		}
	case storage.SessionDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM ride_sessions WHERE owner = ?`, st.Owner); err != nil {
			return nil, fmt.Errorf("delete ride session: %w", err)
		}
	}

	if st.NewCommitment != nil {
		if err := insertCommitment(ctx, tx, st.NewCommitment); err != nil {
			return nil, err
		}
	}

	running := balance
	written := make([]models.Transaction, 0, len(st.Transactions))
	for _, t := range st.Transactions {
		t.BalanceBefore = models.FromCents(running)
		running += models.ToCents(t.Amount)
		t.BalanceAfter = models.FromCents(running)
		if err := insertTransaction(ctx, tx, t); err != nil {
			return nil, err
		}
		written = append(written, t)
	}
	if running != newBalance {
		return nil, fmt.Errorf("%w: transactions sum to %d cents, delta is %d",
			storage.ErrLedgerMismatch, running-balance, delta)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}
	return &storage.SettlementResult{
		Balance:      models.FromCents(newBalance),
		Transactions: written,
	}, nil
}
