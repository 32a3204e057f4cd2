// Package sqlite provides the SQLite-backed implementation of storage.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/storage"
	"provably-fair-backend/internal/storage/sqlite/migrations"
	"provably-fair-backend/internal/storage/sqlitemigrate"
)

// Store persists wallets, commitments, rounds and sessions in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations. Writers
// take the database lock when their transaction begins.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) OpenAccount(ctx context.Context, owner int64, initial decimal.Decimal, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin open account: %w", err)
	}
	defer tx.Rollback()

	cents := models.ToCents(initial)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING`,
		owner, cents, toMillis(now), toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("insert wallet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert wallet: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if cents > 0 {
		if err := insertTransaction(ctx, tx, models.Transaction{
			ID:            newTxID(),
			UserID:        owner,
			Type:          models.TransactionTypeDeposit,
			Amount:        models.FromCents(cents),
			BalanceBefore: decimal.Zero,
			BalanceAfter:  models.FromCents(cents),
			Description:   "Opening credits",
			CreatedAt:     now,
		}); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit open account: %w", err)
	}
	return true, nil
}

func (s *Store) GetWallet(ctx context.Context, owner int64) (*models.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		balance, wagered, won int64
		createdAt, updatedAt  int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT balance_cents, total_wagered_cents, total_won_cents, created_at, updated_at
		 FROM wallets WHERE user_id = ?`, owner,
	).Scan(&balance, &wagered, &won, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &models.Wallet{
		UserID:       owner,
		Balance:      models.FromCents(balance),
		TotalWagered: models.FromCents(wagered),
		TotalWon:     models.FromCents(won),
		CreatedAt:    fromMillis(createdAt),
		UpdatedAt:    fromMillis(updatedAt),
	}, nil
}

func (s *Store) NextNonce(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next int64
	err := s.sqlDB.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'round_nonce' RETURNING value`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next nonce: %w", err)
	}
	return next, nil
}

func (s *Store) CreateCommitment(ctx context.Context, c *models.SeedCommitment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := insertCommitment(ctx, s.sqlDB, c); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertCommitment(ctx context.Context, db execer, c *models.SeedCommitment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO commitments (id, owner, secret, hash, consumed, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		c.ID, c.Owner, c.Secret, c.Hash, toMillis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	return nil
}

const commitmentColumns = `id, owner, secret, hash, consumed, round_id, created_at, consumed_at`

func scanCommitment(row interface{ Scan(...any) error }) (*models.SeedCommitment, error) {
	var (
		c          models.SeedCommitment
		consumed   int
		roundID    sql.NullInt64
		createdAt  int64
		consumedAt sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Owner, &c.Secret, &c.Hash, &consumed, &roundID, &createdAt, &consumedAt); err != nil {
		return nil, err
	}
	c.Consumed = consumed != 0
	c.RoundID = roundID.Int64
	c.CreatedAt = fromMillis(createdAt)
	if consumedAt.Valid {
		t := fromMillis(consumedAt.Int64)
		c.ConsumedAt = &t
	}
	return &c, nil
}

func (s *Store) GetCommitment(ctx context.Context, id string) (*models.SeedCommitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := scanCommitment(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCommitmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commitment: %w", err)
	}
	return c, nil
}

func (s *Store) ConsumeCommitment(ctx context.Context, id string, owner int64, now time.Time) (*models.SeedCommitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := scanCommitment(s.sqlDB.QueryRowContext(ctx,
		`UPDATE commitments SET consumed = 1, consumed_at = ?
		 WHERE id = ? AND owner = ? AND consumed = 0
		 RETURNING `+commitmentColumns,
		toMillis(now), id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCommitmentUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("consume commitment: %w", err)
	}
	return c, nil
}

func (s *Store) ListCommitments(ctx context.Context, owner int64, limit int) ([]*models.SeedCommitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE owner = ?
		 ORDER BY created_at DESC LIMIT ?`, owner, storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []*models.SeedCommitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getRound(ctx, s.sqlDB, id)
}

func getRound(ctx context.Context, db queryer, id int64) (*models.Round, error) {
	var record string
	err := db.QueryRowContext(ctx, `SELECT record FROM rounds WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	return decodeRound(record)
}

func decodeRound(record string) (*models.Round, error) {
	var r models.Round
	if err := json.Unmarshal([]byte(record), &r); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &r, nil
}

func (s *Store) queryRounds(ctx context.Context, query string, args ...any) ([]*models.Round, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []*models.Round
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r, err := decodeRound(record)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRounds(ctx context.Context, owner int64, game models.GameType, limit int) ([]*models.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.queryRounds(ctx,
		`SELECT record FROM rounds WHERE owner = ? AND game = ? ORDER BY id DESC LIMIT ?`,
		owner, string(game), storage.ClampLimit(limit))
}

func (s *Store) RecentRounds(ctx context.Context, game models.GameType, limit int) ([]*models.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.queryRounds(ctx,
		`SELECT record FROM rounds WHERE game = ? ORDER BY id DESC LIMIT ?`,
		string(game), storage.ClampLimit(limit))
}

func (s *Store) GetRideSession(ctx context.Context, owner int64) (*models.RideSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getRideSession(ctx, s.sqlDB, owner)
}

func getRideSession(ctx context.Context, db queryer, owner int64) (*models.RideSession, error) {
	var record string
	err := db.QueryRowContext(ctx, `SELECT record FROM ride_sessions WHERE owner = ?`, owner).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ride session: %w", err)
	}
	var session models.RideSession
	if err := json.Unmarshal([]byte(record), &session); err != nil {
		return nil, fmt.Errorf("decode ride session: %w", err)
	}
	return &session, nil
}

func (s *Store) GetActiveCrashRound(ctx context.Context, owner int64) (*models.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT r.record FROM crash_active a JOIN rounds r ON r.id = a.round_id WHERE a.owner = ?`,
		owner).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active crash round: %w", err)
	}
	return decodeRound(record)
}

func (s *Store) ListActiveCrashRounds(ctx context.Context) ([]*models.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.queryRounds(ctx,
		`SELECT r.record FROM crash_active a JOIN rounds r ON r.id = a.round_id ORDER BY r.id`)
}

func (s *Store) ListTransactions(ctx context.Context, owner int64, limit int) ([]*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, type, amount_cents, balance_before_cents, balance_after_cents,
		        round_id, game, description, created_at
		 FROM transactions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		owner, storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var (
			t                     models.Transaction
			amount, before, after int64
			roundID               sql.NullInt64
			game, txType          string
			createdAt             int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &amount, &before, &after,
			&roundID, &game, &t.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = models.TransactionType(txType)
		t.Game = models.GameType(game)
		t.Amount = models.FromCents(amount)
		t.BalanceBefore = models.FromCents(before)
		t.BalanceAfter = models.FromCents(after)
		t.RoundID = roundID.Int64
		t.CreatedAt = fromMillis(createdAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) TopWins(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, game, round_id, amount_cents, created_at FROM transactions
		 WHERE type = ? ORDER BY amount_cents DESC, created_at ASC LIMIT ?`,
		string(models.TransactionTypeWin), storage.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("top wins: %w", err)
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		var (
			e         models.LeaderboardEntry
			game      string
			roundID   sql.NullInt64
			amount    int64
			createdAt int64
		)
		if err := rows.Scan(&e.UserID, &game, &roundID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan win: %w", err)
		}
		e.Rank = len(out) + 1
		e.Game = models.GameType(game)
		e.RoundID = roundID.Int64
		e.Amount = models.FromCents(amount)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) HouseTotals(ctx context.Context) (*models.HouseTotals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var wagered, paid, rounds int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT
		   COALESCE((SELECT SUM(total_wagered_cents) FROM wallets), 0),
		   COALESCE((SELECT SUM(total_won_cents) FROM wallets), 0),
		   (SELECT COUNT(*) FROM rounds WHERE settled = 1)`,
	).Scan(&wagered, &paid, &rounds)
	if err != nil {
		return nil, fmt.Errorf("house totals: %w", err)
	}
	return &models.HouseTotals{
		Wagered: models.FromCents(wagered),
		Paid:    models.FromCents(paid),
		Profit:  models.FromCents(wagered - paid),
		Rounds:  rounds,
	}, nil
}

func (s *Store) SaveEdgeConfig(ctx context.Context, edge models.EdgeConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO edge_configs (version, edge_fraction, max_multiplier, growth_rate, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		edge.Version, edge.EdgeFraction.String(), edge.MaxMultiplier.String(),
		edge.GrowthRate.String(), toMillis(edge.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateEdgeVersion
		}
		return fmt.Errorf("save edge config: %w", err)
	}
	return nil
}

func (s *Store) LatestEdgeConfig(ctx context.Context) (*models.EdgeConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	edge, err := s.scanEdge(ctx, `ORDER BY version DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return edge, err
}

func (s *Store) GetEdgeConfig(ctx context.Context, version int) (*models.EdgeConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	edge, err := s.scanEdge(ctx, `WHERE version = ?`, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrEdgeNotFound
	}
	return edge, err
}

func (s *Store) scanEdge(ctx context.Context, clause string, args ...any) (*models.EdgeConfig, error) {
	var (
		edge                      models.EdgeConfig
		fraction, maxMult, growth string
		createdAt                 int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, edge_fraction, max_multiplier, growth_rate, created_at FROM edge_configs `+clause,
		args...).Scan(&edge.Version, &fraction, &maxMult, &growth, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load edge config: %w", err)
	}
	if edge.EdgeFraction, err = decimal.NewFromString(fraction); err != nil {
		return nil, fmt.Errorf("decode edge fraction: %w", err)
	}
	if edge.MaxMultiplier, err = decimal.NewFromString(maxMult); err != nil {
		return nil, fmt.Errorf("decode max multiplier: %w", err)
	}
	if edge.GrowthRate, err = decimal.NewFromString(growth); err != nil {
		return nil, fmt.Errorf("decode growth rate: %w", err)
	}
	edge.CreatedAt = fromMillis(createdAt)
	return &edge, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
