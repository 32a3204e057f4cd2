package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"provably-fair-backend/internal/config"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/storage"
)

// RedisService is the Redis-backed storage.Store. Multi-key mutations run as
// Lua scripts so each settlement is atomic.
type RedisService struct {
	client *redis.Client
}

var _ storage.Store = (*RedisService)(nil)

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

// NewRedisServiceWithClient wraps an existing client.
func NewRedisServiceWithClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

var scriptErrors = []struct {
	token string
	err   error
}{
	{"wallet_not_found", storage.ErrWalletNotFound},
	{"commitment_unavailable", storage.ErrCommitmentUnavailable},
	{"duplicate_round", storage.ErrDuplicateRound},
	{"round_not_found", storage.ErrRoundNotFound},
	{"round_settled", storage.ErrRoundSettled},
	{"active_round_exists", storage.ErrActiveRoundExists},
	{"active_round_mismatch", storage.ErrActiveRoundMismatch},
	{"session_exists", storage.ErrSessionExists},
	{"session_missing", storage.ErrSessionMissing},
	{"session_changed", storage.ErrSessionChanged},
	{"insufficient_funds", storage.ErrInsufficientFunds},
	{"ledger_mismatch", storage.ErrLedgerMismatch},
}

func mapScriptError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, e := range scriptErrors {
		if strings.Contains(msg, e.token) {
			return e.err
		}
	}
	return fmt.Errorf("redis script: %w", err)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	ms, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(ms).UTC()
}

func parseCents(v string) decimal.Decimal {
	cents, _ := strconv.ParseInt(v, 10, 64)
	return models.FromCents(cents)
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func (s *RedisService) OpenAccount(ctx context.Context, owner int64, initial decimal.Decimal, now time.Time) (bool, error) {
	txID := uuid.NewString()
	keys := []string{
		fmt.Sprintf(KeyWallet, owner),
		fmt.Sprintf(KeyTransaction, txID),
		fmt.Sprintf(KeyUserTransactions, owner),
	}
	created, err := openAccountScript.Run(ctx, s.client, keys,
		models.ToCents(initial), millis(now), txID, owner).Int()
	if err != nil {
		return false, fmt.Errorf("failed to open account: %w", err)
	}
	return created == 1, nil
}

func (s *RedisService) GetWallet(ctx context.Context, owner int64) (*models.Wallet, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf(KeyWallet, owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if len(data) == 0 {
		return nil, storage.ErrWalletNotFound
	}
	return &models.Wallet{
		UserID:       owner,
		Balance:      parseCents(data["balance_cents"]),
		TotalWagered: parseCents(data["total_wagered_cents"]),
		TotalWon:     parseCents(data["total_won_cents"]),
		CreatedAt:    parseMillis(data["created_at"]),
		UpdatedAt:    parseMillis(data["updated_at"]),
	}, nil
}

func (s *RedisService) NextNonce(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, KeyRoundSequence).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate nonce: %w", err)
	}
	return n, nil
}

func (s *RedisService) CreateCommitment(ctx context.Context, c *models.SeedCommitment) error {
	key := fmt.Sprintf(KeyCommitment, c.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"id", c.ID,
		"owner", c.Owner,
		"secret", c.Secret,
		"hash", c.Hash,
		"consumed", "0",
		"created_at", millis(c.CreatedAt),
	)
	pipe.ZAdd(ctx, fmt.Sprintf(KeyUserCommitments, c.Owner), redis.Z{
		Score:  float64(c.CreatedAt.UnixMilli()),
		Member: c.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save commitment: %w", err)
	}
	return nil
}

func decodeCommitment(data map[string]string) *models.SeedCommitment {
	c := &models.SeedCommitment{
		ID:        data["id"],
		Owner:     parseInt(data["owner"]),
		Secret:    data["secret"],
		Hash:      data["hash"],
		Consumed:  data["consumed"] == "1",
		RoundID:   parseInt(data["round_id"]),
		CreatedAt: parseMillis(data["created_at"]),
	}
	if v, ok := data["consumed_at"]; ok {
		t := parseMillis(v)
		c.ConsumedAt = &t
	}
	return c
}

func (s *RedisService) GetCommitment(ctx context.Context, id string) (*models.SeedCommitment, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf(KeyCommitment, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get commitment: %w", err)
	}
	if len(data) == 0 {
		return nil, storage.ErrCommitmentNotFound
	}
	return decodeCommitment(data), nil
}

func (s *RedisService) ConsumeCommitment(ctx context.Context, id string, owner int64, now time.Time) (*models.SeedCommitment, error) {
	key := fmt.Sprintf(KeyCommitment, id)
	if err := consumeScript.Run(ctx, s.client, []string{key}, owner, millis(now)).Err(); err != nil {
		return nil, mapScriptError(err)
	}
	return s.GetCommitment(ctx, id)
}

func (s *RedisService) ListCommitments(ctx context.Context, owner int64, limit int) ([]*models.SeedCommitment, error) {
	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserCommitments, owner), 0, int64(storage.ClampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list commitments: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf(KeyCommitment, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	out := make([]*models.SeedCommitment, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, decodeCommitment(data))
	}
	return out, nil
}

type commitmentArg struct {
	ID        string `json:"id"`
	Owner     int64  `json:"owner"`
	Secret    string `json:"secret"`
	Hash      string `json:"hash"`
	CreatedAt int64  `json:"created_at"`
}

type txArg struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	RoundID     int64  `json:"round_id"`
	Game        string `json:"game"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
}

type settlePayload struct {
	Owner          int64          `json:"owner"`
	Now            int64          `json:"now"`
	Consume        bool           `json:"consume"`
	Delta          int64          `json:"delta"`
	Wagered        int64          `json:"wagered"`
	Won            int64          `json:"won"`
	RoundMode      int            `json:"round_mode"`
	RoundID        int64          `json:"round_id"`
	RoundRecord    string         `json:"round_record"`
	RoundSettled   bool           `json:"round_settled"`
	Active         int            `json:"active"`
	ActiveRound    int64          `json:"active_round"`
	Session        int            `json:"session"`
	ExpectVersion  int            `json:"expect_version"`
	SessionVersion int            `json:"session_version"`
	SessionRecord  string         `json:"session_record"`
	NewCommitment  *commitmentArg `json:"new_commitment,omitempty"`
	Txs            []txArg        `json:"txs"`
}

func (s *RedisService) Settle(ctx context.Context, st *storage.Settlement) (*storage.SettlementResult, error) {
	p := settlePayload{
		Owner:         st.Owner,
		Now:           st.Now.UTC().UnixMilli(),
		Consume:       st.ConsumeCommitment != "",
		Delta:         models.ToCents(st.Delta),
		Wagered:       models.ToCents(st.Wagered),
		Won:           models.ToCents(st.Won),
		RoundMode:     int(st.RoundMode),
		Active:        int(st.Active),
		ActiveRound:   st.ActiveRound,
		Session:       int(st.Session),
		ExpectVersion: st.ExpectVersion,
		Txs:           make([]txArg, 0, len(st.Transactions)),
	}

	game := "none"
	if st.Round != nil {
		record, err := json.Marshal(st.Round)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal round: %w", err)
		}
		p.RoundID = st.Round.ID
		p.RoundRecord = string(record)
		p.RoundSettled = st.Round.Settled
		game = string(st.Round.Game)
	} else {
		p.RoundMode = int(storage.RoundNone)
	}

	if st.NewSession != nil && (st.Session == storage.SessionCreate || st.Session == storage.SessionReplace) {
		record, err := json.Marshal(st.NewSession)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ride session: %w", err)
		}
		p.SessionVersion = st.NewSession.FlipCount
		p.SessionRecord = string(record)
	}

	newCommitmentID := ""
	if c := st.NewCommitment; c != nil {
		newCommitmentID = c.ID
		p.NewCommitment = &commitmentArg{
			ID:        c.ID,
			Owner:     c.Owner,
			Secret:    c.Secret,
			Hash:      c.Hash,
			CreatedAt: c.CreatedAt.UTC().UnixMilli(),
		}
	}

	keys := make([]string, settleKeyFirstTx, settleKeyFirstTx+len(st.Transactions))
	keys[settleKeyWallet] = fmt.Sprintf(KeyWallet, st.Owner)
	keys[settleKeyConsume] = fmt.Sprintf(KeyCommitment, st.ConsumeCommitment)
	keys[settleKeyRound] = fmt.Sprintf(KeyRound, p.RoundID)
	keys[settleKeyActive] = fmt.Sprintf(KeyActiveCrash, st.Owner)
	keys[settleKeyActiveIndex] = KeyActiveCrashIndex
	keys[settleKeySession] = fmt.Sprintf(KeyRideSession, st.Owner)
	keys[settleKeyNewCommitment] = fmt.Sprintf(KeyCommitment, newCommitmentID)
	keys[settleKeyUserCommitments] = fmt.Sprintf(KeyUserCommitments, st.Owner)
	keys[settleKeyUserRounds] = fmt.Sprintf(KeyUserRounds, st.Owner, game)
	keys[settleKeyGameRounds] = fmt.Sprintf(KeyGameRounds, game)
	keys[settleKeyUserTransactions] = fmt.Sprintf(KeyUserTransactions, st.Owner)
	keys[settleKeyLeaderboard] = KeyLeaderboardWins
	keys[settleKeyHouse] = KeyHouseTotals

	for _, t := range st.Transactions {
		p.Txs = append(p.Txs, txArg{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      models.ToCents(t.Amount),
			RoundID:     t.RoundID,
			Game:        string(t.Game),
			Description: t.Description,
			CreatedAt:   t.CreatedAt.UTC().UnixMilli(),
		})
		keys = append(keys, fmt.Sprintf(KeyTransaction, t.ID))
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement: %w", err)
	}

	res, err := settleScript.Run(ctx, s.client, keys, payload,
		MaxIndexedRounds, MaxIndexedTransactions, MaxLeaderboardEntries).Text()
	if err != nil {
		return nil, mapScriptError(err)
	}
	newBalance, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected settlement reply %q: %w", res, err)
	}

	running := newBalance - p.Delta
	written := make([]models.Transaction, 0, len(st.Transactions))
	for _, t := range st.Transactions {
		t.BalanceBefore = models.FromCents(running)
		running += models.ToCents(t.Amount)
		t.BalanceAfter = models.FromCents(running)
		written = append(written, t)
	}
	return &storage.SettlementResult{
		Balance:      models.FromCents(newBalance),
		Transactions: written,
	}, nil
}

func decodeRecord[T any](data string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &v, nil
}

func (s *RedisService) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	data, err := s.client.HGet(ctx, fmt.Sprintf(KeyRound, id), "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return decodeRecord[models.Round](data)
}

func (s *RedisService) getRounds(ctx context.Context, ids []string) ([]*models.Round, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, "round:"+id, "record")
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	rounds := make([]*models.Round, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}
		r, err := decodeRecord[models.Round](data)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, nil
}

func (s *RedisService) ListRounds(ctx context.Context, owner int64, game models.GameType, limit int) ([]*models.Round, error) {
	key := fmt.Sprintf(KeyUserRounds, owner, game)
	ids, err := s.client.ZRevRange(ctx, key, 0, int64(storage.ClampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get round IDs: %w", err)
	}
	return s.getRounds(ctx, ids)
}

func (s *RedisService) RecentRounds(ctx context.Context, game models.GameType, limit int) ([]*models.Round, error) {
	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyGameRounds, game), 0, int64(storage.ClampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get round IDs: %w", err)
	}
	return s.getRounds(ctx, ids)
}

func (s *RedisService) GetRideSession(ctx context.Context, owner int64) (*models.RideSession, error) {
	data, err := s.client.HGet(ctx, fmt.Sprintf(KeyRideSession, owner), "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ride session: %w", err)
	}
	return decodeRecord[models.RideSession](data)
}

func (s *RedisService) GetActiveCrashRound(ctx context.Context, owner int64) (*models.Round, error) {
	id, err := s.client.Get(ctx, fmt.Sprintf(KeyActiveCrash, owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return s.GetRound(ctx, id)
}

func (s *RedisService) ListActiveCrashRounds(ctx context.Context) ([]*models.Round, error) {
	ids, err := s.client.SMembers(ctx, KeyActiveCrashIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active rounds: %w", err)
	}
	return s.getRounds(ctx, ids)
}

func decodeTransaction(data map[string]string) *models.Transaction {
	return &models.Transaction{
		ID:            data["id"],
		UserID:        parseInt(data["user_id"]),
		Type:          models.TransactionType(data["type"]),
		Amount:        parseCents(data["amount_cents"]),
		BalanceBefore: parseCents(data["balance_before_cents"]),
		BalanceAfter:  parseCents(data["balance_after_cents"]),
		RoundID:       parseInt(data["round_id"]),
		Game:          models.GameType(data["game"]),
		Description:   data["description"],
		CreatedAt:     parseMillis(data["created_at"]),
	}
}

func (s *RedisService) getTransactions(ctx context.Context, ids []string) ([]*models.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf(KeyTransaction, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	var transactions []*models.Transaction
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		transactions = append(transactions, decodeTransaction(data))
	}
	return transactions, nil
}

func (s *RedisService) ListTransactions(ctx context.Context, owner int64, limit int) ([]*models.Transaction, error) {
	userTxKey := fmt.Sprintf(KeyUserTransactions, owner)
	txIDs, err := s.client.ZRevRange(ctx, userTxKey, 0, int64(storage.ClampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction IDs: %w", err)
	}
	return s.getTransactions(ctx, txIDs)
}

func (s *RedisService) TopWins(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	txIDs, err := s.client.ZRevRange(ctx, KeyLeaderboardWins, 0, int64(storage.ClampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	txs, err := s.getTransactions(ctx, txIDs)
	if err != nil {
		return nil, err
	}
	entries := make([]models.LeaderboardEntry, 0, len(txs))
	for i, t := range txs {
		entries = append(entries, models.LeaderboardEntry{
			Rank:      i + 1,
			UserID:    t.UserID,
			Game:      t.Game,
			RoundID:   t.RoundID,
			Amount:    t.Amount,
			CreatedAt: t.CreatedAt,
		})
	}
	return entries, nil
}

func (s *RedisService) HouseTotals(ctx context.Context) (*models.HouseTotals, error) {
	data, err := s.client.HGetAll(ctx, KeyHouseTotals).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get house totals: %w", err)
	}
	wagered := parseCents(data["wagered_cents"])
	paid := parseCents(data["paid_cents"])
	return &models.HouseTotals{
		Wagered: wagered,
		Paid:    paid,
		Profit:  wagered.Sub(paid),
		Rounds:  parseInt(data["rounds"]),
	}, nil
}

func (s *RedisService) SaveEdgeConfig(ctx context.Context, edge models.EdgeConfig) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to marshal edge config: %w", err)
	}
	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyEdgeConfig, edge.Version), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save edge config: %w", err)
	}
	if !ok {
		return storage.ErrDuplicateEdgeVersion
	}
	if err := s.client.ZAdd(ctx, KeyEdgeVersions, redis.Z{
		Score:  float64(edge.Version),
		Member: edge.Version,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index edge config: %w", err)
	}
	return nil
}

func (s *RedisService) LatestEdgeConfig(ctx context.Context) (*models.EdgeConfig, error) {
	versions, err := s.client.ZRevRange(ctx, KeyEdgeVersions, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get edge versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, nil
	}
	v, err := strconv.Atoi(versions[0])
	if err != nil {
		return nil, fmt.Errorf("invalid edge version %q: %w", versions[0], err)
	}
	return s.GetEdgeConfig(ctx, v)
}

func (s *RedisService) GetEdgeConfig(ctx context.Context, version int) (*models.EdgeConfig, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyEdgeConfig, version)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrEdgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge config: %w", err)
	}
	return decodeRecord[models.EdgeConfig](data)
}

// CheckRateLimit counts action for userID in a fixed window and reports
// whether the caller is still within limit.
func (s *RedisService) CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

func (s *RedisService) ClearRateLimit(ctx context.Context, userID int64, action string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyRateLimit, userID, action)).Err()
}
