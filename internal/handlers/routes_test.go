package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"provably-fair-backend/internal/config"
	"provably-fair-backend/internal/handlers"
	"provably-fair-backend/internal/middleware"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type api struct {
	t      *testing.T
	router *gin.Engine
	jwt    *services.JWTService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	mr := miniredis.RunT(t)
	store := services.NewRedisServiceWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Env:                "test",
		StoreDriver:        config.StoreRedis,
		JWTSecret:          "router-secret",
		JWTExpiry:          time.Hour,
		StartingCredits:    decimal.NewFromInt(1000),
		MinBet:             decimal.RequireFromString("0.01"),
		MaxBet:             decimal.NewFromInt(10000),
		EdgeFraction:       decimal.RequireFromString("0.05"),
		MaxMultiplier:      decimal.NewFromInt(1000000),
		GrowthRate:         decimal.RequireFromString("0.1"),
		EnforceLiveCounter: true,
		RevealGrace:        2 * time.Second,
		RevealMinimum:      5 * time.Second,
		RateLimitBets:      100,
		RateLimitCashouts:  100,
		RateLimitWindow:    time.Minute,
	}
	log := zaptest.NewLogger(t)
	edges, err := services.LoadEdgeRegistry(context.Background(), store, models.EdgeConfig{
		EdgeFraction:  cfg.EdgeFraction,
		MaxMultiplier: cfg.MaxMultiplier,
		GrowthRate:    cfg.GrowthRate,
	}, services.SystemClock, log)
	if err != nil {
		t.Fatalf("load edges: %v", err)
	}
	engine := services.NewGameEngine(store, edges, cfg, services.SystemClock, log)
	jwt := services.NewJWTService(cfg)
	ws := handlers.NewWebSocketHandler(engine, log)
	engine.SetBroadcaster(ws)

	router := handlers.NewRouter(handlers.RouterDeps{
		Engine:    engine,
		JWT:       jwt,
		WebSocket: ws,
		Limiter:   store,
		Limits:    middleware.RateLimitsFromConfig(cfg),
		Log:       log,
	})
	return &api{t: t, router: router, jwt: jwt}
}

func (a *api) token(userID int64, admin bool) string {
	a.t.Helper()
	tok, err := a.jwt.GenerateToken(userID, admin)
	if err != nil {
		a.t.Fatalf("generate token: %v", err)
	}
	return tok
}

// do sends body as JSON with the given token and decodes the response.
func (a *api) do(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (a *api) must(method, path, token string, body any) map[string]any {
	a.t.Helper()
	status, out := a.do(method, path, token, body)
	if status != http.StatusOK {
		a.t.Fatalf("%s %s = %d %v", method, path, status, out)
	}
	return out
}

func (a *api) wantError(method, path, token string, body any, status int, code string) {
	a.t.Helper()
	got, out := a.do(method, path, token, body)
	if got != status || out["error"] != code {
		a.t.Fatalf("%s %s = %d %v, want %d %s", method, path, got, out, status, code)
	}
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	out := a.must(http.MethodGet, "/health", "", nil)
	if out["status"] != "ok" || out["edge_version"] != float64(1) {
		t.Fatalf("health = %v", out)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newAPI(t)
	for _, path := range []string{"/api/balance", "/api/me", "/api/crash/active", "/admin/profit"} {
		if status, _ := a.do(http.MethodGet, path, "", nil); status != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, status)
		}
	}
	a.wantError(http.MethodGet, "/admin/profit", a.token(1, false), nil, http.StatusForbidden, "Admin access required")
}

func TestCoinflipRoundTripVerifies(t *testing.T) {
	a := newAPI(t)
	player := a.token(77, false)

	a.wantError(http.MethodGet, "/api/balance", player, nil, http.StatusNotFound, "NOT_FOUND")

	opened := a.must(http.MethodPost, "/api/account", player, nil)
	wallet := opened["wallet"].(map[string]any)
	if wallet["balance"] != "1000" {
		t.Fatalf("opening balance = %v", wallet["balance"])
	}

	commitment := a.must(http.MethodPost, "/api/seeds/commit", player, nil)["commitment"].(map[string]any)
	commitmentID := commitment["commitment_id"].(string)
	if commitment["commitment_hash"] == "" {
		t.Fatalf("commitment = %v", commitment)
	}
	pending := a.must(http.MethodGet, "/api/seeds", player, nil)["commitments"].([]any)
	if len(pending) != 1 {
		t.Fatalf("pending = %v", pending)
	}

	openReq := gin.H{"stake": "10", "guess": "heads", "client_seed": "router", "commitment_id": commitmentID}
	result := a.must(http.MethodPost, "/api/coinflip/open", player, openReq)["result"].(map[string]any)
	roundID := int64(result["round_id"].(float64))

	if result["win"] == true {
		a.must(http.MethodPost, "/api/coinflip/cashout", player, nil)
	} else {
		a.wantError(http.MethodPost, "/api/coinflip/cashout", player, nil, http.StatusNotFound, "NOTHING_TO_CASH_OUT")
	}

	// The commitment is spent.
	a.wantError(http.MethodPost, "/api/coinflip/open", player, openReq, http.StatusBadRequest, "INVALID_COMMITMENT")

	verification := a.must(http.MethodGet, fmt.Sprintf("/rounds/%d/verify", roundID), "", nil)["verification"].(map[string]any)
	if verification["commitment_valid"] != true || verification["matches_recorded"] != true {
		t.Fatalf("verification = %v", verification)
	}
	if verification["secret"] != result["secret"] {
		t.Fatalf("verified secret %v, revealed %v", verification["secret"], result["secret"])
	}

	inputs := gin.H{
		"game":        verification["game"],
		"secret":      verification["secret"],
		"client_seed": verification["client_seed"],
		"nonce":       verification["nonce"],
		"outcome":     verification["recorded_outcome"],
	}
	checked := a.must(http.MethodPost, "/verify", "", inputs)["verification"].(map[string]any)
	if checked["matches_recorded"] != true {
		t.Fatalf("input verification = %v", checked)
	}

	txs := a.must(http.MethodGet, "/api/transactions", player, nil)
	if txs["count"].(float64) < 1 {
		t.Fatalf("transactions = %v", txs)
	}
}

func TestErrorResponses(t *testing.T) {
	a := newAPI(t)
	player := a.token(78, false)
	a.must(http.MethodPost, "/api/account", player, nil)

	a.wantError(http.MethodGet, "/rounds/999/verify", "", nil, http.StatusNotFound, "NOT_FOUND")
	a.wantError(http.MethodGet, "/rounds/abc/verify", "", nil, http.StatusBadRequest, "VALIDATION_ERROR")
	a.wantError(http.MethodGet, "/api/crash/rounds/999", player, nil, http.StatusNotFound, "NOT_FOUND")
	a.wantError(http.MethodPost, "/api/crash/start", player, gin.H{"stake": "10"}, http.StatusBadRequest, "VALIDATION_ERROR")
	a.wantError(http.MethodPost, "/api/coinflip/ride", player, gin.H{"guess": "tails"}, http.StatusNotFound, "NO_OPEN_SESSION")

	commitment := a.must(http.MethodPost, "/api/seeds/commit", player, nil)["commitment"].(map[string]any)
	a.wantError(http.MethodPost, "/api/crash/start", player, gin.H{
		"stake": "5000", "client_seed": "x", "commitment_id": commitment["commitment_id"],
	}, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS")
}

func TestCrashRoutes(t *testing.T) {
	a := newAPI(t)
	player := a.token(79, false)
	a.must(http.MethodPost, "/api/account", player, nil)

	active := a.must(http.MethodGet, "/api/crash/active", player, nil)["game"].(map[string]any)
	if active["active"] != false {
		t.Fatalf("active before start = %v", active)
	}

	commitment := a.must(http.MethodPost, "/api/seeds/commit", player, nil)["commitment"].(map[string]any)
	game := a.must(http.MethodPost, "/api/crash/start", player, gin.H{
		"stake": "10", "client_seed": "crash", "commitment_id": commitment["commitment_id"],
	})["game"].(map[string]any)
	roundID := game["round_id"].(float64)
	if game["crash_multiplier_hidden"] != true {
		t.Fatalf("crash point leaked at start: %v", game)
	}

	round := a.must(http.MethodGet, fmt.Sprintf("/api/crash/rounds/%d", int64(roundID)), player, nil)["game"].(map[string]any)
	if round["id"] != roundID {
		t.Fatalf("round = %v", round)
	}
	a.wantError(http.MethodGet, fmt.Sprintf("/api/crash/rounds/%d", int64(roundID)), a.token(80, false), nil, http.StatusNotFound, "NOT_FOUND")

	history := a.must(http.MethodGet, "/api/crash/rounds", player, nil)
	if history["count"] != float64(1) {
		t.Fatalf("history = %v", history)
	}
	a.must(http.MethodGet, "/api/crash/stats", player, nil)
	a.must(http.MethodGet, "/crash/recent", "", nil)

	// A round started without a client seed gets one generated.
	other := a.token(81, false)
	a.must(http.MethodPost, "/api/account", other, nil)
	commitment = a.must(http.MethodPost, "/api/seeds/commit", other, nil)["commitment"].(map[string]any)
	seeded := a.must(http.MethodPost, "/api/crash/start", other, gin.H{
		"stake": "1", "commitment_id": commitment["commitment_id"],
	})["game"].(map[string]any)
	if seed, _ := seeded["client_seed"].(string); len(seed) != 32 {
		t.Fatalf("generated client seed = %v", seeded["client_seed"])
	}
}

func TestAdminHouseEdge(t *testing.T) {
	a := newAPI(t)
	admin := a.token(1, true)

	edge := a.must(http.MethodGet, "/admin/house-edge", admin, nil)["house_edge"].(map[string]any)
	if edge["version"] != float64(1) || edge["edge"] != "0.05" {
		t.Fatalf("house edge = %v", edge)
	}

	a.wantError(http.MethodPost, "/admin/house-edge", admin, gin.H{"edge": "0.9"}, http.StatusBadRequest, "VALIDATION_ERROR")
	updated := a.must(http.MethodPost, "/admin/house-edge", admin, gin.H{"edge": "0.02"})
	if updated["success"] != true {
		t.Fatalf("update = %v", updated)
	}

	status, out := a.do(http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || out["edge_version"] != float64(2) {
		t.Fatalf("health after update = %d %v", status, out)
	}
	a.must(http.MethodGet, "/admin/profit", admin, nil)
}
