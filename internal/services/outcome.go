package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
)

var (
	crashWindow = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	// 100 * window: floor(100 / (1 - X)) with X = r / window.
	crashNumerator = new(big.Int).Mul(big.NewInt(100), crashWindow)
)

// OutcomeEngine maps (secret, client seed, nonce) to game outcomes under one
// edge configuration. It holds no mutable state.
type OutcomeEngine struct {
	edge      models.EdgeConfig
	bustEvery *big.Int
	maxCents  *big.Int
}

func NewOutcomeEngine(edge models.EdgeConfig) (*OutcomeEngine, error) {
	if err := ValidateEdge(edge); err != nil {
		return nil, err
	}
	n := decimal.NewFromInt(1).Div(edge.EdgeFraction).Round(0).IntPart()
	return &OutcomeEngine{
		edge:      edge,
		bustEvery: big.NewInt(n),
		maxCents:  big.NewInt(models.ToCents(edge.MaxMultiplier)),
	}, nil
}

// ValidateEdge rejects edge parameters the engine cannot run with.
func ValidateEdge(edge models.EdgeConfig) error {
	if !edge.EdgeFraction.IsPositive() || edge.EdgeFraction.GreaterThan(decimal.NewFromFloat(0.5)) {
		return apperrors.Validation("edge fraction must be in (0, 0.5], got %s", edge.EdgeFraction)
	}
	if edge.MaxMultiplier.LessThan(decimal.NewFromInt(1)) {
		return apperrors.Validation("max multiplier must be at least 1, got %s", edge.MaxMultiplier)
	}
	if !edge.GrowthRate.IsPositive() {
		return apperrors.Validation("growth rate must be positive, got %s", edge.GrowthRate)
	}
	return nil
}

func (e *OutcomeEngine) Edge() models.EdgeConfig {
	return e.edge
}

// PayoutMultiplier is what a winning coin flip multiplies the amount by.
func (e *OutcomeEngine) PayoutMultiplier() decimal.Decimal {
	return e.edge.CoinPayoutMultiplier()
}

// Digest is SHA256(secret ":" clientSeed ":" nonce) with the nonce in decimal.
func Digest(secret, clientSeed string, nonce int64) []byte {
	sum := sha256.Sum256([]byte(secret + ":" + clientSeed + ":" + strconv.FormatInt(nonce, 10)))
	return sum[:]
}

func DigestHex(secret, clientSeed string, nonce int64) string {
	return hex.EncodeToString(Digest(secret, clientSeed, nonce))
}

// CoinOutcome is heads when the digest, read as an unsigned integer, is even.
func (e *OutcomeEngine) CoinOutcome(secret, clientSeed string, nonce int64) models.CoinFace {
	return coinFromDigest(Digest(secret, clientSeed, nonce))
}

func coinFromDigest(digest []byte) models.CoinFace {
	if digest[len(digest)-1]&1 == 0 {
		return models.Heads
	}
	return models.Tails
}

// CrashMultiplier returns the crash point with two decimals. One digest in
// round(1/edge) busts at 1.00; the rest use X = ((h >> 8) mod 10^16) / 10^16
// and floor(100 / (1 - X)) / 100, capped at the configured maximum.
func (e *OutcomeEngine) CrashMultiplier(secret, clientSeed string, nonce int64) decimal.Decimal {
	return e.crashFromDigest(Digest(secret, clientSeed, nonce))
}

func (e *OutcomeEngine) crashFromDigest(digest []byte) decimal.Decimal {
	h := new(big.Int).SetBytes(digest)
	if new(big.Int).Mod(h, e.bustEvery).Sign() == 0 {
		return models.FromCents(100)
	}
	r := new(big.Int).Rsh(h, 8)
	r.Mod(r, crashWindow)
	denom := new(big.Int).Sub(crashWindow, r)
	cents := new(big.Int).Quo(crashNumerator, denom)
	if cents.Cmp(e.maxCents) > 0 {
		cents.Set(e.maxCents)
	}
	return models.FromCents(cents.Int64())
}

// Outcome renders the outcome of game as it is recorded on a round.
func (e *OutcomeEngine) Outcome(game models.GameType, secret, clientSeed string, nonce int64) (string, error) {
	switch game {
	case models.GameTypeCoinFlip:
		return string(e.CoinOutcome(secret, clientSeed, nonce)), nil
	case models.GameTypeCrash:
		return e.CrashMultiplier(secret, clientSeed, nonce).StringFixed(models.MoneyPlaces), nil
	default:
		return "", apperrors.Validation("unknown game %q", game)
	}
}

// Verify recomputes the outcome and compares it with claimed.
func (e *OutcomeEngine) Verify(game models.GameType, secret, clientSeed string, nonce int64, claimed string) (bool, error) {
	recomputed, err := e.Outcome(game, secret, clientSeed, nonce)
	if err != nil {
		return false, err
	}
	return OutcomesEqual(game, recomputed, claimed), nil
}

// OutcomesEqual compares coin faces case-insensitively and multipliers
// numerically, so "2.5" and "2.50" match.
func OutcomesEqual(game models.GameType, a, b string) bool {
	if game == models.GameTypeCrash {
		da, errA := decimal.NewFromString(strings.TrimSpace(a))
		db, errB := decimal.NewFromString(strings.TrimSpace(b))
		return errA == nil && errB == nil && da.Equal(db)
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// HashSecret is the commitment hash published for a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// RideClientSeed is the client seed used for flip number flipCount of a
// ride. It binds the current amount and flip counter into the digest.
func RideClientSeed(base string, flipCount int, amount decimal.Decimal) string {
	return fmt.Sprintf("%s:ride:%d:%s", base, flipCount, amount.StringFixed(models.MoneyPlaces))
}

// resolveClientSeed returns seed, or a server-generated one when the player
// sent none.
func resolveClientSeed(seed string) (string, error) {
	if seed == "" {
		generated, err := models.GenerateClientSeed()
		if err != nil {
			return "", err
		}
		return generated, nil
	}
	if err := models.ValidateClientSeed(seed); err != nil {
		return "", apperrors.Wrap(apperrors.CodeValidation, "invalid client seed", err)
	}
	return seed, nil
}
