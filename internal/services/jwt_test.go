package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"provably-fair-backend/internal/services"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := services.NewJWTService(testConfig())

	token, err := svc.GenerateToken(42, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 42 || !claims.IsAdmin || claims.SessionID == "" || claims.Subject != "42" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestJWTRejectsBadTokens(t *testing.T) {
	cfg := testConfig()
	svc := services.NewJWTService(cfg)

	other := testConfig()
	other.JWTSecret = "another-secret"
	foreign, err := services.NewJWTService(other).GenerateToken(42, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	expiredCfg := testConfig()
	expiredCfg.JWTExpiry = -time.Minute
	expired, err := services.NewJWTService(expiredCfg).GenerateToken(42, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, services.Claims{UserID: 42}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, services.Claims{}).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     unsigned,
		"missing user": noUser,
	} {
		if _, err := svc.ValidateToken(token); err != services.ErrInvalidToken {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}
