package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/monitoring"
	"provably-fair-backend/internal/storage"
)

// SecretBytes is the entropy of every server secret.
const SecretBytes = 32

// SeedVault issues single-use server secrets, publishing only their hash
// until the round that consumes them is settled.
type SeedVault struct {
	store  storage.Store
	random io.Reader
	clock  Clock
	log    *zap.Logger
}

func NewSeedVault(store storage.Store, clock Clock, log *zap.Logger) *SeedVault {
	return &SeedVault{store: store, random: rand.Reader, clock: clock, log: log}
}

// Generate creates a commitment for owner without persisting it.
func (v *SeedVault) Generate(owner int64) (*models.SeedCommitment, error) {
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(v.random, buf); err != nil {
		return nil, fmt.Errorf("read random secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	return &models.SeedCommitment{
		ID:        uuid.NewString(),
		Owner:     owner,
		Secret:    secret,
		Hash:      HashSecret(secret),
		CreatedAt: v.clock.Now(),
	}, nil
}

// Commit persists a fresh commitment and returns its id and hash.
func (v *SeedVault) Commit(ctx context.Context, owner int64) (*models.CommitSeedResponse, error) {
	if _, err := v.store.GetWallet(ctx, owner); err != nil {
		return nil, err
	}
	c, err := v.Generate(owner)
	if err != nil {
		return nil, err
	}
	if err := v.store.CreateCommitment(ctx, c); err != nil {
		return nil, fmt.Errorf("store commitment: %w", err)
	}
	monitoring.SeedCommitments.WithLabelValues("created").Inc()
	v.log.Debug("seed committed", zap.Int64("owner", owner), zap.String("commitment_id", c.ID))
	return &models.CommitSeedResponse{CommitmentID: c.ID, CommitmentHash: c.Hash}, nil
}

// Consume marks the commitment consumed and returns its secret. Exactly one
// of any number of concurrent callers succeeds.
func (v *SeedVault) Consume(ctx context.Context, id string, owner int64) (string, error) {
	c, err := v.store.ConsumeCommitment(ctx, id, owner, v.clock.Now())
	if err != nil {
		return "", err
	}
	monitoring.SeedCommitments.WithLabelValues("consumed").Inc()
	return c.Secret, nil
}

// Peek returns an unconsumed commitment of owner, secret included, so the
// outcome can be computed before the settlement that consumes it. The
// settlement re-checks consumption atomically.
func (v *SeedVault) Peek(ctx context.Context, id string, owner int64) (*models.SeedCommitment, error) {
	if id == "" {
		return nil, apperrors.New(apperrors.CodeInvalidCommitment, "commitment id is required")
	}
	c, err := v.store.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Owner != owner || c.Consumed {
		return nil, storage.ErrCommitmentUnavailable
	}
	if HashSecret(c.Secret) != c.Hash {
		v.log.Error("stored commitment hash does not match secret", zap.String("commitment_id", id))
		return nil, apperrors.New(apperrors.CodeInternalInconsistency, "commitment hash mismatch")
	}
	return c, nil
}

// Pending lists the owner's commitments that have not been used yet.
func (v *SeedVault) Pending(ctx context.Context, owner int64) ([]*models.SeedCommitment, error) {
	all, err := v.store.ListCommitments(ctx, owner, 100)
	if err != nil {
		return nil, err
	}
	var out []*models.SeedCommitment
	for _, c := range all {
		if !c.Consumed {
			out = append(out, c)
		}
	}
	return out, nil
}
