package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/storage"
)

// Verifier recomputes recorded outcomes from their revealed inputs.
type Verifier struct {
	store storage.Store
	edges *EdgeRegistry
	crash *CrashService
	clock Clock
	log   *zap.Logger
}

func NewVerifier(store storage.Store, edges *EdgeRegistry, crash *CrashService, clock Clock, log *zap.Logger) *Verifier {
	return &Verifier{store: store, edges: edges, crash: crash, clock: clock, log: log.Named("verify")}
}

// VerifyRound checks a stored round against a fresh recomputation under the
// edge version it was played with. A mismatch is reported in the result and
// logged; it is not an error.
func (v *Verifier) VerifyRound(ctx context.Context, id int64) (*models.VerifyResult, error) {
	round, err := v.store.GetRound(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRoundNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if !v.crash.IsRevealed(round, v.clock.Now()) {
		return nil, apperrors.ErrNotRevealed
	}

	engine, err := v.edges.EngineFor(round.Edge)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternalInconsistency, "round carries an unusable edge configuration", err)
	}
	recomputed, err := engine.Outcome(round.Game, round.Secret, round.ClientSeed, round.Nonce)
	if err != nil {
		return nil, err
	}

	commitmentValid := HashSecret(round.Secret) == round.CommitmentHash
	matches := commitmentValid && OutcomesEqual(round.Game, recomputed, round.Outcome)
	if !matches {
		v.log.Error("recorded outcome does not verify",
			zap.Int64("round_id", round.ID),
			zap.String("game", string(round.Game)),
			zap.String("recorded", round.Outcome),
			zap.String("recomputed", recomputed),
			zap.Bool("commitment_valid", commitmentValid))
	}

	return &models.VerifyResult{
		RoundID:           round.ID,
		Game:              round.Game,
		ClientSeed:        round.ClientSeed,
		Nonce:             round.Nonce,
		Secret:            round.Secret,
		CommitmentHash:    round.CommitmentHash,
		CommitmentValid:   commitmentValid,
		Digest:            DigestHex(round.Secret, round.ClientSeed, round.Nonce),
		RecordedOutcome:   round.Outcome,
		RecomputedOutcome: recomputed,
		MatchesRecorded:   matches,
		EdgeVersion:       round.Edge.Version,
	}, nil
}

// VerifyInputs recomputes an outcome from caller supplied inputs without
// touching any stored round.
func (v *Verifier) VerifyInputs(ctx context.Context, req *models.VerifyRequest) (*models.VerifyResult, error) {
	if !req.Game.Valid() {
		return nil, apperrors.Validation("unknown game %q", req.Game)
	}
	if req.Secret == "" || req.ClientSeed == "" {
		return nil, apperrors.Validation("secret and client seed are required")
	}
	engine, err := v.edges.Version(ctx, req.EdgeVersion)
	if err != nil {
		return nil, err
	}
	recomputed, err := engine.Outcome(req.Game, req.Secret, req.ClientSeed, req.Nonce)
	if err != nil {
		return nil, err
	}
	return &models.VerifyResult{
		Game:              req.Game,
		ClientSeed:        req.ClientSeed,
		Nonce:             req.Nonce,
		Secret:            req.Secret,
		CommitmentHash:    HashSecret(req.Secret),
		CommitmentValid:   true,
		Digest:            DigestHex(req.Secret, req.ClientSeed, req.Nonce),
		RecordedOutcome:   req.Outcome,
		RecomputedOutcome: recomputed,
		MatchesRecorded:   OutcomesEqual(req.Game, recomputed, req.Outcome),
		EdgeVersion:       engine.Edge().Version,
	}, nil
}
