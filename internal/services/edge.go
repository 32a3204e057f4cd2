package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/storage"
)

var (
	MinAdjustableEdge = decimal.RequireFromString("0.01")
	MaxAdjustableEdge = decimal.RequireFromString("0.15")
)

// EdgeRegistry holds the engine for the current edge version. Updates add a
// new version; rounds keep the version they were played under.
type EdgeRegistry struct {
	store   storage.Store
	clock   Clock
	log     *zap.Logger
	current atomic.Pointer[OutcomeEngine]

	mu      sync.Mutex
	engines map[int]*OutcomeEngine
}

// LoadEdgeRegistry restores the latest stored version, or stores defaults
// as version 1 on a fresh database.
func LoadEdgeRegistry(ctx context.Context, store storage.Store, defaults models.EdgeConfig, clock Clock, log *zap.Logger) (*EdgeRegistry, error) {
	r := &EdgeRegistry{store: store, clock: clock, log: log, engines: make(map[int]*OutcomeEngine)}

	latest, err := store.LatestEdgeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load edge config: %w", err)
	}
	if latest == nil {
		defaults.Version = 1
		defaults.CreatedAt = clock.Now()
		if err := store.SaveEdgeConfig(ctx, defaults); err != nil {
			return nil, fmt.Errorf("save default edge config: %w", err)
		}
		latest = &defaults
	}
	engine, err := NewOutcomeEngine(*latest)
	if err != nil {
		return nil, err
	}
	r.install(engine)
	log.Info("house edge loaded",
		zap.Int("version", latest.Version),
		zap.String("edge", latest.EdgeFraction.String()),
		zap.String("max_multiplier", latest.MaxMultiplier.String()))
	return r, nil
}

func (r *EdgeRegistry) install(engine *OutcomeEngine) {
	r.mu.Lock()
	r.engines[engine.Edge().Version] = engine
	r.mu.Unlock()
	r.current.Store(engine)
}

func (r *EdgeRegistry) Current() *OutcomeEngine {
	return r.current.Load()
}

// EngineFor returns an engine for a historic edge snapshot.
func (r *EdgeRegistry) EngineFor(edge models.EdgeConfig) (*OutcomeEngine, error) {
	r.mu.Lock()
	engine, ok := r.engines[edge.Version]
	r.mu.Unlock()
	if ok && engine.Edge().EdgeFraction.Equal(edge.EdgeFraction) && engine.Edge().MaxMultiplier.Equal(edge.MaxMultiplier) {
		return engine, nil
	}
	return NewOutcomeEngine(edge)
}

// Version loads a stored edge version.
func (r *EdgeRegistry) Version(ctx context.Context, version int) (*OutcomeEngine, error) {
	if version == 0 {
		return r.Current(), nil
	}
	r.mu.Lock()
	engine, ok := r.engines[version]
	r.mu.Unlock()
	if ok {
		return engine, nil
	}
	edge, err := r.store.GetEdgeConfig(ctx, version)
	if err != nil {
		return nil, err
	}
	engine, err = NewOutcomeEngine(*edge)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.engines[version] = engine
	r.mu.Unlock()
	return engine, nil
}

// Update stores a new edge version. The fraction must lie within the
// adjustable range; maxMultiplier keeps its current value when nil.
func (r *EdgeRegistry) Update(ctx context.Context, fraction decimal.Decimal, maxMultiplier *decimal.Decimal) (models.EdgeConfig, error) {
	if fraction.LessThan(MinAdjustableEdge) || fraction.GreaterThan(MaxAdjustableEdge) {
		return models.EdgeConfig{}, apperrors.Validation("house edge must be between %s and %s", MinAdjustableEdge, MaxAdjustableEdge)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load().Edge()
	next := models.EdgeConfig{
		Version:       prev.Version + 1,
		EdgeFraction:  fraction,
		MaxMultiplier: prev.MaxMultiplier,
		GrowthRate:    prev.GrowthRate,
		CreatedAt:     r.clock.Now(),
	}
	if maxMultiplier != nil {
		next.MaxMultiplier = *maxMultiplier
	}
	engine, err := NewOutcomeEngine(next)
	if err != nil {
		return models.EdgeConfig{}, err
	}
	if err := r.store.SaveEdgeConfig(ctx, next); err != nil {
		return models.EdgeConfig{}, err
	}
	r.engines[next.Version] = engine
	r.current.Store(engine)

	r.log.Info("house edge updated",
		zap.Int("version", next.Version),
		zap.String("old_edge", prev.EdgeFraction.String()),
		zap.String("new_edge", next.EdgeFraction.String()))
	return next, nil
}
