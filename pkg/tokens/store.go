package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/telemetry"
)

const refreshKey = "refresh"

// Refresh outcomes reported to telemetry.
const (
	OutcomeRefreshed  = "refreshed"
	OutcomeFailed     = "failed"
	OutcomeNoRefresh  = "no_refresh_token"
	OutcomeAlreadyNew = "already_refreshed"
)

// Refresher exchanges a refresh token for a new pair at the backend.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

// StoreConfig holds the collaborators of a Store.
type StoreConfig struct {
	Persistence Persistence
	Refresher   Refresher
	Logger      *slog.Logger
}

// Store is the process-wide owner of the current token pair. Readers never observe a
// half-written pair: the pair is swapped as a single pointer.
type Store struct {
	persistence Persistence
	refresher   Refresher
	logger      *slog.Logger

	current atomic.Pointer[domain.TokenPair]
	loaded  atomic.Bool
	loadMu  sync.Mutex
	writeMu sync.Mutex

	group singleflight.Group
}

// NewStore creates a Store. A nil Persistence keeps tokens in memory only.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persistence := cfg.Persistence
	if persistence == nil {
		persistence = NewMemoryPersistence()
	}
	return &Store{
		persistence: persistence,
		refresher:   cfg.Refresher,
		logger:      logger,
	}
}

// Current returns the in-memory pair, loading it from persistence on first access.
func (s *Store) Current(ctx context.Context) (domain.TokenPair, bool) {
	s.ensureLoaded(ctx)

	pair := s.current.Load()
	if pair == nil || pair.IsZero() {
		return domain.TokenPair{}, false
	}
	return *pair, true
}

func (s *Store) ensureLoaded(ctx context.Context) {
	if s.loaded.Load() {
		return
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded.Load() {
		return
	}

	pair, err := s.persistence.Load(ctx)
	switch {
	case errors.Is(err, ErrNoTokens):
		s.loaded.Store(true)
	case err != nil:
		// Left unloaded so the next access retries the durable store.
		s.logger.Warn("token store: failed to load persisted tokens", "error", err)
	default:
		s.current.CompareAndSwap(nil, &pair)
		s.loaded.Store(true)
		s.logger.Debug("token store: loaded persisted tokens")
	}
}

// Set replaces the in-memory and durable pair. The in-memory pair is replaced even when
// the durable write fails; the write error is returned.
func (s *Store) Set(ctx context.Context, pair domain.TokenPair) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p := pair
	s.current.Store(&p)
	s.loaded.Store(true)

	if err := s.persistence.Save(ctx, pair); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

// Clear removes both the in-memory and the durable pair.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(nil)
	s.loaded.Store(true)

	if err := s.persistence.Delete(ctx); err != nil {
		return fmt.Errorf("delete persisted tokens: %w", err)
	}
	return nil
}

// Reload re-reads the durable pair, replacing the in-memory copy.
// The write lock is held across the read so a concurrent Set is never overwritten by
// the older durable copy.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	pair, err := s.persistence.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoTokens) {
		return fmt.Errorf("reload tokens: %w", err)
	}

	if errors.Is(err, ErrNoTokens) {
		s.current.Store(nil)
	} else {
		s.current.Store(&pair)
	}
	s.loaded.Store(true)
	return nil
}

// Ping reports whether the durable store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.persistence.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Refresh exchanges the current refresh token for a new pair. Concurrent callers share a
// single in-flight refresh and all receive its result. On failure the pair is cleared
// and an error matching domain.ErrAuthExpired is returned.
func (s *Store) Refresh(ctx context.Context) (domain.TokenPair, error) {
	return s.refresh(ctx, "")
}

// RefreshIfStale refreshes unless the stored access token already differs from used, in
// which case another request has refreshed in the meantime and the stored pair is
// returned without a backend call.
func (s *Store) RefreshIfStale(ctx context.Context, used string) (domain.TokenPair, error) {
	if cur, ok := s.Current(ctx); ok && used != "" && cur.AccessToken != used {
		telemetry.RecordTokenRefresh(ctx, OutcomeAlreadyNew, 0)
		return cur, nil
	}
	return s.refresh(ctx, used)
}

func (s *Store) refresh(ctx context.Context, used string) (domain.TokenPair, error) {
	ch := s.group.DoChan(refreshKey, func() (any, error) {
		// Detached so one caller going away does not fail the callers sharing the flight.
		return s.doRefresh(context.WithoutCancel(ctx), used)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.TokenPair{}, res.Err
		}
		return res.Val.(domain.TokenPair), nil
	case <-ctx.Done():
		return domain.TokenPair{}, ctx.Err()
	}
}

func (s *Store) doRefresh(ctx context.Context, used string) (domain.TokenPair, error) {
	cur, ok := s.Current(ctx)
	if ok && used != "" && cur.AccessToken != used {
		telemetry.RecordTokenRefresh(ctx, OutcomeAlreadyNew, 0)
		return cur, nil
	}

	if !ok || cur.RefreshToken == "" || s.refresher == nil {
		s.clearAfterFailure(ctx)
		telemetry.RecordTokenRefresh(ctx, OutcomeNoRefresh, 0)
		return domain.TokenPair{}, fmt.Errorf("%w: no refresh token available", domain.ErrAuthExpired)
	}

	start := time.Now()
	pair, err := s.refresher.Refresh(ctx, cur.RefreshToken)
	if err == nil && pair.AccessToken == "" {
		err = ErrNoPairInBody
	}
	if err != nil {
		s.logger.Warn("token store: refresh failed", "error", err)
		s.clearAfterFailure(ctx)
		telemetry.RecordTokenRefresh(ctx, OutcomeFailed, time.Since(start))
		return domain.TokenPair{}, fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
	}

	if pair.RefreshToken == "" {
		pair.RefreshToken = cur.RefreshToken
	}
	if err := s.Set(ctx, pair); err != nil {
		s.logger.Error("token store: refreshed tokens not persisted", "error", err)
	}

	telemetry.RecordTokenRefresh(ctx, OutcomeRefreshed, time.Since(start))
	s.logger.Info("token store: access token refreshed", "duration_ms", time.Since(start).Milliseconds())
	return pair, nil
}

func (s *Store) clearAfterFailure(ctx context.Context) {
	if err := s.Clear(ctx); err != nil {
		s.logger.Error("token store: failed to clear tokens", "error", err)
	}
}
