// Package session coordinates the lifecycle of shared game sessions. Every
// mutation is applied to a fresh copy of the session document and committed
// with a version check; on conflict the whole mutation is re-run.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/persistence"
	"github.com/wfunc/econgames/tournament"
)

const defaultMaxRetries = 25

// Caller identifies the user performing an operation.
type Caller struct {
	ID          string
	DisplayName string
}

// Options configures a Manager. Store and Games are required.
type Options struct {
	Store    persistence.Store
	Games    *games.Registry
	Archiver Archiver
	Metrics  Metrics

	// MaxRetries bounds re-runs of a mutation after version conflicts.
	MaxRetries uint64
	// Rand drives tournament pairing. Defaults to a time-seeded source.
	Rand *rand.Rand
	Now  func() time.Time
	// NewID generates session ids. Defaults to uuid.
	NewID func() string
}

// Manager 会话管理器
type Manager struct {
	store      persistence.Store
	games      *games.Registry
	archiver   Archiver
	metrics    Metrics
	maxRetries uint64
	now        func() time.Time
	newID      func() string
	tracer     trace.Tracer

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:      opts.Store,
		games:      opts.Games,
		archiver:   opts.Archiver,
		metrics:    opts.Metrics,
		maxRetries: opts.MaxRetries,
		now:        opts.Now,
		newID:      opts.NewID,
		rng:        opts.Rand,
		tracer:     otel.Tracer("github.com/wfunc/econgames/session"),
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	if m.maxRetries == 0 {
		m.maxRetries = defaultMaxRetries
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.rng == nil {
		seed := uint64(time.Now().UnixNano())
		m.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return m
}

// Games returns the game catalog.
func (m *Manager) Games() *games.Registry { return m.games }

// effects collects work to run after a mutation commits. A fresh value is
// used for each attempt so re-runs never duplicate side effects.
type effects struct {
	noop     bool
	archives []*models.GameRecord
	aborts   []error
	rounds   int
	matches  []string // tournament matches completed by this mutation
	started  bool
	finished bool
}

func (m *Manager) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "session."+op, trace.WithAttributes(attribute.String("session.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (m *Manager) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, m.maxRetries), ctx)
}

// mutate reads session id, applies fn and commits the result with a version
// check, re-running fn against the fresh document on conflict.
func (m *Manager) mutate(ctx context.Context, op, id string, fn func(s *models.Session, fx *effects) error) (out *models.Session, err error) {
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	var fx *effects
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		doc, err := m.store.Read(ctx, id)
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return backoff.Permanent(gameerr.NotFound(op, "session %s not found", id))
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: read session %s: %w", op, id, err))
		}

		fx = &effects{}
		expected := doc.Version
		if err := fn(doc, fx); err != nil {
			return backoff.Permanent(err)
		}
		if fx.noop {
			out = doc
			return nil
		}
		doc.UpdatedAt = m.now()
		err = m.store.CompareAndSwap(ctx, doc, expected)
		switch {
		case err == nil:
			out = doc
			return nil
		case errors.Is(err, persistence.ErrVersionConflict):
			m.metrics.VersionConflict()
			return err
		case errors.Is(err, persistence.ErrRecordNotFound):
			return backoff.Permanent(gameerr.NotFound(op, "session %s not found", id))
		default:
			return backoff.Permanent(fmt.Errorf("%s: write session %s: %w", op, id, err))
		}
	}, m.retryPolicy(ctx))
	span.SetAttributes(attribute.Int("session.attempts", attempts))

	if errors.Is(err, persistence.ErrVersionConflict) {
		logger.Log.Warnf("Session %s: %s gave up after %d conflicting attempts", id, op, attempts)
		return nil, gameerr.InvalidState(op, "session %s changed concurrently, try again", id)
	}
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveMutation(op, time.Since(start))
	m.afterCommit(ctx, out, fx)
	return out, nil
}

func (m *Manager) afterCommit(ctx context.Context, s *models.Session, fx *effects) {
	gameID := s.GameData.GameID
	for _, err := range fx.aborts {
		logger.Log.Warnf("Session %s: round evaluation aborted: %v", s.ID, err)
		m.metrics.EvaluationAborted(gameID)
	}
	for i := 0; i < fx.rounds; i++ {
		m.metrics.RoundEvaluated(gameID)
	}
	if fx.started {
		m.metrics.GameStarted(gameID)
		logger.Log.Infof("Session %s: %s started with %d players", s.ID, gameID, len(s.Players))
	}
	for _, key := range fx.matches {
		a, b := tournament.SplitKey(key)
		logger.Log.Infof("Session %s: match %s vs %s completed", s.ID, a, b)
	}
	if fx.finished {
		logger.Log.Infof("Session %s finished", s.ID)
	}
	if m.archiver == nil {
		return
	}
	for _, rec := range fx.archives {
		if err := m.archiver.Archive(ctx, rec); err != nil {
			logger.Log.Errorf("Session %s: failed to archive %s match: %v", s.ID, rec.GameID, err)
		}
	}
}

func (m *Manager) definition(op string, s *models.Session) (games.Definition, error) {
	def, ok := m.games.Get(s.GameData.GameID)
	if !ok {
		return nil, gameerr.InvalidState(op, "session %s uses unknown game %q", s.ID, s.GameData.GameID)
	}
	return def, nil
}

func (m *Manager) pair(ids []string) map[string]string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return tournament.PairPlayers(ids, m.rng)
}

// GetSession returns the current session document.
func (m *Manager) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := m.store.Read(ctx, id)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, gameerr.NotFound("session.get", "session %s not found", id)
	}
	return s, err
}

// ListSessions returns all sessions ordered by creation time.
func (m *Manager) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return m.store.List(ctx)
}

// Subscribe streams committed versions of session id.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	ch, err := m.store.Subscribe(ctx, id)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, gameerr.NotFound("session.subscribe", "session %s not found", id)
	}
	return ch, err
}

// Cleanup deletes empty sessions, and sessions idle for longer than maxAge
// that are finished or whose game completed without anyone finishing it.
// It returns the number of sessions removed.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	removed := 0
	for _, s := range list {
		done := s.Status == models.SessionFinished ||
			(s.Status == models.SessionPlaying && gameCompleted(s))
		stale := done && now.Sub(s.UpdatedAt) > maxAge
		if len(s.Players) > 0 && !stale {
			continue
		}
		err := m.store.Delete(ctx, s.ID)
		if errors.Is(err, persistence.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
		m.metrics.SessionDeleted()
	}
	return removed, nil
}
