package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/metrics"
	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
)

var errStoreClosed = errors.New("session store closed")

// StoreConfig controls how sessions are created and how long they live.
type StoreConfig struct {
	TTL           time.Duration
	CreateTimeout time.Duration
	// Page is applied to every new tab.
	Page engine.PageOptions
	// Instance tags listings when several replicas share a directory.
	Instance string
}

// DefaultStoreConfig returns the production defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TTL:           10 * time.Minute,
		CreateTimeout: 30 * time.Second,
		Page: engine.PageOptions{
			Viewport:       engine.Viewport{Width: 1366, Height: 768},
			UserAgent:      DefaultUserAgent,
			AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
			Locale:         "pt-BR",
			Timezone:       "America/Sao_Paulo",
		},
	}
}

// DefaultUserAgent is a desktop Chrome on Windows.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type entry struct {
	sess  *Session
	timer *time.Timer
	gen   uint64
}

type idLock struct {
	ch   chan struct{}
	refs int
}

// Store is the registry of live sessions. Every per-id change goes through a
// Lease; the map mutex is never held across engine calls.
type Store struct {
	engine    engine.Engine
	cfg       StoreConfig
	logger    *zap.Logger
	observers []Observer

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*idLock
	closed  bool
}

// NewStore creates an empty store backed by eng.
func NewStore(eng engine.Engine, cfg StoreConfig, logger *zap.Logger, observers ...Observer) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultStoreConfig().TTL
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = DefaultStoreConfig().CreateTimeout
	}
	return &Store{
		engine:    eng,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "session_store")),
		observers: observers,
		entries:   make(map[string]*entry),
		locks:     make(map[string]*idLock),
	}
}

// Viewport is the size every session tab is created with.
func (s *Store) Viewport() engine.Viewport {
	return s.cfg.Page.Viewport
}

// Acquire waits for exclusive access to id. Waiting respects ctx.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return &Lease{store: s, id: id, lock: l}, nil
	case <-ctx.Done():
		s.unref(id, l)
		return nil, ctx.Err()
	}
}

func (s *Store) unref(id string, l *idLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
	s.mu.Unlock()
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// List snapshots the live sessions, oldest first.
func (s *Store) List() []model.SessionInfo {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.entries))
	for _, e := range s.entries {
		sessions = append(sessions, e.sess)
	}
	s.mu.Unlock()

	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := sess.Info()
		info.Instance = s.cfg.Instance
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b model.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Remove closes the session for id. It reports whether one existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	lease, err := s.Acquire(ctx, id)
	if err != nil {
		return false, err
	}
	defer lease.Release()
	existed := lease.Session() != nil
	lease.Invalidate(ReasonClosed)
	return existed, nil
}

// Close destroys every session and rejects new ones.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			lease, err := s.Acquire(gctx, id)
			if err != nil {
				return fmt.Errorf("close session %s: %w", id, err)
			}
			defer lease.Release()
			lease.Invalidate(ReasonShutdown)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("session store closed", zap.Int("sessions", len(ids)), zap.Error(err))
	return err
}

func (s *Store) lookup(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id]
}

func (s *Store) notifyOpened(sess *Session) {
	info := sess.Info()
	info.Instance = s.cfg.Instance
	for _, o := range s.observers {
		o.SessionOpened(info)
	}
}

func (s *Store) notifyTouched(sess *Session) {
	info := sess.Info()
	info.Instance = s.cfg.Instance
	for _, o := range s.observers {
		o.SessionTouched(info)
	}
}

func (s *Store) notifyClosed(id, reason string) {
	for _, o := range s.observers {
		o.SessionClosed(id, reason)
	}
}

// Lease is exclusive access to one session id. It must be released.
type Lease struct {
	store *Store
	id    string
	lock  *idLock
	once  sync.Once
}

// ID is the leased session id.
func (l *Lease) ID() string {
	return l.id
}

// Session returns the live session without creating one.
func (l *Lease) Session() *Session {
	if e := l.store.lookup(l.id); e != nil {
		return e.sess
	}
	return nil
}

// Resolve returns the live session for the id, creating it when absent.
func (l *Lease) Resolve(ctx context.Context) (*Session, error) {
	s := l.store
	s.mu.Lock()
	e, closed := s.entries[l.id], s.closed
	s.mu.Unlock()
	if e != nil {
		return e.sess, nil
	}
	if closed {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, errStoreClosed)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CreateTimeout)
	page, err := s.engine.NewPage(cctx, s.cfg.Page)
	cancel()
	if err != nil {
		s.logger.Error("failed to create session", zap.String("sid", l.id), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	sess := newSession(l.id, page)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = page.Close()
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, errStoreClosed)
	}
	s.entries[l.id] = &entry{sess: sess}
	s.rearmLocked(l.id)
	s.mu.Unlock()

	metrics.SessionsOpened.Inc()
	metrics.SessionsActive.Inc()
	s.logger.Info("session created", zap.String("sid", l.id))
	s.notifyOpened(sess)
	return sess, nil
}

// Touch records an access and restarts the expiry timer. No-op when absent.
func (l *Lease) Touch() {
	s := l.store
	s.mu.Lock()
	e, ok := s.entries[l.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.rearmLocked(l.id)
	s.mu.Unlock()

	e.sess.touch(time.Now().UTC())
	s.notifyTouched(e.sess)
}

// Invalidate closes the page and removes the entry. Close errors are logged,
// never returned. No-op when absent.
func (l *Lease) Invalidate(reason string) {
	s := l.store
	s.mu.Lock()
	e, ok := s.entries[l.id]
	if ok {
		e.gen++
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := e.sess.page.Close(); err != nil {
		s.logger.Warn("closing page failed", zap.String("sid", l.id), zap.Error(err))
	}

	s.mu.Lock()
	if s.entries[l.id] == e {
		delete(s.entries, l.id)
	}
	s.mu.Unlock()

	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	s.logger.Info("session closed", zap.String("sid", l.id), zap.String("reason", reason))
	s.notifyClosed(l.id, reason)
}

// Release gives up the lease. Calling it more than once is safe.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.lock.ch
		l.store.unref(l.id, l.lock)
	})
}
