package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/engine/enginetest"
	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
)

type recordingObserver struct {
	mu      sync.Mutex
	opened  []string
	touched []string
	closed  []string
}

func (r *recordingObserver) SessionOpened(info model.SessionInfo) {
	r.mu.Lock()
	r.opened = append(r.opened, info.ID)
	r.mu.Unlock()
}

func (r *recordingObserver) SessionTouched(info model.SessionInfo) {
	r.mu.Lock()
	r.touched = append(r.touched, info.ID)
	r.mu.Unlock()
}

func (r *recordingObserver) SessionClosed(id, reason string) {
	r.mu.Lock()
	r.closed = append(r.closed, id+":"+reason)
	r.mu.Unlock()
}

func (r *recordingObserver) closedSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

func newTestStore(t *testing.T, ttl time.Duration, observers ...Observer) (*Store, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	cfg := DefaultStoreConfig()
	cfg.TTL = ttl
	cfg.Instance = "test"
	store := NewStore(eng, cfg, nil, observers...)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store, eng
}

func resolveOnce(t *testing.T, store *Store, id string) *Session {
	t.Helper()
	lease, err := store.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer lease.Release()
	sess, err := lease.Resolve(context.Background())
	require.NoError(t, err)
	lease.Touch()
	return sess
}

func TestAcquireSerializesSameID(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)

	first, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := store.Acquire(context.Background(), "a")
		if err == nil {
			close(acquired)
			second.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lease acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lease never acquired after release")
	}
}

func TestAcquireDifferentIDsDoNotBlock(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)

	a, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer a.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	b, err := store.Acquire(ctx, "b")
	require.NoError(t, err)
	b.Release()
}

func TestAcquireRespectsContext(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)

	held, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireRejectsEmptyID(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	_, err := store.Acquire(context.Background(), " ")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolveNeverDoubleCreates(t *testing.T) {
	store, eng := newTestStore(t, time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := store.Acquire(context.Background(), "shared")
			if err != nil {
				errs <- err
				return
			}
			defer lease.Release()
			if _, err := lease.Resolve(context.Background()); err != nil {
				errs <- err
				return
			}
			lease.Touch()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("resolve failed: %v", err)
	}

	assert.Equal(t, 1, eng.Created())
	assert.Equal(t, 1, store.Len())
}

func TestResolveEngineFailure(t *testing.T) {
	store, eng := newTestStore(t, time.Minute)
	boom := errors.New("chrome exploded")
	eng.Hook = func(ctx context.Context, op string) error { return boom }

	lease, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer lease.Release()

	_, err = lease.Resolve(context.Background())
	require.ErrorIs(t, err, ErrSessionUnavailable)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestResolveBoundedByCreateTimeout(t *testing.T) {
	eng := enginetest.New()
	eng.Hook = func(ctx context.Context, op string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	cfg := DefaultStoreConfig()
	cfg.CreateTimeout = 30 * time.Millisecond
	store := NewStore(eng, cfg, nil)

	lease, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer lease.Release()

	start := time.Now()
	_, err = lease.Resolve(context.Background())
	require.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvalidateClosesPageAndNotifies(t *testing.T) {
	obs := &recordingObserver{}
	store, eng := newTestStore(t, time.Minute, obs)
	resolveOnce(t, store, "a")

	lease, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)
	lease.Invalidate(ReasonCrashed)
	lease.Invalidate(ReasonCrashed)
	lease.Release()

	assert.True(t, eng.Last().Closed())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []string{"a:crashed"}, obs.closedSnapshot())
	assert.Equal(t, []string{"a"}, obs.opened)
}

func TestTouchWithoutSessionIsNoop(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	lease, err := store.Acquire(context.Background(), "ghost")
	require.NoError(t, err)
	defer lease.Release()
	lease.Touch()
	assert.Nil(t, lease.Session())
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	obs := &recordingObserver{}
	store, eng := newTestStore(t, 60*time.Millisecond, obs)
	resolveOnce(t, store, "a")

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.True(t, eng.Last().Closed())
	assert.Equal(t, []string{"a:expired"}, obs.closedSnapshot())
}

func TestTouchedSessionDoesNotExpire(t *testing.T) {
	store, _ := newTestStore(t, 120*time.Millisecond)
	resolveOnce(t, store, "a")

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(30 * time.Millisecond)
		lease, err := store.Acquire(context.Background(), "a")
		require.NoError(t, err)
		lease.Touch()
		lease.Release()
		require.Equal(t, 1, store.Len(), "session expired despite touches")
	}

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStaleExpiryIsNoop(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	resolveOnce(t, store, "a")

	store.mu.Lock()
	gen := store.entries["a"].gen
	store.mu.Unlock()

	lease, err := store.Acquire(context.Background(), "a")
	require.NoError(t, err)
	lease.Touch()
	lease.Release()

	store.expire("a", gen)
	assert.Equal(t, 1, store.Len())
}

func TestStoreCloseDestroysAllAndRejectsNew(t *testing.T) {
	obs := &recordingObserver{}
	store, eng := newTestStore(t, time.Minute, obs)
	resolveOnce(t, store, "a")
	resolveOnce(t, store, "b")

	require.NoError(t, store.Close(context.Background()))
	assert.Equal(t, 0, store.Len())
	for _, p := range eng.Pages() {
		assert.True(t, p.Closed())
	}
	assert.ElementsMatch(t, []string{"a:shutdown", "b:shutdown"}, obs.closedSnapshot())

	lease, err := store.Acquire(context.Background(), "c")
	require.NoError(t, err)
	defer lease.Release()
	_, err = lease.Resolve(context.Background())
	require.ErrorIs(t, err, ErrSessionUnavailable)
}

func TestRemoveReportsExistence(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	resolveOnce(t, store, "a")

	existed, err := store.Remove(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Remove(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestListIsSnapshot(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	resolveOnce(t, store, "a")
	time.Sleep(2 * time.Millisecond)
	resolveOnce(t, store, "b")

	infos := store.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "b", infos[1].ID)
	assert.Equal(t, "test", infos[0].Instance)
}

func TestNewSessionUsesConfiguredPage(t *testing.T) {
	store, eng := newTestStore(t, time.Minute)
	resolveOnce(t, store, "a")
	opts := eng.Last().Opts
	assert.Equal(t, engine.Viewport{Width: 1366, Height: 768}, opts.Viewport)
	assert.Equal(t, "pt-BR", opts.Locale)
	assert.Equal(t, "America/Sao_Paulo", opts.Timezone)
}
