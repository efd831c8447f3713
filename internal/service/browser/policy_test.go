package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/engine/enginetest"
	"github.com/zhouzirui/tabcast/backend/internal/metrics"
)

func TestClassifierHeavyApps(t *testing.T) {
	c := DefaultClassifier()
	cases := map[string]string{
		"https://web.whatsapp.com/":             "heavy",
		"https://mail.google.com/mail/u/0/":     "heavy",
		"https://outlook.office.com/mail":       "heavy",
		"https://acme.slack.com/client":         "heavy",
		"https://teams.microsoft.com":           "heavy",
		"https://discord.com/channels/@me":      "heavy",
		"https://web.telegram.org/k/":           "heavy",
		"https://www.messenger.com":             "heavy",
		"https://example.com":                   "default",
		"https://notwhatsapp.com.evil.example/": "default",
		"::bad url":                             "default",
	}
	for raw, want := range cases {
		assert.Equal(t, want, c.Classify(raw).Name, raw)
	}
	assert.Equal(t, engine.WaitDOM, c.Classify("https://web.whatsapp.com").WaitUntil)
	assert.Equal(t, 4*time.Second, c.Classify("https://web.whatsapp.com").SettleBudget)
	assert.Equal(t, engine.WaitNetwork, c.Default().WaitUntil)
	assert.Equal(t, 1500*time.Millisecond, c.Default().SettleBudget)
}

func TestClassifierFirstMatchWins(t *testing.T) {
	first := Profile{Name: "first", Hosts: HeavyAppProfile().Hosts}
	second := HeavyAppProfile()
	c := NewClassifier(DefaultProfile(), first, second)
	assert.Equal(t, "first", c.Classify("https://discord.com").Name)
}

func newProbePage(t *testing.T) *enginetest.Page {
	t.Helper()
	eng := enginetest.New()
	_, err := eng.NewPage(context.Background(), engine.PageOptions{})
	require.NoError(t, err)
	return eng.Last()
}

func TestIsAlive(t *testing.T) {
	policy := NewPolicy(nil)
	page := newProbePage(t)
	assert.True(t, policy.IsAlive(context.Background(), page))

	page.Kill()
	assert.False(t, policy.IsAlive(context.Background(), page))
}

func TestIsAliveBoundedByProbeTimeout(t *testing.T) {
	policy := NewPolicy(nil)
	policy.probeTimeout = 20 * time.Millisecond
	page := newProbePage(t)
	page.SetHook(func(ctx context.Context, op string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	assert.False(t, policy.IsAlive(context.Background(), page))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSettleBudgetExpiryIsNormal(t *testing.T) {
	policy := NewPolicy(nil)
	page := newProbePage(t)
	page.SetHook(func(ctx context.Context, op string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	before := testutil.ToFloat64(metrics.SettleFallbacks)
	start := time.Now()
	policy.Settle(context.Background(), page, 30*time.Millisecond)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, before, testutil.ToFloat64(metrics.SettleFallbacks))
}

func TestSettleFailureFallsBackToDelay(t *testing.T) {
	policy := NewPolicy(nil)
	policy.fallbackDelay = 40 * time.Millisecond
	page := newProbePage(t)
	page.SetHook(func(ctx context.Context, op string) error {
		return errors.New("execution context destroyed")
	})

	before := testutil.ToFloat64(metrics.SettleFallbacks)
	start := time.Now()
	policy.Settle(context.Background(), page, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SettleFallbacks))
}

func TestPauseHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	Pause(ctx, time.Hour)
	assert.Less(t, time.Since(start), time.Second)
}
