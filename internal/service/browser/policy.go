package browser

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/metrics"
)

const (
	defaultProbeTimeout  = 3 * time.Second
	defaultFallbackDelay = 500 * time.Millisecond
)

// Profile is how long and for what signal to wait after navigating to a
// matching host.
type Profile struct {
	Name  string
	Hosts []*regexp.Regexp
	// WaitUntil is the completion signal navigation waits for.
	WaitUntil engine.WaitUntil
	// SettleBudget bounds the quiescence wait after an action.
	SettleBudget time.Duration
}

// Matches reports whether host matches any of the profile's patterns.
func (p Profile) Matches(host string) bool {
	for _, re := range p.Hosts {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Classifier picks a wait profile for a URL. The first matching profile wins.
type Classifier struct {
	profiles []Profile
	fallback Profile
}

// NewClassifier builds a classifier; fallback applies when nothing matches.
func NewClassifier(fallback Profile, profiles ...Profile) *Classifier {
	return &Classifier{profiles: profiles, fallback: fallback}
}

// DefaultProfile waits for network quiescence with a short settle budget.
func DefaultProfile() Profile {
	return Profile{Name: "default", WaitUntil: engine.WaitNetwork, SettleBudget: 1500 * time.Millisecond}
}

// HeavyAppProfile covers chat, mail and collaboration apps that keep
// connections open forever, so network idle is never reached.
func HeavyAppProfile() Profile {
	return Profile{
		Name: "heavy",
		Hosts: []*regexp.Regexp{
			regexp.MustCompile(`(^|\.)whatsapp\.(com|net)$`),
			regexp.MustCompile(`(^|\.)mail\.google\.com$`),
			regexp.MustCompile(`(^|\.)outlook\.(live|office|office365)\.com$`),
			regexp.MustCompile(`(^|\.)slack\.com$`),
			regexp.MustCompile(`(^|\.)teams\.(microsoft|live)\.com$`),
			regexp.MustCompile(`(^|\.)discord\.com$`),
			regexp.MustCompile(`(^|\.)telegram\.org$`),
			regexp.MustCompile(`(^|\.)messenger\.com$`),
		},
		WaitUntil:    engine.WaitDOM,
		SettleBudget: 4 * time.Second,
	}
}

// DefaultClassifier recognises the built-in heavy apps.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultProfile(), HeavyAppProfile())
}

// Classify returns the profile for rawURL.
func (c *Classifier) Classify(rawURL string) Profile {
	u, err := url.Parse(rawURL)
	if err != nil {
		return c.fallback
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return c.fallback
	}
	for _, p := range c.profiles {
		if p.Matches(host) {
			return p
		}
	}
	return c.fallback
}

// Default is the profile used when nothing matches.
func (c *Classifier) Default() Profile {
	return c.fallback
}

// Policy decides whether a page is responsive and waits for it to settle.
type Policy struct {
	logger        *zap.Logger
	probeTimeout  time.Duration
	fallbackDelay time.Duration
}

// NewPolicy returns a policy with the standard probe bound and fallback delay.
func NewPolicy(logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		logger:        logger.With(zap.String("component", "wait_policy")),
		probeTimeout:  defaultProbeTimeout,
		fallbackDelay: defaultFallbackDelay,
	}
}

// IsAlive performs a no-effect round trip to page. Any failure, including
// the probe bound elapsing, means dead.
func (p *Policy) IsAlive(ctx context.Context, page engine.Page) bool {
	pctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	if err := page.Probe(pctx); err != nil {
		p.logger.Debug("liveness probe failed", zap.Error(err))
		return false
	}
	return true
}

// Settle waits until the page's network is quiet or budget elapses. Running
// out of budget is normal; any other failure degrades to a fixed delay.
func (p *Policy) Settle(ctx context.Context, page engine.Page, budget time.Duration) {
	if budget <= 0 {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, budget)
	err := page.Wait(sctx, engine.WaitNetwork)
	cancel()

	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return
	}
	metrics.SettleFallbacks.Inc()
	p.logger.Debug("settle failed, using fixed delay", zap.Error(err), zap.Duration("delay", p.fallbackDelay))
	Pause(ctx, p.fallbackDelay)
}

// Pause sleeps for d or until ctx is done.
func Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
