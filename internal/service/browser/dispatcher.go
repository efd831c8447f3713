package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/metrics"
	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
)

// DefaultScrollDelta is used when a scroll names no delta.
const DefaultScrollDelta = 300

// DispatcherConfig bounds each phase of an action.
type DispatcherConfig struct {
	NavigateTimeout time.Duration
	HistoryTimeout  time.Duration
	CaptureTimeout  time.Duration
	MetaTimeout     time.Duration
	JPEGQuality     int
	RefreshWait     time.Duration
	RefreshWaitMax  time.Duration
	HistorySettle   time.Duration
	InputPause      time.Duration
}

// DefaultDispatcherConfig returns the production bounds.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		NavigateTimeout: 30 * time.Second,
		HistoryTimeout:  15 * time.Second,
		CaptureTimeout:  10 * time.Second,
		MetaTimeout:     5 * time.Second,
		JPEGQuality:     80,
		RefreshWait:     time.Second,
		RefreshWaitMax:  10 * time.Second,
		HistorySettle:   time.Second,
		InputPause:      300 * time.Millisecond,
	}
}

// Dispatcher runs actions against sessions: resolve, execute, settle, capture.
type Dispatcher struct {
	store      *Store
	policy     *Policy
	classifier *Classifier
	cfg        DispatcherConfig
	logger     *zap.Logger
}

// NewDispatcher wires a dispatcher. A nil classifier uses DefaultClassifier.
func NewDispatcher(store *Store, policy *Policy, classifier *Classifier, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Dispatcher{
		store:      store,
		policy:     policy,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "dispatcher")),
	}
}

// plan is an action after validation.
type plan struct {
	model.Action
	target string
	combo  KeyCombo
}

// Dispatch executes act on session id and returns the resulting frame.
func (d *Dispatcher) Dispatch(ctx context.Context, id string, act model.Action) (*model.Result, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, id, act)
	metrics.ObserveAction(string(act.Kind), ErrorCode(err), time.Since(start))
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, id string, act model.Action) (*model.Result, error) {
	log := d.logger.With(zap.String("sid", id), zap.String("action", string(act.Kind)))

	p, err := d.prepare(act)
	if err != nil {
		log.Debug("action rejected", zap.Error(err))
		return nil, err
	}

	log.Debug("resolving")
	lease, err := d.store.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: waiting for session: %w", ErrSessionUnavailable, err)
	}
	defer lease.Release()

	sess, err := d.resolve(ctx, lease, act.Kind, log)
	if err != nil {
		log.Debug("failed", zap.String("state", "resolving"), zap.Error(err))
		return nil, err
	}
	lease.Touch()

	log.Debug("executing")
	if err := d.execute(ctx, sess, p, log); err != nil {
		d.dropIfGone(lease, err)
		log.Debug("failed", zap.String("state", "executing"), zap.Error(err))
		return nil, err
	}

	log.Debug("settling")
	d.settle(ctx, sess, p)

	log.Debug("capturing")
	res, err := d.capture(ctx, sess, act.Kind)
	if err != nil {
		d.dropIfGone(lease, err)
		log.Debug("failed", zap.String("state", "capturing"), zap.Error(err))
		return nil, err
	}
	log.Debug("responding", zap.Int("bytes", len(res.Image)))
	return res, nil
}

func (d *Dispatcher) prepare(act model.Action) (plan, error) {
	p := plan{Action: act}
	if _, err := model.ParseActionKind(string(act.Kind)); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	switch act.Kind {
	case model.ActionNavigate:
		target, err := NormalizeURL(act.URL)
		if err != nil {
			return p, err
		}
		p.target = target
	case model.ActionKey:
		combo, err := ParseKeyCombo(act.Key)
		if err != nil {
			return p, err
		}
		p.combo = combo
	case model.ActionScroll:
		if p.DeltaX == 0 && p.DeltaY == 0 {
			p.DeltaY = DefaultScrollDelta
		}
	case model.ActionRefresh:
		if p.Wait < 0 {
			return p, fmt.Errorf("%w: wait must not be negative", ErrInvalidRequest)
		}
	}
	return p, nil
}

// resolve returns a live session, probing existing ones where the action
// depends on the tab still being there.
func (d *Dispatcher) resolve(ctx context.Context, lease *Lease, kind model.ActionKind, log *zap.Logger) (*Session, error) {
	existing := lease.Session()
	if existing != nil && (kind == model.ActionScreenshot || kind == model.ActionNavigate) {
		if !d.policy.IsAlive(ctx, existing.Page()) {
			if kind == model.ActionScreenshot {
				log.Warn("session unresponsive, discarding")
				lease.Invalidate(ReasonCrashed)
				return nil, ErrSessionCrashed
			}
			log.Warn("session unresponsive, replacing before navigation")
			lease.Invalidate(ReasonReplaced)
		}
	}
	return lease.Resolve(ctx)
}

func (d *Dispatcher) execute(ctx context.Context, sess *Session, p plan, log *zap.Logger) error {
	page := sess.Page()
	switch p.Kind {
	case model.ActionNavigate:
		profile := d.classifier.Classify(p.target)
		nctx, cancel := context.WithTimeout(ctx, d.cfg.NavigateTimeout)
		err := page.Navigate(nctx, p.target, profile.WaitUntil)
		cancel()
		sess.setLastURL(p.target)
		if err != nil {
			metrics.NavigationsDegraded.Inc()
			log.Warn("navigation degraded", zap.String("url", p.target), zap.String("profile", profile.Name), zap.Error(err))
		}
		return nil

	case model.ActionBack, model.ActionForward:
		hctx, cancel := context.WithTimeout(ctx, d.cfg.HistoryTimeout)
		defer cancel()
		var err error
		if p.Kind == model.ActionBack {
			err = page.Back(hctx)
		} else {
			err = page.Forward(hctx)
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrNavigationFailed, p.Kind, err)
		}
		return nil

	case model.ActionClick:
		return actionErr(p.Kind, page.Click(ctx, p.X, p.Y))

	case model.ActionScroll:
		vp := d.store.Viewport()
		return actionErr(p.Kind, page.Scroll(ctx, float64(vp.Width)/2, float64(vp.Height)/2, p.DeltaX, p.DeltaY))

	case model.ActionType:
		if p.Text == "" {
			return nil
		}
		return actionErr(p.Kind, page.TypeText(ctx, p.Text))

	case model.ActionKey:
		return actionErr(p.Kind, pressCombo(ctx, page, p.combo))
	}
	// refresh and screenshot have no effect of their own
	return nil
}

// pressCombo holds each modifier down in order, presses the key with all of
// them held, then releases the modifiers in reverse.
func pressCombo(ctx context.Context, page engine.Page, combo KeyCombo) error {
	if len(combo.Modifiers) == 0 {
		return page.PressKey(ctx, combo.Key, 0)
	}

	var held engine.Modifier
	masks := make([]engine.Modifier, len(combo.Modifiers))
	for i, name := range combo.Modifiers {
		bit, _ := engine.ModifierFor(name)
		held |= bit
		masks[i] = held
		if err := page.KeyDown(ctx, name, held); err != nil {
			releaseModifiers(ctx, page, combo.Modifiers[:i], masks[:i])
			return err
		}
	}
	err := page.PressKey(ctx, combo.Key, held)
	if rerr := releaseModifiers(ctx, page, combo.Modifiers, masks); err == nil {
		err = rerr
	}
	return err
}

// releaseModifiers lifts mods in reverse; each release reports the mask left held.
func releaseModifiers(ctx context.Context, page engine.Page, mods []string, masks []engine.Modifier) error {
	var firstErr error
	for i := len(mods) - 1; i >= 0; i-- {
		var remaining engine.Modifier
		if i > 0 {
			remaining = masks[i-1]
		}
		if err := page.KeyUp(ctx, mods[i], remaining); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func actionErr(kind model.ActionKind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrActionFailed, kind, err)
}

func (d *Dispatcher) settle(ctx context.Context, sess *Session, p plan) {
	page := sess.Page()
	switch p.Kind {
	case model.ActionNavigate:
		d.policy.Settle(ctx, page, d.classifier.Classify(p.target).SettleBudget)
	case model.ActionClick, model.ActionKey:
		d.policy.Settle(ctx, page, d.classifier.Classify(sess.LastURL()).SettleBudget)
	case model.ActionBack, model.ActionForward:
		d.policy.Settle(ctx, page, d.cfg.HistorySettle)
	case model.ActionScroll, model.ActionType:
		Pause(ctx, d.cfg.InputPause)
	case model.ActionRefresh:
		d.policy.Settle(ctx, page, d.refreshWait(p.Wait))
	}
}

func (d *Dispatcher) refreshWait(ms int) time.Duration {
	wait := d.cfg.RefreshWait
	if ms > 0 {
		wait = time.Duration(ms) * time.Millisecond
	}
	if d.cfg.RefreshWaitMax > 0 && wait > d.cfg.RefreshWaitMax {
		wait = d.cfg.RefreshWaitMax
	}
	return wait
}

func (d *Dispatcher) capture(ctx context.Context, sess *Session, kind model.ActionKind) (*model.Result, error) {
	page := sess.Page()
	res := &model.Result{ContentType: engine.FormatJPEG.ContentType(), HasMeta: kind.HasMeta()}

	if res.HasMeta {
		mctx, cancel := context.WithTimeout(ctx, d.cfg.MetaTimeout)
		if u, err := page.URL(mctx); err == nil && u != "" {
			sess.setLastURL(u)
		}
		res.URL = sess.LastURL()
		res.Title = bestEffortTitle(mctx, page)
		cancel()
	}

	vp := d.store.Viewport()
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CaptureTimeout)
	defer cancel()
	img, err := page.Capture(cctx, engine.CaptureOptions{
		Format:  engine.FormatJPEG,
		Quality: d.cfg.JPEGQuality,
		Clip:    &vp,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %w", ErrActionFailed, err)
	}
	res.Image = img
	return res, nil
}

// bestEffortTitle returns the page title, or "" when it cannot be read.
func bestEffortTitle(ctx context.Context, page engine.Page) string {
	title, err := page.Title(ctx)
	if err != nil {
		return ""
	}
	return title
}

// dropIfGone discards the session when err shows its tab no longer exists,
// so the next request starts fresh.
func (d *Dispatcher) dropIfGone(lease *Lease, err error) {
	if errors.Is(err, engine.ErrBrowserGone) || errors.Is(err, engine.ErrPageClosed) {
		lease.Invalidate(ReasonCrashed)
	}
}
