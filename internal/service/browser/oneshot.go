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

const maxOneShotDimension = 8192

// OneShotRequest describes a stateless capture. A negative Delay selects the
// configured default.
type OneShotRequest struct {
	URL    string
	Width  int
	Height int
	Delay  time.Duration
	Full   bool
}

// OneShotConfig holds the defaults of the stateless capture path.
type OneShotConfig struct {
	// Page supplies user agent, headers and locale; its viewport is the default size.
	Page            engine.PageOptions
	NavigateTimeout time.Duration
	CaptureTimeout  time.Duration
	DefaultDelay    time.Duration
	MaxDelay        time.Duration
	BlockResources  []string
}

// DefaultOneShotConfig mirrors the session defaults with fonts and media blocked.
func DefaultOneShotConfig() OneShotConfig {
	return OneShotConfig{
		Page:            DefaultStoreConfig().Page,
		NavigateTimeout: 30 * time.Second,
		CaptureTimeout:  20 * time.Second,
		DefaultDelay:    2 * time.Second,
		MaxDelay:        10 * time.Second,
		BlockResources:  []string{"font", "media"},
	}
}

// OneShot captures a URL in a throwaway page, never touching the session store.
type OneShot struct {
	engine engine.Engine
	cfg    OneShotConfig
	logger *zap.Logger
}

// NewOneShot wires the stateless capture path.
func NewOneShot(eng engine.Engine, cfg OneShotConfig, logger *zap.Logger) *OneShot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OneShot{engine: eng, cfg: cfg, logger: logger.With(zap.String("component", "oneshot"))}
}

// Capture loads req.URL in a fresh page and returns a PNG of it.
func (o *OneShot) Capture(ctx context.Context, req OneShotRequest) (*model.Result, error) {
	res, err := o.capture(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	metrics.OneShotCaptures.WithLabelValues(outcome).Inc()
	return res, err
}

func (o *OneShot) capture(ctx context.Context, req OneShotRequest) (*model.Result, error) {
	target, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	vp, err := o.viewport(req)
	if err != nil {
		return nil, err
	}

	opts := o.cfg.Page
	opts.Viewport = vp
	opts.BlockResources = o.cfg.BlockResources

	page, err := o.engine.NewPage(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			o.logger.Warn("closing one-shot page failed", zap.Error(cerr))
		}
	}()

	nctx, cancel := context.WithTimeout(ctx, o.cfg.NavigateTimeout)
	err = page.Navigate(nctx, target, engine.WaitNetwork)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		metrics.NavigationsDegraded.Inc()
		o.logger.Warn("one-shot navigation timed out, capturing anyway", zap.String("url", target))
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigationFailed, target, err)
	}

	Pause(ctx, o.delay(req.Delay))
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActionFailed, err)
	}

	res := &model.Result{ContentType: engine.FormatPNG.ContentType(), HasMeta: true, URL: target}
	mctx, mcancel := context.WithTimeout(ctx, 5*time.Second)
	if u, err := page.URL(mctx); err == nil && u != "" {
		res.URL = u
	}
	res.Title = bestEffortTitle(mctx, page)
	mcancel()

	capture := engine.CaptureOptions{Format: engine.FormatPNG, FullPage: req.Full}
	if !req.Full {
		capture.Clip = &vp
	}
	cctx, ccancel := context.WithTimeout(ctx, o.cfg.CaptureTimeout)
	defer ccancel()
	img, err := page.Capture(cctx, capture)
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %w", ErrActionFailed, err)
	}
	res.Image = img
	o.logger.Info("one-shot captured", zap.String("url", target), zap.Bool("full", req.Full), zap.Int("bytes", len(img)))
	return res, nil
}

func (o *OneShot) viewport(req OneShotRequest) (engine.Viewport, error) {
	vp := o.cfg.Page.Viewport
	if req.Width != 0 {
		vp.Width = req.Width
	}
	if req.Height != 0 {
		vp.Height = req.Height
	}
	if vp.Width <= 0 || vp.Height <= 0 || vp.Width > maxOneShotDimension || vp.Height > maxOneShotDimension {
		return vp, fmt.Errorf("%w: viewport %dx%d out of range", ErrInvalidRequest, vp.Width, vp.Height)
	}
	return vp, nil
}

func (o *OneShot) delay(d time.Duration) time.Duration {
	if d < 0 {
		d = o.cfg.DefaultDelay
	}
	if o.cfg.MaxDelay > 0 && d > o.cfg.MaxDelay {
		d = o.cfg.MaxDelay
	}
	return d
}
