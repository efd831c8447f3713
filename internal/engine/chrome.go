package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeConfig configures how Chrome is reached.
type ChromeConfig struct {
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// RemoteURL attaches to an already running browser (ws://host:9222) instead of launching one.
	RemoteURL string
	Headless  bool
}

// Chrome is an Engine backed by a single Chrome process. Each page gets its own
// browser context, so sessions never share cookies or storage.
type Chrome struct {
	cfg    ChromeConfig
	logger *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChrome returns an engine that launches Chrome lazily on the first page.
func NewChrome(cfg ChromeConfig, logger *zap.Logger) *Chrome {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chrome{cfg: cfg, logger: logger.With(zap.String("component", "chrome"))}
}

// NewPage opens a tab in a fresh browser context and applies opts.
func (c *Chrome) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	browserCtx, err := c.browser(ctx)
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	// The first Run creates the target; it must not run on a deadline-bound
	// context or the tab would close when the deadline passes.
	if err := runUnbounded(ctx, tabCtx); err != nil {
		tabCancel()
		if browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserGone, err)
		}
		return nil, fmt.Errorf("engine: open tab: %w", err)
	}

	p := newChromePage(tabCtx, tabCancel, opts.Viewport, c.logger)
	chromedp.ListenTarget(tabCtx, p.onEvent)

	runCtx, cancel := withParent(ctx, tabCtx)
	defer cancel()
	if err := chromedp.Run(runCtx, setupTasks(opts, c.logger)); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("engine: configure tab: %w", err)
	}
	if len(opts.BlockResources) > 0 {
		p.block = make(map[network.ResourceType]bool, len(opts.BlockResources))
		for _, kind := range opts.BlockResources {
			p.block[resourceType(kind)] = true
		}
		if err := chromedp.Run(runCtx, fetch.Enable()); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("engine: enable interception: %w", err)
		}
	}
	return p, nil
}

// Close shuts the browser down. Pages still open become dead.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.shutdownLocked()
	return nil
}

// browser returns a live browser context, relaunching Chrome if the previous
// process has exited.
func (c *Chrome) browser(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrBrowserGone
	}
	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}
	if c.browserCtx != nil {
		c.logger.Warn("browser process gone, relaunching")
		c.shutdownLocked()
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if c.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", c.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-accelerated-2d-canvas", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("no-zygote", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("mute-audio", true),
		)
		if c.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	sugar := c.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(sugar.Debugf))
	if err := runUnbounded(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: launch: %v", ErrBrowserGone, err)
	}

	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.logger.Info("browser ready", zap.Bool("remote", c.cfg.RemoteURL != ""))
	return browserCtx, nil
}

func (c *Chrome) shutdownLocked() {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browserCtx = nil
	c.browserCancel = nil
	c.allocCancel = nil
}

// runUnbounded performs the allocating Run on target while still honouring the
// caller's deadline for how long it is willing to wait.
func runUnbounded(ctx, target context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(target) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withParent derives a context from target (which carries the chromedp
// executor) that is also cancelled when parent is.
func withParent(parent, target context.Context) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := parent.Deadline(); ok {
		ctx, cancel = context.WithDeadline(target, deadline)
	} else {
		ctx, cancel = context.WithCancel(target)
	}
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func setupTasks(opts PageOptions, logger *zap.Logger) chromedp.Tasks {
	tasks := chromedp.Tasks{network.Enable()}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(int64(opts.Viewport.Width), int64(opts.Viewport.Height), 1, false))
	}
	if opts.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(opts.UserAgent)
		if opts.AcceptLanguage != "" {
			ua = ua.WithAcceptLanguage(opts.AcceptLanguage)
		}
		tasks = append(tasks, ua)
	}
	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	// Locale and timezone are cosmetic; an engine that rejects them still yields a usable page.
	if opts.Locale != "" {
		locale := opts.Locale
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetLocaleOverride().WithLocale(locale).Do(ctx); err != nil {
				logger.Warn("locale override rejected", zap.String("locale", locale), zap.Error(err))
			}
			return nil
		}))
	}
	if opts.Timezone != "" {
		tz := opts.Timezone
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetTimezoneOverride(tz).Do(ctx); err != nil {
				logger.Warn("timezone override rejected", zap.String("timezone", tz), zap.Error(err))
			}
			return nil
		}))
	}
	return tasks
}

func resourceType(kind string) network.ResourceType {
	switch strings.ToLower(kind) {
	case "font":
		return network.ResourceTypeFont
	case "media":
		return network.ResourceTypeMedia
	case "image":
		return network.ResourceTypeImage
	case "stylesheet":
		return network.ResourceTypeStylesheet
	}
	return network.ResourceType(kind)
}

// isGone reports whether err comes from a target or browser that no longer exists.
func isGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "No target with given id") ||
		strings.Contains(msg, "websocket: close") ||
		strings.Contains(msg, "use of closed network connection")
}
