package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	readyPollInterval = 100 * time.Millisecond
	networkQuietFor   = 500 * time.Millisecond
	networkQuietMax   = 2
)

type chromePage struct {
	ctx      context.Context
	cancel   context.CancelFunc
	viewport Viewport
	logger   *zap.Logger

	// block is filled before interception is enabled and read-only afterwards.
	block map[network.ResourceType]bool

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newChromePage(ctx context.Context, cancel context.CancelFunc, vp Viewport, logger *zap.Logger) *chromePage {
	return &chromePage{
		ctx:      ctx,
		cancel:   cancel,
		viewport: vp,
		logger:   logger,
		inflight: make(map[network.RequestID]struct{}),
		closed:   make(chan struct{}),
	}
}

// onEvent runs on the chromedp event loop and must not block.
func (p *chromePage) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.inflight[e.RequestID] = struct{}{}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.done(e.RequestID)
	case *network.EventLoadingFailed:
		p.done(e.RequestID)
	case *fetch.EventRequestPaused:
		go p.intercept(e)
	}
}

func (p *chromePage) done(id network.RequestID) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

func (p *chromePage) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func (p *chromePage) resetInflight() {
	p.mu.Lock()
	p.inflight = make(map[network.RequestID]struct{})
	p.mu.Unlock()
}

func (p *chromePage) intercept(e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(p.ctx, c.Target)

	var err error
	if p.block[e.ResourceType] {
		err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(e.RequestID).Do(ctx)
	}
	if err != nil && !isGone(err) {
		p.logger.Debug("request interception failed", zap.String("resource", string(e.ResourceType)), zap.Error(err))
	}
}

// run executes actions on the tab bounded by ctx and classifies failures.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-p.closed:
		return ErrPageClosed
	default:
	}
	runCtx, cancel := withParent(ctx, p.ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if p.ctx.Err() != nil {
		return ErrPageClosed
	}
	if isGone(err) {
		return fmt.Errorf("%w: %v", ErrBrowserGone, err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string, until WaitUntil) error {
	p.resetInflight()
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("%w: %s", ErrNavigation, errorText)
		}
		return nil
	}))
	if err != nil {
		return err
	}
	return p.Wait(ctx, until)
}

func (p *chromePage) Back(ctx context.Context) error {
	return p.history(ctx, -1)
}

func (p *chromePage) Forward(ctx context.Context) error {
	return p.history(ctx, 1)
}

func (p *chromePage) history(ctx context.Context, step int64) error {
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		current, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		target := current + step
		if target < 0 || target >= int64(len(entries)) {
			return ErrNoHistory
		}
		return page.NavigateToHistoryEntry(entries[target].ID).Do(ctx)
	}))
	if err != nil {
		return err
	}
	return p.Wait(ctx, WaitDOM)
}

func (p *chromePage) Wait(ctx context.Context, until WaitUntil) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var quietSince time.Time
	for {
		var state string
		err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
		switch {
		case err == nil:
			if p.reached(state, until, &quietSince) {
				return nil
			}
		case ctx.Err() != nil, errors.Is(err, ErrPageClosed), errors.Is(err, ErrBrowserGone):
			return err
		default:
			// The execution context is torn down while a new document commits.
			quietSince = time.Time{}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) reached(state string, until WaitUntil, quietSince *time.Time) bool {
	switch until {
	case WaitDOM:
		return state == "interactive" || state == "complete"
	case WaitLoad:
		return state == "complete"
	}
	if state != "complete" || p.pending() > networkQuietMax {
		*quietSince = time.Time{}
		return false
	}
	if quietSince.IsZero() {
		*quietSince = time.Now()
		return false
	}
	return time.Since(*quietSince) >= networkQuietFor
}

func (p *chromePage) Click(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *chromePage) Scroll(ctx context.Context, x, y, deltaX, deltaY float64) error {
	return p.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(deltaX).WithDeltaY(deltaY),
	)
}

func (p *chromePage) TypeText(ctx context.Context, text string) error {
	return p.run(ctx, chromedp.KeyEvent(text))
}

func (p *chromePage) KeyDown(ctx context.Context, key string, mods Modifier) error {
	def, err := lookupKey(key)
	if err != nil {
		return err
	}
	return p.run(ctx, keyDownEvent(def, mods))
}

func (p *chromePage) KeyUp(ctx context.Context, key string, mods Modifier) error {
	def, err := lookupKey(key)
	if err != nil {
		return err
	}
	return p.run(ctx, keyEvent(input.KeyUp, def, mods))
}

func (p *chromePage) PressKey(ctx context.Context, key string, mods Modifier) error {
	def, err := lookupKey(key)
	if err != nil {
		return err
	}
	return p.run(ctx, keyDownEvent(def, mods), keyEvent(input.KeyUp, def, mods))
}

func keyEvent(typ input.KeyType, def keyDef, mods Modifier) *input.DispatchKeyEventParams {
	return input.DispatchKeyEvent(typ).
		WithKey(def.key).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.keyCode).
		WithNativeVirtualKeyCode(def.keyCode).
		WithModifiers(input.Modifier(mods))
}

func keyDownEvent(def keyDef, mods Modifier) *input.DispatchKeyEventParams {
	// A held Ctrl/Alt/Meta turns the key into a shortcut that inserts no text.
	if def.text == "" || mods&^ModShift != 0 {
		ev := keyEvent(input.KeyRawDown, def, mods)
		if cmd := editingCommand(def, mods); cmd != "" {
			ev = ev.WithCommands([]string{cmd})
		}
		return ev
	}
	return keyEvent(input.KeyDown, def, mods).WithText(def.text).WithUnmodifiedText(def.text)
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromePage) Probe(ctx context.Context) error {
	var out int
	return p.run(ctx, chromedp.Evaluate(`1+1`, &out))
}

func (p *chromePage) Capture(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFromSurface(true)
		if opts.Format == FormatPNG {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		} else {
			quality := opts.Quality
			if quality <= 0 || quality > 100 {
				quality = 80
			}
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(quality))
		}

		switch {
		case opts.FullPage:
			_, _, _, _, _, content, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return err
			}
			params = params.WithCaptureBeyondViewport(true).WithClip(&page.Viewport{
				Width:  math.Ceil(content.Width),
				Height: math.Ceil(content.Height),
				Scale:  1,
			})
		case opts.Clip != nil:
			params = params.WithClip(clipFor(*opts.Clip))
		case p.viewport.Width > 0 && p.viewport.Height > 0:
			params = params.WithClip(clipFor(p.viewport))
		}

		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func clipFor(vp Viewport) *page.Viewport {
	return &page.Viewport{Width: float64(vp.Width), Height: float64(vp.Height), Scale: 1}
}

func (p *chromePage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.ctx.Err() == nil {
			if cerr := chromedp.Cancel(p.ctx); cerr != nil && !isGone(cerr) {
				err = cerr
			}
		}
		p.cancel()
	})
	return err
}
