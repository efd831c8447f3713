// Package enginetest provides an in-memory engine.Engine that records every
// call, for tests of code that drives pages.
package enginetest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
)

// Hook runs before an operation; a non-nil error is returned in its place.
type Hook func(ctx context.Context, op string) error

// Engine is a fake engine.Engine.
type Engine struct {
	// Hook is consulted with op "newpage" before a page is created.
	Hook Hook
	// PageHook is installed on every page this engine creates.
	PageHook Hook

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) NewPage(ctx context.Context, opts engine.PageOptions) (engine.Page, error) {
	if e.Hook != nil {
		if err := e.Hook(ctx, "newpage"); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrBrowserGone
	}
	p := &Page{ID: len(e.pages) + 1, Opts: opts, hook: e.PageHook, index: -1}
	e.pages = append(e.pages, p)
	return p, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Pages returns every page created so far, in creation order.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

// Created is the number of pages created.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pages)
}

// Last returns the most recently created page, or nil.
func (e *Engine) Last() *Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pages) == 0 {
		return nil
	}
	return e.pages[len(e.pages)-1]
}

// Page is a fake engine.Page with a linear history.
type Page struct {
	ID   int
	Opts engine.PageOptions

	hook Hook

	mu       sync.Mutex
	calls    []string
	history  []string
	index    int
	titles   map[string]string
	dead     bool
	closed   bool
	captures []engine.CaptureOptions

	active    atomic.Int32
	maxActive atomic.Int32
}

// SetHook replaces the page hook.
func (p *Page) SetHook(h Hook) {
	p.mu.Lock()
	p.hook = h
	p.mu.Unlock()
}

// Kill makes every later call fail as if the browser crashed.
func (p *Page) Kill() {
	p.mu.Lock()
	p.dead = true
	p.mu.Unlock()
}

// SetTitle fixes the title reported while rawURL is current.
func (p *Page) SetTitle(rawURL, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.titles == nil {
		p.titles = make(map[string]string)
	}
	p.titles[rawURL] = title
}

// Calls returns the recorded operations, e.g. "navigate https://a", "keydown Control 0".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Captures returns the options of every capture call.
func (p *Page) Captures() []engine.CaptureOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.CaptureOptions(nil), p.captures...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MaxConcurrent is the highest number of operations observed running at once.
func (p *Page) MaxConcurrent() int {
	return int(p.maxActive.Load())
}

// CurrentURL returns the committed URL without recording a call.
func (p *Page) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Page) currentLocked() string {
	if p.index < 0 {
		return "about:blank"
	}
	return p.history[p.index]
}

// enter records op and runs the hook. The returned func must be called when done.
func (p *Page) enter(ctx context.Context, op string) (func(), error) {
	n := p.active.Add(1)
	for {
		seen := p.maxActive.Load()
		if n <= seen || p.maxActive.CompareAndSwap(seen, n) {
			break
		}
	}
	leave := func() { p.active.Add(-1) }

	p.mu.Lock()
	p.calls = append(p.calls, op)
	dead, closed, hook := p.dead, p.closed, p.hook
	p.mu.Unlock()

	switch {
	case closed:
		leave()
		return nil, engine.ErrPageClosed
	case dead:
		leave()
		return nil, fmt.Errorf("%w: target crashed", engine.ErrBrowserGone)
	}
	if hook != nil {
		if err := hook(ctx, op); err != nil {
			leave()
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		leave()
		return nil, err
	}
	return leave, nil
}

func (p *Page) Navigate(ctx context.Context, rawURL string, until engine.WaitUntil) error {
	leave, err := p.enter(ctx, "navigate "+rawURL)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.history = append(p.history[:p.index+1], rawURL)
	p.index = len(p.history) - 1
	p.mu.Unlock()
	leave()
	return p.Wait(ctx, until)
}

func (p *Page) Back(ctx context.Context) error {
	return p.move(ctx, "back", -1)
}

func (p *Page) Forward(ctx context.Context) error {
	return p.move(ctx, "forward", 1)
}

func (p *Page) move(ctx context.Context, op string, step int) error {
	leave, err := p.enter(ctx, op)
	if err != nil {
		return err
	}
	defer leave()
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.index + step
	if target < 0 || target >= len(p.history) {
		return engine.ErrNoHistory
	}
	p.index = target
	return nil
}

func (p *Page) Wait(ctx context.Context, until engine.WaitUntil) error {
	leave, err := p.enter(ctx, "wait "+string(until))
	if err != nil {
		return err
	}
	leave()
	return nil
}

func (p *Page) Click(ctx context.Context, x, y float64) error {
	return p.simple(ctx, fmt.Sprintf("click %g %g", x, y))
}

func (p *Page) Scroll(ctx context.Context, x, y, deltaX, deltaY float64) error {
	return p.simple(ctx, fmt.Sprintf("scroll %g %g %g %g", x, y, deltaX, deltaY))
}

func (p *Page) TypeText(ctx context.Context, text string) error {
	return p.simple(ctx, "type "+text)
}

func (p *Page) KeyDown(ctx context.Context, key string, mods engine.Modifier) error {
	return p.key(ctx, "keydown", key, mods)
}

func (p *Page) KeyUp(ctx context.Context, key string, mods engine.Modifier) error {
	return p.key(ctx, "keyup", key, mods)
}

func (p *Page) PressKey(ctx context.Context, key string, mods engine.Modifier) error {
	return p.key(ctx, "press", key, mods)
}

func (p *Page) key(ctx context.Context, op, key string, mods engine.Modifier) error {
	if !engine.KnownKey(key) {
		return fmt.Errorf("%w: %q", engine.ErrUnknownKey, key)
	}
	return p.simple(ctx, fmt.Sprintf("%s %s %d", op, key, mods))
}

func (p *Page) simple(ctx context.Context, op string) error {
	leave, err := p.enter(ctx, op)
	if err != nil {
		return err
	}
	leave()
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	leave, err := p.enter(ctx, "url")
	if err != nil {
		return "", err
	}
	defer leave()
	return p.CurrentURL(), nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	leave, err := p.enter(ctx, "title")
	if err != nil {
		return "", err
	}
	defer leave()

	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.currentLocked()
	if t, ok := p.titles[current]; ok {
		return t, nil
	}
	if u, err := url.Parse(current); err == nil && u.Host != "" {
		return u.Host, nil
	}
	return "", nil
}

func (p *Page) Probe(ctx context.Context) error {
	return p.simple(ctx, "probe")
}

// Capture returns a fake image: the format magic followed by the current URL.
func (p *Page) Capture(ctx context.Context, opts engine.CaptureOptions) ([]byte, error) {
	leave, err := p.enter(ctx, "capture "+string(opts.Format))
	if err != nil {
		return nil, err
	}
	defer leave()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures = append(p.captures, opts)
	magic := []byte{0xff, 0xd8, 0xff}
	if opts.Format == engine.FormatPNG {
		magic = []byte("\x89PNG\r\n\x1a\n")
	}
	return append(magic, p.currentLocked()...), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
	p.closed = true
	return nil
}
