// Package engine is the boundary between the session core and the rendering
// engine. The core only speaks to Engine and Page; Chrome (via chromedp) is one
// implementation and enginetest provides a recording fake.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrPageClosed is returned by Page methods after Close.
	ErrPageClosed = errors.New("engine: page closed")
	// ErrBrowserGone means the browser process behind a page is no longer reachable.
	ErrBrowserGone = errors.New("engine: browser gone")
	// ErrNoHistory is returned by Back/Forward when there is no entry to move to.
	ErrNoHistory = errors.New("engine: no history entry")
	// ErrNavigation wraps a navigation the engine reported as failed.
	ErrNavigation = errors.New("engine: navigation failed")
	// ErrUnknownKey is returned for key names the engine cannot map.
	ErrUnknownKey = errors.New("engine: unknown key")
)

// WaitUntil selects the completion signal a navigation or settle waits for.
type WaitUntil string

const (
	// WaitDOM waits for DOMContentLoaded (document no longer "loading").
	WaitDOM WaitUntil = "dom"
	// WaitLoad waits for the load event.
	WaitLoad WaitUntil = "load"
	// WaitNetwork waits for load plus at most two in-flight requests for 500ms.
	WaitNetwork WaitUntil = "network"
)

// ParseWaitUntil maps a config value onto a WaitUntil.
func ParseWaitUntil(raw string) (WaitUntil, error) {
	switch WaitUntil(raw) {
	case WaitDOM, WaitLoad, WaitNetwork:
		return WaitUntil(raw), nil
	case "domcontentloaded":
		return WaitDOM, nil
	case "networkidle", "networkidle2":
		return WaitNetwork, nil
	}
	return "", errors.New("engine: unknown wait mode " + raw)
}

// Format is the encoding of a captured frame.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Modifier is a bitmask of held keyboard modifiers, using the DevTools values.
type Modifier int

const (
	ModAlt   Modifier = 1
	ModCtrl  Modifier = 2
	ModMeta  Modifier = 4
	ModShift Modifier = 8
)

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// PageOptions configures a new isolated page.
type PageOptions struct {
	Viewport       Viewport
	UserAgent      string
	AcceptLanguage string
	Locale         string
	Timezone       string
	Headers        map[string]string
	// BlockResources lists resource types ("font", "media", "image") that are aborted.
	BlockResources []string
}

// CaptureOptions selects the encoding and region of a capture.
type CaptureOptions struct {
	Format   Format
	Quality  int
	FullPage bool
	// Clip restricts the capture to the top-left region of this size.
	Clip *Viewport
}

// Engine creates isolated pages.
type Engine interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Page is a single tab inside its own browsing context.
type Page interface {
	Navigate(ctx context.Context, url string, until WaitUntil) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	// Wait blocks until the page reaches until or ctx is done.
	Wait(ctx context.Context, until WaitUntil) error

	Click(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, x, y, deltaX, deltaY float64) error
	TypeText(ctx context.Context, text string) error
	KeyDown(ctx context.Context, key string, mods Modifier) error
	KeyUp(ctx context.Context, key string, mods Modifier) error
	PressKey(ctx context.Context, key string, mods Modifier) error

	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Probe is a no-effect round trip used as a liveness check.
	Probe(ctx context.Context) error
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)

	// Close releases the page. Closing a dead page is not an error.
	Close() error
}
