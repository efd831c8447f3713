package enginetest

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
)

func TestPageHistoryAndCapture(t *testing.T) {
	ctx := context.Background()
	e := New()
	pg, err := e.NewPage(ctx, engine.PageOptions{Viewport: engine.Viewport{Width: 800, Height: 600}})
	if err != nil {
		t.Fatalf("NewPage err: %v", err)
	}
	if err := pg.Navigate(ctx, "https://a.example", engine.WaitLoad); err != nil {
		t.Fatalf("navigate a: %v", err)
	}
	if err := pg.Navigate(ctx, "https://b.example", engine.WaitLoad); err != nil {
		t.Fatalf("navigate b: %v", err)
	}
	if err := pg.Back(ctx); err != nil {
		t.Fatalf("back: %v", err)
	}
	u, _ := pg.URL(ctx)
	if u != "https://a.example" {
		t.Fatalf("expected a after back, got %s", u)
	}
	if err := pg.Back(ctx); !errors.Is(err, engine.ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}

	img, err := pg.Capture(ctx, engine.CaptureOptions{Format: engine.FormatJPEG})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if img[0] != 0xff || img[1] != 0xd8 {
		t.Fatalf("expected jpeg magic")
	}
}

func TestKilledPageFails(t *testing.T) {
	ctx := context.Background()
	e := New()
	pg, _ := e.NewPage(ctx, engine.PageOptions{})
	e.Last().Kill()
	if err := pg.Probe(ctx); !errors.Is(err, engine.ErrBrowserGone) {
		t.Fatalf("expected ErrBrowserGone, got %v", err)
	}
	if err := pg.Close(); err != nil {
		t.Fatalf("closing a dead page should succeed: %v", err)
	}
}

func TestHookInjectsErrors(t *testing.T) {
	boom := errors.New("boom")
	e := New()
	e.Hook = func(ctx context.Context, op string) error { return boom }
	if _, err := e.NewPage(context.Background(), engine.PageOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if e.Created() != 0 {
		t.Fatalf("no page should be created")
	}
}
