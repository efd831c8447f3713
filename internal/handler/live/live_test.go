package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
	browserSvc "github.com/zhouzirui/tabcast/backend/internal/service/browser"
)

type call struct {
	sid string
	act model.Action
}

type stubDispatcher struct {
	mu    sync.Mutex
	calls []call
}

func (s *stubDispatcher) Dispatch(_ context.Context, id string, act model.Action) (*model.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{sid: id, act: act})
	s.mu.Unlock()

	if act.Kind == model.ActionScreenshot && act.URL == "crash" {
		return nil, browserSvc.ErrSessionCrashed
	}
	return &model.Result{
		Image:       []byte{0xff, 0xd8, 0xff, byte(len(act.Kind))},
		ContentType: "image/jpeg",
		URL:         "https://example.com",
		Title:       "Example",
		HasMeta:     act.Kind.HasMeta(),
	}, nil
}

func (s *stubDispatcher) recorded() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func dial(t *testing.T, opts Options, query string) (*websocket.Conn, *stubDispatcher) {
	t.Helper()
	stub := &stubDispatcher{}
	r := chi.NewRouter()
	New(stub, opts, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed: %v (status %d)", err, status)
	}
	t.Cleanup(func() { ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws, stub
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	typ, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("expected text message, got %d", typ)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func TestConnectedGreeting(t *testing.T) {
	ws, _ := dial(t, Options{}, "?sid=abc")

	msg := readJSON(t, ws)
	if msg["type"] != "connected" || msg["sid"] != "abc" {
		t.Fatalf("unexpected greeting %v", msg)
	}
	if id, _ := msg["connId"].(string); id == "" {
		t.Fatal("expected a connection id")
	}
}

func TestActionReturnsHeaderThenImage(t *testing.T) {
	ws, stub := dial(t, Options{}, "")
	readJSON(t, ws)

	if err := ws.WriteJSON(map[string]any{"requestId": "r1", "action": "navigate", "url": "example.com"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	head := readJSON(t, ws)
	if head["type"] != "frame" || head["requestId"] != "r1" || head["sid"] != "default" {
		t.Fatalf("unexpected frame header %v", head)
	}
	if head["url"] != "https://example.com" || head["hasMeta"] != true {
		t.Fatalf("expected page meta in header: %v", head)
	}

	typ, img, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if typ != websocket.BinaryMessage || len(img) != int(head["size"].(float64)) {
		t.Fatalf("unexpected image message type=%d len=%d", typ, len(img))
	}

	calls := stub.recorded()
	if len(calls) != 1 || calls[0].sid != "default" || calls[0].act.URL != "example.com" {
		t.Fatalf("unexpected dispatch %+v", calls)
	}
}

func TestActionsKeepOrder(t *testing.T) {
	ws, stub := dial(t, Options{}, "?sid=s")
	readJSON(t, ws)

	kinds := []string{"click", "scroll", "type", "key"}
	for i, k := range kinds {
		if err := ws.WriteJSON(map[string]any{"requestId": k, "action": k, "x": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, k := range kinds {
		head := readJSON(t, ws)
		if head["requestId"] != k {
			t.Fatalf("expected reply to %s, got %v", k, head)
		}
		if _, _, err := ws.ReadMessage(); err != nil {
			t.Fatalf("read image: %v", err)
		}
	}
	if got := len(stub.recorded()); got != len(kinds) {
		t.Fatalf("expected %d dispatches, got %d", len(kinds), got)
	}
}

func TestInvalidMessages(t *testing.T) {
	ws, stub := dial(t, Options{}, "")
	readJSON(t, ws)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readJSON(t, ws); msg["type"] != "error" || msg["error"] != "invalid_request" {
		t.Fatalf("expected invalid_request, got %v", msg)
	}

	if err := ws.WriteJSON(map[string]any{"requestId": "r2", "action": "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, ws)
	if msg["requestId"] != "r2" || msg["error"] != "invalid_request" {
		t.Fatalf("expected invalid_request for r2, got %v", msg)
	}
	if len(stub.recorded()) != 0 {
		t.Fatal("invalid messages must not be dispatched")
	}
}

func TestDispatchErrorIsReported(t *testing.T) {
	ws, _ := dial(t, Options{}, "")
	readJSON(t, ws)

	if err := ws.WriteJSON(map[string]any{"requestId": "r3", "action": "screenshot", "url": "crash"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, ws)
	if msg["type"] != "error" || msg["error"] != "session_crashed" || msg["requestId"] != "r3" {
		t.Fatalf("unexpected error message %v", msg)
	}
}

func TestRequireSessionID(t *testing.T) {
	stub := &stubDispatcher{}
	r := chi.NewRouter()
	New(stub, Options{RequireSessionID: true}, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}
