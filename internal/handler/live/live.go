// Package live serves the action protocol over a websocket: each inbound JSON
// action is answered by a JSON frame header followed by the binary image.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
	browserSvc "github.com/zhouzirui/tabcast/backend/internal/service/browser"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
	queueSize           = 8
)

// Dispatcher runs one action against a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string, act model.Action) (*model.Result, error)
}

// Options 控制连接的会话绑定和心跳
type Options struct {
	DefaultSessionID string
	RequireSessionID bool
	ReadTimeout      time.Duration
	PingInterval     time.Duration
}

// Handler WebSocket实时动作处理器
type Handler struct {
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// New 创建实时动作处理器
func New(dispatcher Dispatcher, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultSessionID == "" {
		opts.DefaultSessionID = "default"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Handler{
		dispatcher: dispatcher,
		opts:       opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logger.With(zap.String("component", "live")),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	RequestID string `json:"requestId"`
	model.Action
}

type frameMessage struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId,omitempty"`
	SessionID   string `json:"sid"`
	ContentType string `json:"contentType"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	HasMeta     bool   `json:"hasMeta"`
	Size        int    `json:"size"`
	Timestamp   int64  `json:"timestamp"`
}

type errorMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type connectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sid"`
	ConnID    string `json:"connId"`
	Timestamp int64  `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer besides WriteControl.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// writeFrame sends the header and the image as one unit.
func (c *conn) writeFrame(head frameMessage, image []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(head); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, image)
}

func (c *conn) sendError(requestID string, err error) {
	msg := errorMessage{
		Type:      "error",
		RequestID: requestID,
		Error:     browserSvc.ErrorCode(err),
		Message:   err.Error(),
		Timestamp: time.Now().Unix(),
	}
	if werr := c.writeJSON(msg); werr != nil {
		c.logger.Debug("write error failed", zap.Error(werr))
	}
}

func (h *Handler) sessionID(r *http.Request) (string, bool) {
	sid := strings.TrimSpace(r.URL.Query().Get("sid"))
	if sid == "" {
		sid = strings.TrimSpace(r.Header.Get("X-Session-Id"))
	}
	if sid != "" {
		return sid, true
	}
	if h.opts.RequireSessionID {
		return "", false
	}
	return h.opts.DefaultSessionID, true
}

// handleWebSocket 处理WebSocket连接；一个连接绑定一个会话
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	connID := uuid.NewString()
	log := h.logger.With(zap.String("conn", connID), zap.String("sid", sid))
	c := &conn{ws: ws, logger: log}
	log.Info("connection opened")
	defer log.Info("connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})
	go h.pingLoop(ctx, ws)

	if err := c.writeJSON(connectedMessage{Type: "connected", SessionID: sid, ConnID: connID, Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	jobs := make(chan inboundMessage, queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.worker(ctx, c, sid, jobs)
	}()
	defer func() {
		cancel()
		close(jobs)
		wg.Wait()
	}()

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		if typ != websocket.TextMessage {
			c.sendError("", invalid("expected a JSON text message"))
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", invalid("malformed message"))
			continue
		}
		if _, err := model.ParseActionKind(string(msg.Kind)); err != nil {
			c.sendError(msg.RequestID, invalid(err.Error()))
			continue
		}

		select {
		case jobs <- msg:
		default:
			c.sendError(msg.RequestID, invalid("too many pending actions"))
		}
	}
}

// worker dispatches queued actions in arrival order.
func (h *Handler) worker(ctx context.Context, c *conn, sid string, jobs <-chan inboundMessage) {
	for msg := range jobs {
		if ctx.Err() != nil {
			continue
		}
		res, err := h.dispatcher.Dispatch(ctx, sid, msg.Action)
		if err != nil {
			if ctx.Err() == nil {
				if browserSvc.StatusCode(err) >= http.StatusInternalServerError {
					c.logger.Error("action failed", zap.String("action", string(msg.Kind)), zap.Error(err))
				}
				c.sendError(msg.RequestID, err)
			}
			continue
		}
		head := frameMessage{
			Type:        "frame",
			RequestID:   msg.RequestID,
			SessionID:   sid,
			ContentType: res.ContentType,
			URL:         res.URL,
			Title:       res.Title,
			HasMeta:     res.HasMeta,
			Size:        len(res.Image),
			Timestamp:   time.Now().Unix(),
		}
		if err := c.writeFrame(head, res.Image); err != nil {
			c.logger.Debug("write frame failed", zap.Error(err))
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", browserSvc.ErrInvalidRequest, msg)
}
