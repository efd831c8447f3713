package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
	browserSvc "github.com/zhouzirui/tabcast/backend/internal/service/browser"
	"github.com/zhouzirui/tabcast/backend/pkg/utils"
)

// Dispatcher runs one action against a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string, act model.Action) (*model.Result, error)
}

// Capturer takes stateless screenshots.
type Capturer interface {
	Capture(ctx context.Context, req browserSvc.OneShotRequest) (*model.Result, error)
}

// Sessions is the local session registry.
type Sessions interface {
	Len() int
	List() []model.SessionInfo
	Remove(ctx context.Context, id string) (bool, error)
}

// Directory lists sessions across every instance.
type Directory interface {
	List(ctx context.Context) ([]model.SessionInfo, error)
}

// Options 控制会话 id 的解析和状态接口的内容
type Options struct {
	// DefaultSessionID is used when a request names no session.
	DefaultSessionID string
	// RequireSessionID rejects requests without a session id.
	RequireSessionID bool
	ServiceName      string
	Version          string
}

// Handler 浏览器动作的HTTP处理器
type Handler struct {
	dispatcher Dispatcher
	oneshot    Capturer
	sessions   Sessions
	directory  Directory
	opts       Options
	logger     *zap.Logger
}

// New 创建浏览器处理器；directory 可以为 nil
func New(dispatcher Dispatcher, oneshot Capturer, sessions Sessions, directory Directory, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultSessionID == "" {
		opts.DefaultSessionID = "default"
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "Tabcast Browser API"
	}
	if opts.Version == "" {
		opts.Version = "1.0"
	}
	return &Handler{
		dispatcher: dispatcher,
		oneshot:    oneshot,
		sessions:   sessions,
		directory:  directory,
		opts:       opts,
		logger:     logger.With(zap.String("component", "browser_handler")),
	}
}

// RegisterRoutes 注册浏览器相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleStatus)
	r.Get("/navigate", h.handleAction(model.ActionNavigate))
	r.Get("/screenshot", h.handleScreenshot)
	r.Get("/refresh", h.handleAction(model.ActionRefresh))
	r.Post("/click", h.handleAction(model.ActionClick))
	r.Post("/scroll", h.handleAction(model.ActionScroll))
	r.Post("/type", h.handleAction(model.ActionType))
	r.Post("/key", h.handleAction(model.ActionKey))
	r.Post("/back", h.handleAction(model.ActionBack))
	r.Post("/forward", h.handleAction(model.ActionForward))

	r.Post("/session", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Delete("/session/{sid}", h.handleDeleteSession)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, model.Status{
		Status:   "ok",
		Service:  h.opts.ServiceName,
		Version:  h.opts.Version,
		Sessions: h.sessions.Len(),
	})
}

func (h *Handler) handleAction(kind model.ActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseActionRequest(r)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		sid, err := h.sessionID(r, req)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		act, err := buildAction(kind, req)
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		res, err := h.dispatcher.Dispatch(r.Context(), sid, act)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		respondFrame(w, sid, res)
	}
}

// handleScreenshot captures the session tab, or with ?url= a one-shot PNG of that URL.
func (h *Handler) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	req, err := parseActionRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if target := strings.TrimSpace(deref(req.URL)); target != "" {
		delay := time.Duration(-1)
		if req.Delay != nil {
			delay = time.Duration(*req.Delay) * time.Millisecond
		}
		res, err := h.oneshot.Capture(r.Context(), browserSvc.OneShotRequest{
			URL:    target,
			Width:  deref(req.Width),
			Height: deref(req.Height),
			Delay:  delay,
			Full:   deref(req.Full),
		})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		respondFrame(w, "", res)
		return
	}

	sid, err := h.sessionID(r, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.dispatcher.Dispatch(r.Context(), sid, model.Action{Kind: model.ActionScreenshot})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondFrame(w, sid, res)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"sid": uuid.NewString()})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scope") == "cluster" {
		if h.directory == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "directory_unavailable", "cluster listing requires redis")
			return
		}
		infos, err := h.directory.List(r.Context())
		if err != nil {
			h.logger.Error("directory listing failed", zap.Error(err))
			utils.RespondError(w, http.StatusServiceUnavailable, "directory_unavailable", "cluster listing failed")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{"scope": "cluster", "sessions": nonNil(infos)})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"scope": "local", "sessions": nonNil(h.sessions.List())})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	existed, err := h.sessions.Remove(r.Context(), sid)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !existed {
		utils.RespondError(w, http.StatusNotFound, "session_not_found", fmt.Sprintf("no live session %q", sid))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionID picks the sid parameter, then the X-Session-Id header, then the default.
func (h *Handler) sessionID(r *http.Request, req actionRequest) (string, error) {
	sid := strings.TrimSpace(deref(req.SessionID))
	if sid == "" {
		sid = strings.TrimSpace(r.Header.Get("X-Session-Id"))
	}
	if sid != "" {
		return sid, nil
	}
	if h.opts.RequireSessionID {
		return "", fmt.Errorf("%w: sid is required", browserSvc.ErrInvalidRequest)
	}
	return h.opts.DefaultSessionID, nil
}

func buildAction(kind model.ActionKind, req actionRequest) (model.Action, error) {
	act := model.Action{Kind: kind}
	switch kind {
	case model.ActionNavigate:
		act.URL = strings.TrimSpace(deref(req.URL))
		if act.URL == "" {
			return act, fmt.Errorf("%w: url is required", browserSvc.ErrInvalidRequest)
		}
	case model.ActionClick:
		if req.X == nil || req.Y == nil {
			return act, fmt.Errorf("%w: x and y are required", browserSvc.ErrInvalidRequest)
		}
		if *req.X < 0 || *req.Y < 0 {
			return act, fmt.Errorf("%w: coordinates must not be negative", browserSvc.ErrInvalidRequest)
		}
		act.X, act.Y = *req.X, *req.Y
	case model.ActionScroll:
		act.DeltaX = deref(req.DeltaX)
		act.DeltaY = browserSvc.DefaultScrollDelta
		if req.DeltaY != nil {
			act.DeltaY = *req.DeltaY
		}
	case model.ActionType:
		act.Text = deref(req.Text)
	case model.ActionKey:
		act.Key = deref(req.Key)
	case model.ActionRefresh:
		act.Wait = deref(req.Wait)
	}
	return act, nil
}

func respondFrame(w http.ResponseWriter, sid string, res *model.Result) {
	h := w.Header()
	if sid != "" {
		h.Set("X-Session-Id", sid)
	}
	if res.HasMeta {
		h.Set("X-Page-Url", EncodeHeaderValue(res.URL))
		h.Set("X-Page-Title", EncodeHeaderValue(res.Title))
	}
	utils.RespondImage(w, res.ContentType, res.Image)
}

// EncodeHeaderValue percent-encodes s so that any title or URL is a valid
// header value; clients decode it with decodeURIComponent.
func EncodeHeaderValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := browserSvc.StatusCode(err)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away; nobody reads the response
		h.logger.Debug("request cancelled", zap.String("path", r.URL.Path))
		return
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("action failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	utils.RespondError(w, status, browserSvc.ErrorCode(err), err.Error())
}

func nonNil(infos []model.SessionInfo) []model.SessionInfo {
	if infos == nil {
		return []model.SessionInfo{}
	}
	return infos
}
