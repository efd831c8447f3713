package browser

import "fmt"

// ActionKind names one step of the action protocol.
type ActionKind string

const (
	ActionNavigate   ActionKind = "navigate"
	ActionScreenshot ActionKind = "screenshot"
	ActionRefresh    ActionKind = "refresh"
	ActionClick      ActionKind = "click"
	ActionScroll     ActionKind = "scroll"
	ActionType       ActionKind = "type"
	ActionKey        ActionKind = "key"
	ActionBack       ActionKind = "back"
	ActionForward    ActionKind = "forward"
)

var kinds = map[ActionKind]struct{}{
	ActionNavigate: {}, ActionScreenshot: {}, ActionRefresh: {},
	ActionClick: {}, ActionScroll: {}, ActionType: {}, ActionKey: {},
	ActionBack: {}, ActionForward: {},
}

// ParseActionKind validates a kind received from a client.
func ParseActionKind(raw string) (ActionKind, error) {
	k := ActionKind(raw)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unknown action %q", raw)
	}
	return k, nil
}

// HasMeta reports whether the response to this kind carries page URL and title.
// Scroll and type cannot change navigation state.
func (k ActionKind) HasMeta() bool {
	return k != ActionScroll && k != ActionType
}

// Action is one client request against a session.
type Action struct {
	Kind   ActionKind `json:"action"`
	URL    string     `json:"url,omitempty"`
	X      float64    `json:"x,omitempty"`
	Y      float64    `json:"y,omitempty"`
	DeltaX float64    `json:"deltaX,omitempty"`
	DeltaY float64    `json:"deltaY,omitempty"`
	Text   string     `json:"text,omitempty"`
	Key    string     `json:"key,omitempty"`
	// Wait is the settle time for refresh, in milliseconds.
	Wait int `json:"wait,omitempty"`
}

// Result is the rendered frame produced by an action.
type Result struct {
	Image       []byte `json:"-"`
	ContentType string `json:"contentType"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	HasMeta     bool   `json:"hasMeta"`
}
