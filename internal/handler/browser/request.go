package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	browserSvc "github.com/zhouzirui/tabcast/backend/internal/service/browser"
)

const maxBodyBytes = 64 << 10

// actionRequest collects parameters from the query string and, for POST, the
// JSON body. Pointers distinguish "absent" from zero values.
type actionRequest struct {
	SessionID *string  `json:"sid"`
	URL       *string  `json:"url"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	DeltaX    *float64 `json:"deltaX"`
	DeltaY    *float64 `json:"deltaY"`
	Text      *string  `json:"text"`
	Key       *string  `json:"key"`
	Wait      *int     `json:"wait"`
	Width     *int     `json:"width"`
	Height    *int     `json:"height"`
	Delay     *int     `json:"delay"`
	Full      *bool    `json:"full"`
}

func parseActionRequest(r *http.Request) (actionRequest, error) {
	var req actionRequest
	if err := req.fromQuery(r.URL.Query()); err != nil {
		return req, err
	}
	if r.Method == http.MethodPost && r.Body != nil {
		var body actionRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("%w: invalid request body: %v", browserSvc.ErrInvalidRequest, err)
		}
		req.overlay(body)
	}
	return req, nil
}

func (a *actionRequest) fromQuery(q url.Values) error {
	var err error
	str := func(key string) *string {
		if !q.Has(key) {
			return nil
		}
		v := q.Get(key)
		return &v
	}
	num := func(key string) *float64 {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" || err != nil {
			return nil
		}
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			err = fmt.Errorf("%w: %s must be a number", browserSvc.ErrInvalidRequest, key)
			return nil
		}
		return &v
	}
	integer := func(key string) *int {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" || err != nil {
			return nil
		}
		v, perr := strconv.Atoi(raw)
		if perr != nil {
			err = fmt.Errorf("%w: %s must be an integer", browserSvc.ErrInvalidRequest, key)
			return nil
		}
		return &v
	}

	a.SessionID = str("sid")
	a.URL = str("url")
	a.Text = str("text")
	a.Key = str("key")
	a.X = num("x")
	a.Y = num("y")
	a.DeltaX = num("deltaX")
	a.DeltaY = num("deltaY")
	a.Wait = integer("wait")
	a.Width = integer("width")
	a.Height = integer("height")
	a.Delay = integer("delay")
	if raw := strings.TrimSpace(q.Get("full")); raw != "" && err == nil {
		full, perr := strconv.ParseBool(raw)
		if perr != nil {
			return fmt.Errorf("%w: full must be a boolean", browserSvc.ErrInvalidRequest)
		}
		a.Full = &full
	}
	return err
}

// overlay copies every field present in b over a.
func (a *actionRequest) overlay(b actionRequest) {
	if b.SessionID != nil {
		a.SessionID = b.SessionID
	}
	if b.URL != nil {
		a.URL = b.URL
	}
	if b.X != nil {
		a.X = b.X
	}
	if b.Y != nil {
		a.Y = b.Y
	}
	if b.DeltaX != nil {
		a.DeltaX = b.DeltaX
	}
	if b.DeltaY != nil {
		a.DeltaY = b.DeltaY
	}
	if b.Text != nil {
		a.Text = b.Text
	}
	if b.Key != nil {
		a.Key = b.Key
	}
	if b.Wait != nil {
		a.Wait = b.Wait
	}
	if b.Width != nil {
		a.Width = b.Width
	}
	if b.Height != nil {
		a.Height = b.Height
	}
	if b.Delay != nil {
		a.Delay = b.Delay
	}
	if b.Full != nil {
		a.Full = b.Full
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
