package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, http.StatusBadRequest, "invalid_request", "url is required")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body.Error != "invalid_request" || body.Message != "url is required" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRespondImage(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondImage(rr, "image/jpeg", []byte{0xff, 0xd8, 0xff})

	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Header().Get("Content-Length") != "3" {
		t.Fatalf("unexpected content length %q", rr.Header().Get("Content-Length"))
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected cache control header")
	}
}
