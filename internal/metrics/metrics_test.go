package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAction(t *testing.T) {
	before := testutil.ToFloat64(ActionsTotal.WithLabelValues("click", "ok"))
	ObserveAction("click", "ok", 250*time.Millisecond)
	after := testutil.ToFloat64(ActionsTotal.WithLabelValues("click", "ok"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	SessionsOpened.Inc()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tabcast_sessions_opened_total") {
		t.Fatalf("expected sessions counter in exposition")
	}
}
