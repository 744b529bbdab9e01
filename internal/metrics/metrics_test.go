package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveEvent("text", OutcomeSuccess)
	c.ObserveModel("gemini", OutcomeError, 0.1)
	c.ObserveStore("insert_project", errors.New("boom"))
	c.ObserveHTTP("GET", "/health", "200")
	c.ProjectCommitted()
	c.SetActiveSessions(3)
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.ObserveEvent("text", OutcomeSuccess)
	c.ObserveEvent("text", OutcomeSuccess)
	c.ObserveStore("insert_project", nil)
	c.ObserveStore("insert_project", errors.New("boom"))
	c.ProjectCommitted()

	if got := testutil.ToFloat64(c.Events.WithLabelValues("text", OutcomeSuccess)); got != 2 {
		t.Errorf("expected 2 text events, got %v", got)
	}
	if got := testutil.ToFloat64(c.StoreOps.WithLabelValues("insert_project", OutcomeError)); got != 1 {
		t.Errorf("expected 1 failed store op, got %v", got)
	}
	if got := testutil.ToFloat64(c.ProjectsSaved); got != 1 {
		t.Errorf("expected 1 committed project, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.SetActiveSessions(4)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "pitchpipe_active_sessions 4") {
		t.Errorf("expected active sessions gauge in output, got:\n%s", body)
	}
}
