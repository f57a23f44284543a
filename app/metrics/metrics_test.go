package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/epg"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePortalRequest(t *testing.T) {
	m := New()

	m.ObservePortalRequest("get_live_streams", 200, 150*time.Millisecond)
	m.ObservePortalRequest("get_live_streams", 200, 50*time.Millisecond)
	m.ObservePortalRequest("xmltv", 0, time.Second)

	if got := testutil.ToFloat64(m.portalRequests.WithLabelValues("get_live_streams", "200")); got != 2 {
		t.Errorf("Expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.portalRequests.WithLabelValues("xmltv", "0")); got != 1 {
		t.Errorf("Expected 1 failed request, got %v", got)
	}
}

func TestObserveSyncAndRefresh(t *testing.T) {
	m := New()

	m.ObserveSync("home", 3*time.Second, nil)
	m.ObserveSync("home", time.Second, errors.New("boom"))
	m.ObserveEpgRefresh("home", true, nil)
	m.ObserveEpgRefresh("home", false, nil)
	m.ObserveEpgRefresh("home", false, errors.New("boom"))

	if got := testutil.ToFloat64(m.syncRuns.WithLabelValues("home", "success")); got != 1 {
		t.Errorf("Expected 1 successful sync, got %v", got)
	}
	if got := testutil.ToFloat64(m.syncRuns.WithLabelValues("home", "error")); got != 1 {
		t.Errorf("Expected 1 failed sync, got %v", got)
	}
	for _, result := range []string{"refreshed", "fresh", "error"} {
		if got := testutil.ToFloat64(m.epgRefreshes.WithLabelValues("home", result)); got != 1 {
			t.Errorf("Expected 1 %s refresh, got %v", result, got)
		}
	}
}

func TestObserveResolve(t *testing.T) {
	m := New()

	m.ObserveResolve(epg.ResolveReport{Counts: map[epg.MatchMethod]int{
		epg.MatchExact:     3,
		epg.MatchUnmatched: 2,
	}})

	if got := testutil.ToFloat64(m.resolveMatches.WithLabelValues("exact")); got != 3 {
		t.Errorf("Expected 3 exact matches, got %v", got)
	}
	if got := testutil.ToFloat64(m.resolveMatches.WithLabelValues("unmatched")); got != 2 {
		t.Errorf("Expected 2 unmatched, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// Must not panic
	m.ObservePortalRequest("x", 200, time.Second)
	m.ObserveSync("p", time.Second, nil)
	m.ObserveEpgRefresh("p", true, nil)
	m.ObserveResolve(epg.ResolveReport{})
	m.ObserveTask("sync_profile", nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveTask("sync_profile", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `xtream_catalog_tasks_total{result="success",type="sync_profile"} 1`) {
		t.Errorf("Expected task counter in output, got:\n%s", rec.Body.String())
	}
}
