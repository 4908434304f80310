package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Edit("trim", ResultOK)
	m.Compilation(ResultError)
	m.Export(ResultOK, time.Second)
	m.HistoryDepth("p", 3)
	m.ForgetProject("p")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Edit("split", ResultOK)
	m.Edit("split", ResultOK)
	m.Edit("trim", ResultRejected)
	m.Compilation(ResultOK)
	m.Export(ResultError, 3*time.Second)
	m.HistoryDepth("p1", 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`cutroom_edits_total{op="split",result="ok"} 2`,
		`cutroom_edits_total{op="trim",result="rejected"} 1`,
		`cutroom_compilations_total{result="ok"} 1`,
		`cutroom_exports_total{result="error"} 1`,
		`cutroom_export_duration_seconds_count 1`,
		`cutroom_history_depth{project_id="p1"} 7`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	m.ForgetProject("p1")
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `project_id="p1"`) {
		t.Error("forgotten project still exported")
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	New(nil)
	New(nil)
}
