package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"assetcore/pkg/domain"
)

func TestObserveCountsByStatus(t *testing.T) {
	r := NewRecorder()
	start := time.Now()
	_ = r.Observe("rebuild", start, nil)
	_ = r.Observe("rebuild", start, nil)
	_ = r.Observe("manipulator.create", start, domain.Required("title"))
	_ = r.Observe("selector.update", start, domain.NotFoundError{Entity: "selector", ID: "9"})
	boom := errors.New("boom")
	if got := r.Observe("rebuild", start, boom); got != boom {
		t.Fatalf("Observe must return the error unchanged")
	}

	cases := []struct {
		op, status string
		want       float64
	}{
		{"rebuild", StatusOK, 2},
		{"rebuild", StatusError, 1},
		{"manipulator.create", StatusValidation, 1},
		{"selector.update", StatusNotFound, 1},
	}
	for _, tc := range cases {
		if got := testutil.ToFloat64(r.total.WithLabelValues(tc.op, tc.status)); got != tc.want {
			t.Fatalf("%s/%s = %v, want %v", tc.op, tc.status, got, tc.want)
		}
	}
	if n := testutil.CollectAndCount(r.duration); n != 3 {
		t.Fatalf("expected 3 duration series, got %d", n)
	}
}

func TestSetCoverageAndHandler(t *testing.T) {
	r := NewRecorder()
	r.SetCoverage(10, 3)
	if got := testutil.ToFloat64(r.unmatched); got != 3 {
		t.Fatalf("unmatched gauge = %v", got)
	}
	expected := `
# HELP assetcore_pool_rows Pool rows seen by the last coverage calculation.
# TYPE assetcore_pool_rows gauge
assetcore_pool_rows 10
`
	if err := testutil.CollectAndCompare(r.poolRows, strings.NewReader(expected)); err != nil {
		t.Fatalf("pool rows gauge: %v", err)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "assetcore_unmatched_assets 3") {
		t.Fatalf("unexpected metrics response %d:\n%s", rec.Code, rec.Body.String())
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.SetCoverage(1, 1)
	if err := r.Observe("x", time.Now(), nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
