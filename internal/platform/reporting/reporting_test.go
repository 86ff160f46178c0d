package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/platform/auth"
)

type fakeEvaluator struct {
	gotMeasure string
	gotSince   time.Time
	results    []map[string]any
	err        error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, m *Measure, since time.Time) ([]map[string]any, error) {
	f.gotMeasure, f.gotSince = m.ID, since
	return f.results, f.err
}

func TestMeasures_Complete(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Measures {
		if m.ID == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %+v is missing a field", m)
		}
		if !strings.Contains(m.SQL, "$1") {
			t.Errorf("measure %s must take the window start as $1", m.ID)
		}
		if seen[m.ID] {
			t.Errorf("duplicate measure id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestFindMeasure(t *testing.T) {
	if m := FindMeasure("bills-by-status"); m == nil || m.Name != "Bills by Status" {
		t.Fatalf("expected bills-by-status, got %+v", m)
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for unknown measure")
	}
}

func newContext(target string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "00000000-0000-0000-0000-000000000009", roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func fixedHandler(eval Evaluator) *Handler {
	h := NewHandler(eval)
	h.now = func() time.Time { return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestEvaluateMeasure(t *testing.T) {
	eval := &fakeEvaluator{results: []map[string]any{{"status": "analyzed", "total": 3, "billed_amount": "1250.00"}}}
	h := fixedHandler(eval)

	c, rec := newContext("/reports/measures/bills-by-status/evaluate?since=2024-06-01", auth.RoleAdmin)
	c.SetParamNames("id")
	c.SetParamValues("bills-by-status")

	if err := h.EvaluateMeasure(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if eval.gotMeasure != "bills-by-status" || !eval.gotSince.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected evaluation: %s since %s", eval.gotMeasure, eval.gotSince)
	}

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.MeasureName != "Bills by Status" || len(report.Results) != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Results[0]["billed_amount"] != "1250.00" {
		t.Errorf("expected money as string, got %v", report.Results[0]["billed_amount"])
	}
}

func TestEvaluateMeasure_DefaultWindow(t *testing.T) {
	eval := &fakeEvaluator{}
	h := fixedHandler(eval)

	c, _ := newContext("/reports/measures/analysis-savings/evaluate", auth.RoleAdmin)
	c.SetParamNames("id")
	c.SetParamValues("analysis-savings")
	if err := h.EvaluateMeasure(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	if !eval.gotSince.Equal(want) {
		t.Errorf("expected default window start %s, got %s", want, eval.gotSince)
	}
}

func TestEvaluateMeasure_Errors(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		query  string
		err    error
		status int
	}{
		{"unknown measure", "nope", "", nil, http.StatusNotFound},
		{"bad date", "bills-by-status", "?since=June", nil, http.StatusBadRequest},
		{"future date", "bills-by-status", "?since=2030-01-01", nil, http.StatusBadRequest},
		{"timeout", "bills-by-status", "", context.DeadlineExceeded, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := fixedHandler(&fakeEvaluator{err: tt.err})
			c, _ := newContext("/reports/measures/"+tt.id+"/evaluate"+tt.query, auth.RoleAdmin)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			err := h.EvaluateMeasure(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.status {
				t.Fatalf("expected HTTP %d, got %v", tt.status, err)
			}
		})
	}
}

func TestRoutes_AdminOnly(t *testing.T) {
	e := echo.New()
	NewHandler(&fakeEvaluator{}).RegisterRoutes(e.Group(""))

	for _, tc := range []struct {
		role   string
		status int
	}{
		{auth.RolePatient, http.StatusForbidden},
		{auth.RoleAdvocate, http.StatusForbidden},
		{auth.RoleAdmin, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/reports/measures", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), "00000000-0000-0000-0000-000000000009", []string{tc.role}))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.role, tc.status, rec.Code)
		}
	}
}
