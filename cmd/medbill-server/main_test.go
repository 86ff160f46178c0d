package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/medbill/medbill/internal/config"
	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/metrics"
)

func TestResolveSigningKey_FromSecret(t *testing.T) {
	key, generated, err := resolveSigningKey("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generated {
		t.Error("expected generated=false when a secret is configured")
	}
	if string(key) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("key mismatch: %q", key)
	}
}

func TestResolveSigningKey_RandomGeneration(t *testing.T) {
	key, generated, err := resolveSigningKey("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !generated {
		t.Error("expected generated=true when no secret is set")
	}
	if len(key) != 32 {
		t.Errorf("expected 32-byte key, got %d bytes", len(key))
	}

	key2, _, err := resolveSigningKey("")
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("two random keys should not be identical")
	}
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testServer(t *testing.T, env string) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Env:            env,
		CORSOrigins:    []string{"http://localhost:5173"},
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	jwtCfg := auth.JWTConfig{Issuer: "medbill", SigningKey: testKey, Skipper: auth.AuthSkipper}

	e, api := newEcho(cfg, zerolog.Nop(), collector, noop.NewTracerProvider(), jwtCfg)
	api.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, auth.UserIDFromContext(c.Request().Context()))
	})
	return e
}

func TestHealth_IsPublic(t *testing.T) {
	e := testServer(t, "production")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}
}

func TestMetrics_ExposesHTTPCounters(t *testing.T) {
	e := testServer(t, "production")

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_http_requests_total") {
		t.Errorf("expected request counter in metrics output")
	}
}

func TestAPI_RequiresTokenOutsideDevelopment(t *testing.T) {
	e := testServer(t, "production")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	userID := uuid.New()
	token, _, err := auth.NewTokenIssuer(testKey, "medbill", time.Hour).Issue(userID, "pat", auth.RolePatient)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != userID.String() {
		t.Errorf("expected caller %s, got %s", userID, rec.Body.String())
	}
}

func TestAPI_DevelopmentFallsBackToDevAdmin(t *testing.T) {
	e := testServer(t, "development")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != auth.DevUserID.String() {
		t.Errorf("expected dev user, got %s", rec.Body.String())
	}
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_identity.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_billing.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "2024-06-03 09:00:00") {
		t.Errorf("expected applied timestamp in output:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("expected second migration pending: %q", lines[3])
	}
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	cmd := migrateCmd()
	for _, name := range []string{"up", "status", "down"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("expected subcommand %q", name)
		}
	}
	up, _, _ := cmd.Find([]string{"up"})
	if got, _ := up.Flags().GetString("schema"); got != db.DefaultSchema {
		t.Errorf("expected default schema %q, got %q", db.DefaultSchema, got)
	}
}
