package chat_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/domain/chat"
	"github.com/medbill/medbill/internal/platform/auth"
)

func newContext(e *echo.Echo, method, body string, userID uuid.UUID, role string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithIdentity(req.Context(), userID.String(), []string{role}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_SessionLifecycle(t *testing.T) {
	f := newFixture()
	h, e := chat.NewHandler(f.svc), echo.New()
	owner := uuid.New()

	c, rec := newContext(e, http.MethodPost, `{"title":"Help with my bill"}`, owner, auth.RolePatient)
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var sess chat.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}

	c, rec = newContext(e, http.MethodPost, `{"role":"user","content":"Why is this so high?","metadata":{"source":"web"}}`, owner, auth.RolePatient)
	if err := h.AddMessage(withID(c, sess.ID)); err != nil {
		t.Fatalf("AddMessage error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	c, _ = newContext(e, http.MethodPost, `{"content":"x","metadata":[1]}`, owner, auth.RolePatient)
	expectStatus(t, h.AddMessage(withID(c, sess.ID)), http.StatusUnprocessableEntity)

	c, rec = newContext(e, http.MethodGet, "", owner, auth.RolePatient)
	if err := h.ListMessages(withID(c, sess.ID)); err != nil {
		t.Fatalf("ListMessages error: %v", err)
	}
	var page struct {
		Data  []chat.Message `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || string(page.Data[0].Metadata) != `{"source":"web"}` {
		t.Errorf("unexpected page: %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodGet, "", uuid.New(), auth.RoleAdvocate)
	expectStatus(t, h.GetSession(withID(c, sess.ID)), http.StatusForbidden)

	c, rec = newContext(e, http.MethodDelete, "", owner, auth.RolePatient)
	if err := h.DeleteSession(withID(c, sess.ID)); err != nil {
		t.Fatalf("DeleteSession error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newContext(e, http.MethodGet, "", owner, auth.RolePatient)
	expectStatus(t, h.GetSession(withID(c, sess.ID)), http.StatusNotFound)
}

func TestHandler_ListSessionsRequiresIdentity(t *testing.T) {
	f := newFixture()
	h, e := chat.NewHandler(f.svc), echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, h.ListSessions(c), http.StatusUnauthorized)
}

func TestHandler_BadInput(t *testing.T) {
	f := newFixture()
	h, e := chat.NewHandler(f.svc), echo.New()
	owner := uuid.New()

	c, _ := newContext(e, http.MethodGet, "", owner, auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectStatus(t, h.GetSession(c), http.StatusBadRequest)

	c, _ = newContext(e, http.MethodPost, `{"title":""}`, owner, auth.RolePatient)
	expectStatus(t, h.CreateSession(c), http.StatusUnprocessableEntity)
}
