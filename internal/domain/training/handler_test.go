package training_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/domain/training"
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

func TestHandler_GetCaseRedactsForLearners(t *testing.T) {
	f := newFixture(t)
	h, e := training.NewHandler(f.svc), echo.New()
	c := f.firstCase(t, "cardiology")

	ctx, rec := newContext(e, http.MethodGet, "", uuid.New(), auth.RolePatient)
	if err := h.GetCase(withID(ctx, c.ID)); err != nil {
		t.Fatalf("GetCase error: %v", err)
	}
	if strings.Contains(rec.Body.String(), "correct_diagnosis") {
		t.Errorf("learner response leaked the diagnosis: %s", rec.Body.String())
	}

	ctx, rec = newContext(e, http.MethodGet, "", uuid.New(), auth.RoleAdmin)
	if err := h.GetCase(withID(ctx, c.ID)); err != nil {
		t.Fatalf("GetCase error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), c.CorrectDiagnosis) {
		t.Errorf("admin response should include the diagnosis: %s", rec.Body.String())
	}

	ctx, _ = newContext(e, http.MethodGet, "", uuid.New(), auth.RolePatient)
	expectStatus(t, h.GetCase(withID(ctx, uuid.New())), http.StatusNotFound)
}

func TestHandler_RecordAttempt(t *testing.T) {
	f := newFixture(t)
	h, e := training.NewHandler(f.svc), echo.New()
	c := f.firstCase(t, "cardiology")
	user := uuid.New()

	ctx, rec := newContext(e, http.MethodPost, `{"score":"85","time_spent_seconds":90}`, user, auth.RolePatient)
	if err := h.RecordAttempt(withID(ctx, c.ID)); err != nil {
		t.Fatalf("RecordAttempt error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var res training.AttemptResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.NewlyCompleted || res.Stats.CasesCompleted != 1 {
		t.Errorf("unexpected result: %s", rec.Body.String())
	}

	ctx, _ = newContext(e, http.MethodPost, `{"score":"101"}`, user, auth.RolePatient)
	expectStatus(t, h.RecordAttempt(withID(ctx, c.ID)), http.StatusUnprocessableEntity)

	ctx, rec = newContext(e, http.MethodGet, "", user, auth.RolePatient)
	if err := h.GetStats(ctx); err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"average_accuracy":"85"`) {
		t.Errorf("unexpected stats body: %s", rec.Body.String())
	}
}

func TestHandler_GroupsAndMentorships(t *testing.T) {
	f := newFixture(t)
	h, e := training.NewHandler(f.svc), echo.New()
	owner, joiner := uuid.New(), uuid.New()

	ctx, rec := newContext(e, http.MethodPost, `{"name":"Night shift","max_members":2}`, owner, auth.RolePatient)
	if err := h.CreateGroup(ctx); err != nil {
		t.Fatalf("CreateGroup error: %v", err)
	}
	var g training.StudyGroup
	_ = json.Unmarshal(rec.Body.Bytes(), &g)

	ctx, _ = newContext(e, http.MethodPost, "", joiner, auth.RolePatient)
	if err := h.JoinGroup(withID(ctx, g.ID)); err != nil {
		t.Fatalf("JoinGroup error: %v", err)
	}
	ctx, _ = newContext(e, http.MethodPost, "", uuid.New(), auth.RolePatient)
	expectStatus(t, h.JoinGroup(withID(ctx, g.ID)), http.StatusConflict)
	ctx, _ = newContext(e, http.MethodPost, "", owner, auth.RolePatient)
	expectStatus(t, h.LeaveGroup(withID(ctx, g.ID)), http.StatusConflict)

	ctx, rec = newContext(e, http.MethodPost, `{"mentor_id":"`+owner.String()+`"}`, joiner, auth.RolePatient)
	if err := h.RequestMentorship(ctx); err != nil {
		t.Fatalf("RequestMentorship error: %v", err)
	}
	var m training.Mentorship
	_ = json.Unmarshal(rec.Body.Bytes(), &m)

	ctx, _ = newContext(e, http.MethodPost, `{"status":"completed"}`, owner, auth.RolePatient)
	expectStatus(t, h.TransitionMentorship(withID(ctx, m.ID)), http.StatusConflict)
	ctx, rec = newContext(e, http.MethodPost, `{"status":"active"}`, owner, auth.RolePatient)
	if err := h.TransitionMentorship(withID(ctx, m.ID)); err != nil {
		t.Fatalf("TransitionMentorship error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"active"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	ctx, _ = newContext(e, http.MethodGet, "", uuid.New(), auth.RoleAdvocate)
	expectStatus(t, h.GetMentorship(withID(ctx, m.ID)), http.StatusForbidden)
}

func TestHandler_ExamHidesAnswers(t *testing.T) {
	f := newFixture(t)
	h, e := training.NewHandler(f.svc), echo.New()
	ctx, rec := newContext(e, http.MethodGet, "", uuid.New(), auth.RolePatient)
	if err := h.ListExams(ctx); err != nil {
		t.Fatalf("ListExams error: %v", err)
	}
	if strings.Contains(rec.Body.String(), `"answer_index":1`) {
		t.Errorf("answers leaked: %s", rec.Body.String())
	}
}
