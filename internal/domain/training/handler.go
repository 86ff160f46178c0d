package training

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/validation"
	"github.com/medbill/medbill/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/training", auth.RequireRole(auth.RolePatient, auth.RoleAdvocate))
	admin := auth.RequireRole(auth.RoleAdmin)

	g.GET("/cases", h.ListCases)
	g.POST("/cases", h.CreateCase, admin)
	g.GET("/cases/:id", h.GetCase)
	g.POST("/cases/:id/attempts", h.RecordAttempt)

	g.GET("/progress", h.ListProgress)
	g.GET("/stats", h.GetStats)
	g.GET("/leaderboard", h.Leaderboard)
	g.GET("/achievements", h.ListAchievements)
	g.POST("/achievements", h.CreateAchievement, admin)
	g.GET("/achievements/mine", h.ListMyAchievements)

	g.POST("/groups", h.CreateGroup)
	g.GET("/groups", h.ListGroups)
	g.GET("/groups/:id", h.GetGroup)
	g.GET("/groups/:id/members", h.ListMembers)
	g.POST("/groups/:id/join", h.JoinGroup)
	g.POST("/groups/:id/leave", h.LeaveGroup)

	g.POST("/mentorships", h.RequestMentorship)
	g.GET("/mentorships", h.ListMentorships)
	g.GET("/mentorships/:id", h.GetMentorship)
	g.POST("/mentorships/:id/status", h.TransitionMentorship)

	g.POST("/exams", h.CreateExam, admin)
	g.GET("/exams", h.ListExams)
	g.GET("/exams/:id", h.GetExam)
	g.POST("/exams/:id/attempts", h.SubmitExam)
	g.GET("/exams/:id/attempts", h.ListExamAttempts)

	g.POST("/scenarios", h.CreateScenario, admin)
	g.GET("/scenarios", h.ListScenarios)
	g.GET("/scenarios/:id", h.GetScenario)
}

func httpError(err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr),
		errors.Is(err, ErrScoreOutOfRange), errors.Is(err, ErrAccuracyOutOfRange),
		errors.Is(err, ErrInvalidAnswers), errors.Is(err, ErrTimeLimitExceeded),
		errors.Is(err, ErrSelfMentorship):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrCaseNotFound), errors.Is(err, ErrScenarioNotFound), errors.Is(err, ErrExamNotFound),
		errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrMentorshipNotFound), errors.Is(err, ErrNotMember):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrGroupPrivate):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrGroupFull), errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrOwnerCannotLeave),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func caller(c echo.Context) (uuid.UUID, error) {
	uid, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return uid, nil
}

// -- Cases --

func (h *Handler) CreateCase(c echo.Context) error {
	var req CreateCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mc, err := h.svc.CreateCase(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, mc)
}

func (h *Handler) ListCases(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCases(ctx, c.QueryParam("specialty"), Difficulty(c.QueryParam("difficulty")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if !auth.IsAdmin(ctx) {
		for i, mc := range items {
			items[i] = mc.Redacted()
		}
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	mc, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !auth.IsAdmin(c.Request().Context()) {
		mc = mc.Redacted()
	}
	return c.JSON(http.StatusOK, mc)
}

func (h *Handler) RecordAttempt(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req AttemptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.RecordAttempt(c.Request().Context(), uid, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

// -- Progress, stats, achievements --

func (h *Handler) ListProgress(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListProgress(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetStats(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStats(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Leaderboard(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.svc.Leaderboard(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) ListAchievements(c echo.Context) error {
	items, err := h.svc.ListAchievements(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateAchievement(c echo.Context) error {
	var a Achievement
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateAchievement(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListMyAchievements(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListUserAchievements(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Study groups --

func (h *Handler) CreateGroup(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var req CreateGroupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.CreateGroup(c.Request().Context(), uid, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) ListGroups(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListGroups(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}

func (h *Handler) GetGroup(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	g, err := h.svc.GetGroup(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListMembers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMembers(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) JoinGroup(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.JoinGroup(c.Request().Context(), id, uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) LeaveGroup(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.LeaveGroup(c.Request().Context(), id, uid); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Mentorships --

func (h *Handler) RequestMentorship(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var req MentorshipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.RequestMentorship(c.Request().Context(), uid, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMentorships(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMentorships(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetMentorship(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.AccessibleMentorship(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) TransitionMentorship(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status MentorshipStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.TransitionMentorship(c.Request().Context(), id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// -- Board exams --

func (h *Handler) CreateExam(c echo.Context) error {
	var req CreateExamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.CreateExam(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListExams(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListExams(ctx, c.QueryParam("specialty"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if !auth.IsAdmin(ctx) {
		for i, e := range items {
			items[i] = e.Redacted()
		}
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}

func (h *Handler) GetExam(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetExam(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !auth.IsAdmin(c.Request().Context()) {
		e = e.Redacted()
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SubmitExam(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var sub ExamSubmission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.SubmitExam(c.Request().Context(), uid, id, sub)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListExamAttempts(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListExamAttempts(c.Request().Context(), uid, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Emergency scenarios --

func (h *Handler) CreateScenario(c echo.Context) error {
	var req CreateScenarioRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sc, err := h.svc.CreateScenario(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) ListScenarios(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListScenarios(c.Request().Context(), c.QueryParam("category"),
		Severity(c.QueryParam("severity")), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}

func (h *Handler) GetScenario(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sc, err := h.svc.GetScenario(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sc)
}
