package chat

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat/sessions", auth.RequireRole(auth.RolePatient, auth.RoleAdvocate))
	g.POST("", h.CreateSession)
	g.GET("", h.ListSessions)
	g.GET("/:id", h.GetSession)
	g.DELETE("/:id", h.DeleteSession)
	g.POST("/:id/messages", h.AddMessage)
	g.GET("/:id/messages", h.ListMessages)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrEmptyContent), errors.Is(err, ErrInvalidMetadata):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return bill.HTTPError(err)
}

func (h *Handler) load(c echo.Context) (*Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sess, err := h.svc.AccessibleSession(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	return sess, nil
}

func (h *Handler) CreateSession(c echo.Context) error {
	userID, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.CreateSession(c.Request().Context(), userID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// ListSessions always lists the caller's own sessions.
func (h *Handler) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()
	userID, ok := auth.UserUUIDFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSessions(ctx, userID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) DeleteSession(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSession(c.Request().Context(), sess.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddMessage(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return err
	}
	var req AddMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.svc.AddMessage(c.Request().Context(), sess.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) ListMessages(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMessages(c.Request().Context(), sess.ID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}
