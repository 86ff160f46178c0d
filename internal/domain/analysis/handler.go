package analysis

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	bills *bill.Service
}

func NewHandler(svc *Service, bills *bill.Service) *Handler {
	return &Handler{svc: svc, bills: bills}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole(auth.RolePatient, auth.RoleAdvocate)

	b := api.Group("/bills", role)
	b.POST("/:id/analysis", h.RunAnalysis)
	b.GET("/:id/analysis", h.GetAnalysis)
	b.GET("/:id/strategies", h.ListStrategies)

	s := api.Group("/strategies", role)
	s.GET("/:id", h.GetStrategy)
	s.POST("/:id/status", h.TransitionStrategy)
	s.PUT("/:id/steps/:order", h.UpdateStep)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAnalysisNotFound), errors.Is(err, ErrStrategyNotFound), errors.Is(err, ErrStepNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAnalysisExists), errors.Is(err, ErrInvalidStrategyTransition), errors.Is(err, ErrStrategyConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoExtractedData):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return bill.HTTPError(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) loadBill(c echo.Context, write bool) (*bill.MedicalBill, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	b, err := h.bills.GetAccessible(c.Request().Context(), id, write)
	if err != nil {
		return nil, bill.HTTPError(err)
	}
	return b, nil
}

func (h *Handler) loadStrategy(c echo.Context, write bool) (*Strategy, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	st, err := h.svc.AccessibleStrategy(c.Request().Context(), id, write)
	if err != nil {
		return nil, httpError(err)
	}
	return st, nil
}

type analysisResponse struct {
	Analysis   *Result     `json:"analysis"`
	Strategies []*Strategy `json:"strategies"`
}

// RunAnalysis analyzes the bill. ?replace=true re-runs an existing analysis.
func (h *Handler) RunAnalysis(c echo.Context) error {
	b, err := h.loadBill(c, true)
	if err != nil {
		return err
	}
	replace, _ := strconv.ParseBool(c.QueryParam("replace"))
	result, strategies, err := h.svc.RunAnalysis(c.Request().Context(), b.ID, replace)
	if err != nil {
		return httpError(err)
	}
	if strategies == nil {
		strategies = []*Strategy{}
	}
	return c.JSON(http.StatusCreated, analysisResponse{Analysis: result, Strategies: strategies})
}

func (h *Handler) GetAnalysis(c echo.Context) error {
	b, err := h.loadBill(c, false)
	if err != nil {
		return err
	}
	result, err := h.svc.GetAnalysis(c.Request().Context(), b.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListStrategies(c echo.Context) error {
	b, err := h.loadBill(c, false)
	if err != nil {
		return err
	}
	items, err := h.svc.ListStrategies(c.Request().Context(), b.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetStrategy(c echo.Context) error {
	st, err := h.loadStrategy(c, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

type transitionRequest struct {
	Status StrategyStatus `json:"status"`
}

func (h *Handler) TransitionStrategy(c echo.Context) error {
	st, err := h.loadStrategy(c, true)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.TransitionStrategy(c.Request().Context(), st.ID, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type stepRequest struct {
	Completed bool `json:"completed"`
}

func (h *Handler) UpdateStep(c echo.Context) error {
	st, err := h.loadStrategy(c, true)
	if err != nil {
		return err
	}
	order, err := strconv.Atoi(c.Param("order"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid step order")
	}
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.SetStepCompleted(c.Request().Context(), st.ID, order, req.Completed)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}
