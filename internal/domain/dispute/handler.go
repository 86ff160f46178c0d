package dispute

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/domain/analysis"
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
	b.POST("/:id/documents", h.CreateDocument)
	b.GET("/:id/documents", h.ListDocuments)

	d := api.Group("/documents", role)
	d.GET("/:id", h.GetDocument)
	d.PUT("/:id", h.UpdateDocument)
	d.POST("/:id/finalize", h.Finalize)
	d.POST("/:id/reopen", h.Reopen)
	d.POST("/:id/send", h.Send)
	d.POST("/:id/delivered", h.MarkDelivered)
	d.POST("/:id/response", h.RecordResponse)
	d.GET("/:id/pdf", h.DownloadPDF)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrNoPDF):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict), errors.Is(err, ErrDocumentLocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStrategyMismatch), errors.Is(err, ErrDeliveryMethod):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, analysis.ErrStrategyNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
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

func (h *Handler) load(c echo.Context, write bool) (*Document, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	d, err := h.svc.AccessibleDocument(c.Request().Context(), id, write)
	if err != nil {
		return nil, httpError(err)
	}
	return d, nil
}

func (h *Handler) CreateDocument(c echo.Context) error {
	b, err := h.loadBill(c, true)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.CreateDocument(c.Request().Context(), b.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDocuments(c echo.Context) error {
	b, err := h.loadBill(c, false)
	if err != nil {
		return err
	}
	items, err := h.svc.ListDocuments(c.Request().Context(), b.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetDocument(c echo.Context) error {
	d, err := h.load(c, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDocument(c echo.Context) error {
	d, err := h.load(c, true)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateDocument(c.Request().Context(), d.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Finalize(c echo.Context) error {
	d, err := h.load(c, true)
	if err != nil {
		return err
	}
	updated, err := h.svc.Finalize(c.Request().Context(), d.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Reopen(c echo.Context) error {
	d, err := h.load(c, true)
	if err != nil {
		return err
	}
	updated, err := h.svc.Reopen(c.Request().Context(), d.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Send(c echo.Context) error {
	d, err := h.load(c, true)
	if err != nil {
		return err
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Send(c.Request().Context(), d.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) MarkDelivered(c echo.Context) error {
	d, err := h.load(c, true)
	if err != nil {
		return err
	}
	updated, err := h.svc.MarkDelivered(c.Request().Context(), d.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) RecordResponse(c echo.Context) error {
	d, err := h.load(c, true)
	if err != nil {
		return err
	}
	var req ResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.RecordResponse(c.Request().Context(), d.ID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DownloadPDF(c echo.Context) error {
	d, err := h.load(c, false)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.OpenPDF(c.Request().Context(), d.ID)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+d.ID.String()+`.pdf"`)
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}
