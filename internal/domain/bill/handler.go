package bill

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/blobstore"
	"github.com/medbill/medbill/internal/platform/query"
	"github.com/medbill/medbill/internal/platform/validation"
	"github.com/medbill/medbill/pkg/pagination"
)

// manualTargets are the statuses a user may set directly. The analysis
// states are driven by the analyzer.
var manualTargets = map[Status]bool{
	StatusDisputed: true,
	StatusResolved: true,
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/bills", auth.RequireRole(auth.RolePatient, auth.RoleAdvocate))
	g.POST("", h.CreateBill)
	g.GET("", h.ListBills)
	g.GET("/:id", h.GetBill)
	g.PUT("/:id", h.UpdateBill)
	g.DELETE("/:id", h.DeleteBill)
	g.PUT("/:id/extracted-data", h.SetExtractedData)
	g.POST("/:id/status", h.TransitionBill)
	g.POST("/:id/file", h.UploadFile)
	g.GET("/:id/file", h.DownloadFile)
}

// HTTPError translates bill errors into HTTP errors. Other packages fall back
// to it for errors bubbling up from the bill service.
func HTTPError(err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr), errors.Is(err, ErrInvalidExtractedData):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrBillNotFound), errors.Is(err, ErrNoFile):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrBillImmutable), errors.Is(err, ErrStatusConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnsupportedFileType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
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

func (h *Handler) load(c echo.Context, write bool) (*MedicalBill, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	b, err := h.svc.GetAccessible(c.Request().Context(), id, write)
	if err != nil {
		return nil, HTTPError(err)
	}
	return b, nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	userID, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBill(c.Request().Context(), userID, req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	b, err := h.load(c, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// ListBills scopes patients to their own bills. Admins and advocates may
// filter by user_id.
func (h *Handler) ListBills(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	params := query.ParamsFromContext(c)
	if !auth.HasRole(ctx, auth.RoleAdvocate) {
		uid, ok := auth.UserUUIDFromContext(ctx)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		params["user_id"] = uid.String()
	}
	items, total, err := h.svc.SearchBills(ctx, params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return pagination.Write(c, http.StatusOK, pg, items, total)
}

func (h *Handler) UpdateBill(c echo.Context) error {
	b, err := h.load(c, true)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateBill(c.Request().Context(), b.ID, req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteBill(c echo.Context) error {
	b, err := h.load(c, true)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBill(c.Request().Context(), b.ID); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetExtractedData(c echo.Context) error {
	b, err := h.load(c, true)
	if err != nil {
		return err
	}
	var data ExtractedData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.SetExtractedData(c.Request().Context(), b.ID, &data)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type transitionRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) TransitionBill(c echo.Context) error {
	b, err := h.load(c, true)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !manualTargets[req.Status] {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			fmt.Sprintf("status %q cannot be set directly", req.Status))
	}
	updated, err := h.svc.Transition(c.Request().Context(), b.ID, req.Status)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) UploadFile(c echo.Context) error {
	b, err := h.load(c, true)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	if fh.Size > blobstore.MaxObjectSize {
		return HTTPError(blobstore.ErrFileTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, blobstore.MaxObjectSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = http.DetectContentType(data)
	}
	updated, err := h.svc.UploadFile(c.Request().Context(), b.ID, contentType, data)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DownloadFile(c echo.Context) error {
	b, err := h.load(c, false)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.OpenFile(c.Request().Context(), b.ID)
	if err != nil {
		return HTTPError(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}
