package record

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/intraop/intraop/internal/platform/auth"
	"github.com/intraop/intraop/internal/platform/notecrypt"
	"github.com/intraop/intraop/pkg/pagination"
)

// Handler exposes the record lifecycle endpoints.
type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the record endpoints. writeGuard protects the
// documentation writes, adminGuard protects deletion; reads are open to
// any authenticated clinical user.
func (h *Handler) RegisterRoutes(g *echo.Group, writeGuard, adminGuard echo.MiddlewareFunc) {
	g.POST("/records", h.Create, writeGuard)
	g.GET("/records", h.ListBySurgery)
	g.GET("/records/:id", h.Get)
	g.PUT("/records/:id/sections/:section", h.UpdateSection, writeGuard)
	g.PUT("/records/:id/notes", h.UpdateNotes, writeGuard)
	g.POST("/records/:id/close", h.Close, writeGuard)
	g.POST("/records/:id/amend", h.Amend, writeGuard)
	g.DELETE("/records/:id", h.Delete, adminGuard)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := h.service.Create(c.Request().Context(), in)
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListBySurgery(c echo.Context) error {
	surgeryID, err := uuid.Parse(c.QueryParam("surgery_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "surgery_id query parameter is required")
	}

	params := pagination.FromContext(c)
	records, total, err := h.service.ListBySurgery(c.Request().Context(), surgeryID, params.Limit, params.Offset)
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	rec, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdateSection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	section := c.Param("section")
	if err := h.service.UpdateSection(c.Request().Context(), id, section, body, auth.SessionID(c)); err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated", "section": section})
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.service.UpdateNotes(c.Request().Context(), id, body.Notes, auth.SessionID(c)); err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) Close(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	rec, err := h.service.Close(c.Request().Context(), id, auth.ActorID(c), auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Amend(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in AmendInput
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := h.service.Amend(c.Request().Context(), id, in, auth.ActorID(c), auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	if err := h.service.Delete(c.Request().Context(), id, auth.ActorID(c)); err != nil {
		return h.toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrRecordClosed):
		return echo.NewHTTPError(http.StatusLocked, err.Error())
	case errors.Is(err, notecrypt.ErrInvalidFormat):
		h.logger.Error().Err(err).Msg("stored note payload is malformed")
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "stored note payload is malformed")
	case errors.Is(err, notecrypt.ErrAuthenticationFailed):
		h.logger.Error().Err(err).Msg("stored note failed decryption")
		return echo.NewHTTPError(http.StatusInternalServerError, "note decryption failed")
	default:
		h.logger.Error().Err(err).Msg("record request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
