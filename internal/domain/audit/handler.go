package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/intraop/intraop/pkg/pagination"
)

// Handler exposes the read side of the amendment trail.
type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/records/:id/audit", h.ListByRecord)
}

func (h *Handler) ListByRecord(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	params := pagination.FromContext(c)
	entries, total, err := h.service.ListByRecord(c.Request().Context(), recordID, params.Limit, params.Offset)
	if err != nil {
		h.logger.Error().Err(err).Str("record_id", recordID.String()).Msg("list audit entries failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, params.Limit, params.Offset))
}
