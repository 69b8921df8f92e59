package chart

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/intraop/intraop/internal/domain/record"
	"github.com/intraop/intraop/internal/platform/auth"
)

// Handler exposes the snapshot and point mutation endpoints.
type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the chart endpoints under /records/:id/chart.
// writeGuard is applied to every mutating route; reads are open to any
// authenticated clinical user.
func (h *Handler) RegisterRoutes(g *echo.Group, writeGuard echo.MiddlewareFunc) {
	g.GET("/records/:id/chart", h.GetSnapshot)

	g.POST("/records/:id/chart/vitals/:type", h.AddVital, writeGuard)
	g.PATCH("/records/:id/chart/vitals/points/:pointId", h.UpdateVital, writeGuard)
	g.DELETE("/records/:id/chart/vitals/:type/points/:pointId", h.DeleteVital, writeGuard)

	g.POST("/records/:id/chart/blood-pressure", h.AddBloodPressure, writeGuard)
	g.PATCH("/records/:id/chart/blood-pressure/points/:pointId", h.UpdateBloodPressure, writeGuard)
	g.DELETE("/records/:id/chart/blood-pressure/points/:pointId", h.DeleteBloodPressure, writeGuard)

	g.POST("/records/:id/chart/rhythm", h.AddRhythm, writeGuard)
	g.POST("/records/:id/chart/train-of-four", h.AddTrainOfFour, writeGuard)
	g.POST("/records/:id/chart/ventilation", h.AddVentilation, writeGuard)
	g.POST("/records/:id/chart/ventilation/bulk", h.AddVentilationBulk, writeGuard)
	g.PATCH("/records/:id/chart/observations/:pointId", h.UpdateObservation, writeGuard)
	g.DELETE("/records/:id/chart/observations/:pointId", h.DeleteObservation, writeGuard)

	g.POST("/records/:id/chart/outputs/:param", h.AddOutput, writeGuard)
	g.PATCH("/records/:id/chart/outputs/points/:pointId", h.UpdateOutput, writeGuard)
	g.DELETE("/records/:id/chart/outputs/:param/points/:pointId", h.DeleteOutput, writeGuard)
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	snap, err := h.service.Get(c.Request().Context(), recordID)
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) AddVital(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in VitalInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddVital(c.Request().Context(), recordID, c.Param("type"), in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) UpdateVital(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	var upd VitalUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.UpdateVital(c.Request().Context(), recordID, pointID, upd, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) DeleteVital(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	snap, err := h.service.DeleteVital(c.Request().Context(), recordID, c.Param("type"), pointID, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) AddBloodPressure(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in BloodPressureInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddBloodPressure(c.Request().Context(), recordID, in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) UpdateBloodPressure(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	var upd BloodPressureUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.UpdateBloodPressure(c.Request().Context(), recordID, pointID, upd, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) DeleteBloodPressure(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	snap, err := h.service.DeleteBloodPressure(c.Request().Context(), recordID, pointID, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) AddRhythm(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in RhythmInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddRhythm(c.Request().Context(), recordID, in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) AddTrainOfFour(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in TrainOfFourInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddTrainOfFour(c.Request().Context(), recordID, in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) AddVentilation(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in VentilationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddVentilation(c.Request().Context(), recordID, in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) AddVentilationBulk(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in VentilationBulkInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddVentilationBulk(c.Request().Context(), recordID, in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) UpdateObservation(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	var upd ObservationUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.UpdateObservation(c.Request().Context(), recordID, pointID, upd, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) DeleteObservation(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	snap, err := h.service.DeleteObservation(c.Request().Context(), recordID, pointID, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) AddOutput(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	var in OutputInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.AddOutput(c.Request().Context(), recordID, c.Param("param"), in, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) UpdateOutput(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	var upd OutputUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := h.service.UpdateOutput(c.Request().Context(), recordID, pointID, upd, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) DeleteOutput(c echo.Context) error {
	recordID, pointID, err := h.pathIDs(c)
	if err != nil {
		return err
	}

	snap, err := h.service.DeleteOutput(c.Request().Context(), recordID, c.Param("param"), pointID, auth.SessionID(c))
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) pathIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	pointID, err := uuid.Parse(c.Param("pointId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid point id")
	}
	return recordID, pointID, nil
}

func (h *Handler) toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, record.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, record.ErrRecordClosed):
		return echo.NewHTTPError(http.StatusLocked, err.Error())
	default:
		h.logger.Error().Err(err).Msg("chart request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
