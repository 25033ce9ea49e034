package availability

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/pkg/timewindow"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleRequester, auth.RoleCaregiver))
	read.GET("/caregivers/:id/availability/:date", h.GetAvailability)

	write := api.Group("", auth.RequireRole(auth.RoleCaregiver))
	write.PUT("/caregivers/:id/availability/:date", h.SetAvailability)
}

func parseDayParams(c echo.Context) (uuid.UUID, timewindow.Date, error) {
	cg, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, timewindow.Date{}, echo.NewHTTPError(http.StatusBadRequest, "invalid caregiver id")
	}
	date, err := timewindow.ParseCivilDate(c.Param("date"))
	if err != nil {
		return uuid.Nil, timewindow.Date{}, apperr.HTTPError(err)
	}
	return cg, date, nil
}

func (h *Handler) GetAvailability(c echo.Context) error {
	cg, date, err := parseDayParams(c)
	if err != nil {
		return err
	}
	st, err := h.ledger.StatusForDate(c.Request().Context(), cg, date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// SetAvailability lets a caregiver edit their own calendar. Admins may edit
// anyone's.
func (h *Handler) SetAvailability(c echo.Context) error {
	cg, date, err := parseDayParams(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !auth.HasRole(auth.RolesFromContext(ctx), auth.RoleAdmin) && auth.ActorFromContext(ctx) != cg.String() {
		return echo.NewHTTPError(http.StatusForbidden, "caregivers may only edit their own availability")
	}

	var req SetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.ledger.SetAvailability(ctx, cg, date, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}
