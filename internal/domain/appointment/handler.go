package appointment

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/pkg/pagination"
	"github.com/careflow/careflow/pkg/timewindow"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	parties := api.Group("", auth.RequireRole(auth.RoleRequester, auth.RoleCaregiver))
	parties.GET("/appointments", h.ListAppointments)
	parties.GET("/appointments/:id", h.GetAppointment)
	parties.GET("/appointments/:id/history", h.History)
	parties.POST("/appointments/:id/transitions", h.Transition)

	requesters := api.Group("", auth.RequireRole(auth.RoleRequester))
	requesters.POST("/appointments", h.CreateAppointment)

	caregivers := api.Group("", auth.RequireRole(auth.RoleCaregiver))
	caregivers.GET("/appointments/:id/start-conflict", h.CheckStartConflict)
	caregivers.PATCH("/appointments/:id/tasks/:taskId", h.UpdateTask)
}

// -- Access --

func isAdmin(ctx context.Context) bool {
	return auth.HasRole(auth.RolesFromContext(ctx), auth.RoleAdmin)
}

// party reports whether the current actor is the requester or the caregiver
// of a. Admins are party to everything.
func party(ctx context.Context, a *Appointment) (requester, caregiver bool) {
	if isAdmin(ctx) {
		return true, true
	}
	actor := auth.ActorFromContext(ctx)
	return actor == a.RequesterID.String(), actor == a.CaregiverID.String()
}

// caregiverMoves are the targets only the assigned caregiver may request.
var caregiverMoves = map[Status]bool{
	StatusConfirmed:  true,
	StatusRejected:   true,
	StatusInProgress: true,
	StatusCompleted:  true,
}

var errNotParty = echo.NewHTTPError(http.StatusForbidden, "not a party to this appointment")

func (h *Handler) load(c echo.Context) (*Appointment, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	req, cg := party(c.Request().Context(), a)
	if !req && !cg {
		return nil, errNotParty
	}
	return a, nil
}

// -- Handlers --

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.New(apperr.InvalidFormat, "invalid request body"))
	}
	ctx := c.Request().Context()
	if !isAdmin(ctx) {
		actor, err := uuid.Parse(auth.ActorFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "actor is not a requester id")
		}
		if req.RequesterID != uuid.Nil && req.RequesterID != actor {
			return echo.NewHTTPError(http.StatusForbidden, "appointments can only be booked for yourself")
		}
		req.RequesterID = actor
	}
	a, err := h.svc.CreateAppointment(ctx, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func parseUUIDQuery(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.HTTPError(apperr.New(apperr.InvalidFormat, "invalid %s", name))
	}
	return &id, nil
}

func parseDateQuery(c echo.Context, name string) (*timewindow.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	d, err := timewindow.ParseCivilDate(v)
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	return &d, nil
}

// ListAppointments returns the caller's appointments. Non-admins only see
// appointments they are a party to.
func (h *Handler) ListAppointments(c echo.Context) error {
	var (
		f   Filter
		err error
	)
	if f.RequesterID, err = parseUUIDQuery(c, "requester_id"); err != nil {
		return err
	}
	if f.CaregiverID, err = parseUUIDQuery(c, "caregiver_id"); err != nil {
		return err
	}
	if f.From, err = parseDateQuery(c, "from"); err != nil {
		return err
	}
	if f.To, err = parseDateQuery(c, "to"); err != nil {
		return err
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return apperr.HTTPError(apperr.New(apperr.InvalidFormat, "unknown status %q", v))
		}
		f.Status = &st
	}

	ctx := c.Request().Context()
	if !isAdmin(ctx) {
		actor := auth.ActorFromContext(ctx)
		own := (f.RequesterID != nil && f.RequesterID.String() == actor) ||
			(f.CaregiverID != nil && f.CaregiverID.String() == actor)
		if !own {
			if f.RequesterID != nil || f.CaregiverID != nil {
				return errNotParty
			}
			id, err := uuid.Parse(actor)
			if err != nil {
				return errNotParty
			}
			if auth.HasRole(auth.RolesFromContext(ctx), auth.RoleRequester) {
				f.RequesterID = &id
			} else {
				f.CaregiverID = &id
			}
		}
	}

	p := pagination.FromContext(c)
	f.Limit, f.Offset = p.Limit, p.Offset
	items, total, err := h.svc.ListAppointments(ctx, f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	resp := pagination.NewResponse(items, total, p)
	resp.Links = p.Links(c.Request().URL.Path, c.QueryParams(), total)
	return c.JSON(http.StatusOK, resp)
}

type transitionRequest struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

// Transition moves an appointment. Accepting, rejecting, starting and
// completing belong to the caregiver; either party may cancel.
func (h *Handler) Transition(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.New(apperr.InvalidFormat, "invalid request body"))
	}
	if !req.Status.Valid() {
		return apperr.HTTPError(apperr.New(apperr.InvalidFormat, "unknown status %q", req.Status))
	}

	ctx := c.Request().Context()
	if _, cg := party(ctx, a); caregiverMoves[req.Status] && !cg {
		return echo.NewHTTPError(http.StatusForbidden, "only the assigned caregiver can do this")
	}
	updated, err := h.svc.Transition(ctx, a.ID, req.Status, auth.ActorFromContext(ctx), req.Reason)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type startConflictResponse struct {
	Conflict *StartConflict `json:"conflict"`
	CanStart bool           `json:"can_start"`
}

func (h *Handler) CheckStartConflict(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	conflict, err := h.svc.CheckStartConflict(c.Request().Context(), a.ID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, startConflictResponse{Conflict: conflict, CanStart: conflict == nil})
}

type taskRequest struct {
	Completed bool `json:"completed"`
}

func (h *Handler) UpdateTask(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	if _, cg := party(c.Request().Context(), a); !cg {
		return echo.NewHTTPError(http.StatusForbidden, "only the assigned caregiver can update tasks")
	}
	var req taskRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.New(apperr.InvalidFormat, "invalid request body"))
	}
	updated, err := h.svc.UpdateTask(c.Request().Context(), a.ID, c.Param("taskId"), req.Completed)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) History(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	records, err := h.svc.History(c.Request().Context(), a.ID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": records, "total": len(records)})
}
