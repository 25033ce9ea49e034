package availability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	l, _, _ := newTestLedger()
	return NewHandler(l), echo.New()
}

func newDayContext(e *echo.Echo, method, body, cg, date, actor string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	req = req.WithContext(auth.WithActor(req.Context(), actor, roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "date")
	c.SetParamValues(cg, date)
	return c, rec
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestHandler_GetAvailability_NoneDeclared(t *testing.T) {
	h, e := newTestHandler()
	c, rec := newDayContext(e, http.MethodGet, "", uuid.New().String(), "2026-10-22", "r-1", auth.RoleRequester)

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Kind != StatusNoneDeclared {
		t.Errorf("expected none_declared, got %s", st.Kind)
	}
}

func TestHandler_GetAvailability_LongFormDate(t *testing.T) {
	h, e := newTestHandler()
	c, rec := newDayContext(e, http.MethodGet, "", uuid.New().String(), "Thứ Năm, 22 tháng 10, 2026", "r-1", auth.RoleRequester)
	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"date":"2026-10-22"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetAvailability_BadParams(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newDayContext(e, http.MethodGet, "", "not-a-uuid", "2026-10-22", "r-1")
	expectHTTPStatus(t, h.GetAvailability(c), http.StatusBadRequest)

	c, _ = newDayContext(e, http.MethodGet, "", uuid.New().String(), "22/10/2026", "r-1")
	expectHTTPStatus(t, h.GetAvailability(c), http.StatusBadRequest)
}

func TestHandler_SetAvailability_Own(t *testing.T) {
	h, e := newTestHandler()
	cg := uuid.New().String()
	c, rec := newDayContext(e, http.MethodPut, `{"busy":[{"start":"08:00","end":"09:30"}]}`, cg, "2026-10-22", cg, auth.RoleCaregiver)

	if err := h.SetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"start":"08:00","end":"09:30","origin":"manual_busy"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_SetAvailability_OtherCaregiverForbidden(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newDayContext(e, http.MethodPut, `{"full_day_free":true}`, uuid.New().String(), "2026-10-22", uuid.New().String(), auth.RoleCaregiver)
	expectHTTPStatus(t, h.SetAvailability(c), http.StatusForbidden)
}

func TestHandler_SetAvailability_AdminAllowed(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newDayContext(e, http.MethodPut, `{"full_day_free":true}`, uuid.New().String(), "2026-10-22", "ops", auth.RoleAdmin)
	if err := h.SetAvailability(c); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHandler_SetAvailability_OverlapsBooking(t *testing.T) {
	h, e := newTestHandler()
	cg := uuid.New()
	appt := uuid.New()
	if _, err := h.ledger.AddBookingHold(context.Background(), cg, testDate, span(t, "09:30", "11:00"), appt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ := newDayContext(e, http.MethodPut, `{"busy":[{"start":"09:00","end":"10:00"}]}`, cg.String(), "2026-10-22", cg.String(), auth.RoleCaregiver)
	err := h.SetAvailability(c)
	expectHTTPStatus(t, err, http.StatusUnprocessableEntity)
	if body, ok := err.(*echo.HTTPError).Message.(*apperr.Error); !ok || body.Kind != apperr.OverlapsBooking {
		t.Errorf("expected OverlapsBooking body, got %#v", err.(*echo.HTTPError).Message)
	}
}

func TestHandler_SetAvailability_BadBody(t *testing.T) {
	h, e := newTestHandler()
	cg := uuid.New().String()
	c, _ := newDayContext(e, http.MethodPut, `{"busy":[{"start":"8am","end":"09:00"}]}`, cg, "2026-10-22", cg, auth.RoleCaregiver)
	expectHTTPStatus(t, h.SetAvailability(c), http.StatusBadRequest)
}
