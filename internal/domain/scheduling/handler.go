package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scheduling API on api. bookingMW runs on the
// booking endpoint only, after the role check.
func (h *Handler) RegisterRoutes(api *echo.Group, bookingMW ...echo.MiddlewareFunc) {
	read := api.Group("", auth.RequireAuthenticated())
	read.GET("/time-slots", h.ListTimeSlots)
	read.GET("/work-shifts", h.ListWorkShifts)
	read.GET("/work-shifts/:id", h.GetWorkShift)
	read.GET("/doctor-schedules", h.ListSchedules)
	read.GET("/doctor-schedules/future", h.ListFutureSchedules)
	read.GET("/doctor-schedules/:id", h.GetSchedule)
	read.GET("/doctor-schedules/:id/slots", h.ListScheduleSlots)
	read.GET("/doctors/:doctorId/slots", h.ListDoctorSlots)
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/count", h.CountAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	// Allowed roles depend on the target status; checked in the handler.
	read.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)

	manage := api.Group("", auth.RequireRole(RoleManager))
	manage.POST("/work-shifts", h.CreateWorkShift)
	manage.POST("/doctor-schedules", h.CreateSchedule)
	manage.PUT("/doctor-schedules/:id", h.UpdateSchedule)
	manage.DELETE("/doctor-schedules/:id", h.DeleteSchedule)
	manage.POST("/doctor-schedules/:id/slots", h.GenerateSlots)

	book := api.Group("", append([]echo.MiddlewareFunc{auth.RequireRole(BookingRoles...)}, bookingMW...)...)
	book.POST("/slots/:id/book", h.BookSlot)
}

// StatusClientClosedRequest is reported when the caller cancels the request
// before it completes. net/http has no constant for it.
const StatusClientClosedRequest = 499

// errorResponse maps domain errors onto HTTP statuses.
func errorResponse(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request timed out").SetInternal(err)
	case errors.Is(err, context.Canceled):
		// The client went away; the transaction was rolled back.
		return echo.NewHTTPError(StatusClientClosedRequest, "request cancelled").SetInternal(err)
	default:
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	var de *Error
	if errors.As(err, &de) {
		return echo.NewHTTPError(status, de.Msg)
	}
	return echo.NewHTTPError(status, err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func optionalDate(c echo.Context, name string) (*Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return nil, errorResponse(err)
	}
	return &d, nil
}

// -- Time grid & work shifts --

func (h *Handler) ListTimeSlots(c echo.Context) error {
	grid, err := h.svc.ListTimeSlots(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	if grid == nil {
		grid = []TimeSlot{}
	}
	return c.JSON(http.StatusOK, grid)
}

func (h *Handler) CreateWorkShift(c echo.Context) error {
	var ws WorkShift
	if err := c.Bind(&ws); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWorkShift(c.Request().Context(), &ws); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, ws)
}

func (h *Handler) GetWorkShift(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ws, err := h.svc.GetWorkShift(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, ws)
}

func (h *Handler) ListWorkShifts(c echo.Context) error {
	activeOnly := c.QueryParam("all") != "true"
	items, err := h.svc.ListWorkShifts(c.Request().Context(), activeOnly)
	if err != nil {
		return errorResponse(err)
	}
	if items == nil {
		items = []*WorkShift{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Doctor schedules --

func (h *Handler) CreateSchedule(c echo.Context) error {
	var req CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := h.svc.CreateSchedule(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sched, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, sched)
}

// ListSchedules accepts doctor_id plus either date or from/to.
func (h *Handler) ListSchedules(c echo.Context) error {
	var f ScheduleFilter
	var err error
	if f.DoctorID, err = optionalUUID(c, "doctor_id"); err != nil {
		return err
	}
	if day, err := optionalDate(c, "date"); err != nil {
		return err
	} else if day != nil {
		f.From, f.To = day, day
	} else {
		if f.From, err = optionalDate(c, "from"); err != nil {
			return err
		}
		if f.To, err = optionalDate(c, "to"); err != nil {
			return err
		}
	}
	items, err := h.svc.ListSchedules(c.Request().Context(), f)
	if err != nil {
		return errorResponse(err)
	}
	if items == nil {
		items = []*DoctorSchedule{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListFutureSchedules(c echo.Context) error {
	doctorID, err := optionalUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListFutureSchedules(c.Request().Context(), doctorID)
	if err != nil {
		return errorResponse(err)
	}
	if items == nil {
		items = []*DoctorSchedule{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req UpdateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := h.svc.UpdateSchedule(c.Request().Context(), id, req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), id); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Slots --

func (h *Handler) GenerateSlots(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req GenerateSlotsRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	req.DoctorScheduleID = id
	slots, err := h.svc.GenerateSlots(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, slots)
}

func (h *Handler) ListScheduleSlots(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	slots, err := h.svc.ListSlotsBySchedule(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	if slots == nil {
		slots = []*AppointmentSlotSummary{}
	}
	return c.JSON(http.StatusOK, slots)
}

// ListDoctorSlots lists the doctor's slots on ?date=, only open ones unless
// ?available=false.
func (h *Handler) ListDoctorSlots(c echo.Context) error {
	doctorID, err := parseID(c, "doctorId")
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	availableOnly := true
	if raw := c.QueryParam("available"); raw != "" {
		if availableOnly, err = strconv.ParseBool(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid available")
		}
	}

	ctx := c.Request().Context()
	var slots []*AppointmentSlotSummary
	if availableOnly {
		slots, err = h.svc.ListAvailableSlots(ctx, doctorID, date)
	} else {
		slots, err = h.svc.ListAllSlots(ctx, doctorID, date)
	}
	if err != nil {
		return errorResponse(err)
	}
	if slots == nil {
		slots = []*AppointmentSlotSummary{}
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Booking & appointments --

// BookSlot books the slot in the path. Managers may book for any patient;
// everyone else books for themselves.
func (h *Handler) BookSlot(c echo.Context) error {
	slotID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.SlotID = slotID

	ctx := c.Request().Context()
	if !auth.HasAnyRole(auth.RolesFromContext(ctx), RoleManager) {
		self, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "caller is not a patient")
		}
		if req.PatientID == uuid.Nil {
			req.PatientID = self
		}
		if req.PatientID != self {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
		}
	}

	appt, err := h.svc.BookSlot(ctx, req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

// authorizeAppointment loads the appointment and checks that the caller may
// act on it. Managers and doctors see every appointment; patients only their
// own.
func (h *Handler) authorizeAppointment(ctx context.Context, id uuid.UUID) (*AppointmentSummary, error) {
	appt, err := h.svc.GetAppointment(ctx, id)
	if err != nil {
		return nil, errorResponse(err)
	}
	if auth.HasAnyRole(auth.RolesFromContext(ctx), RoleManager, RoleDoctor) {
		return appt, nil
	}
	self, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil || self != appt.PatientID {
		return nil, echo.NewHTTPError(http.StatusForbidden, "appointment belongs to another patient")
	}
	return appt, nil
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.authorizeAppointment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		return errorResponse(err)
	}
	ctx := c.Request().Context()
	if !auth.HasAnyRole(auth.RolesFromContext(ctx), RolesAllowedFor(target)...) {
		return echo.NewHTTPError(http.StatusForbidden, "role may not set status "+string(target))
	}
	if _, err := h.authorizeAppointment(ctx, id); err != nil {
		return err
	}

	appt, err := h.svc.UpdateAppointmentStatus(ctx, id, req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func appointmentFilter(c echo.Context) (AppointmentFilter, error) {
	var f AppointmentFilter
	var err error
	if f.PatientID, err = optionalUUID(c, "patient_id"); err != nil {
		return f, err
	}
	if f.DoctorID, err = optionalUUID(c, "doctor_id"); err != nil {
		return f, err
	}
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return f, errorResponse(err)
		}
		f.Status = &st
	}
	if f.From, err = optionalDate(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = optionalDate(c, "to"); err != nil {
		return f, err
	}
	return f, nil
}

// ListAppointments pages through appointments. Patients only see their own.
func (h *Handler) ListAppointments(c echo.Context) error {
	f, err := appointmentFilter(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	roles := auth.RolesFromContext(ctx)
	if !auth.HasAnyRole(roles, RoleManager, RoleDoctor) {
		self, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "caller is not a patient")
		}
		f.PatientID = &self
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CountAppointments(c echo.Context) error {
	raw := c.QueryParam("status")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return errorResponse(err)
	}
	n, err := h.svc.CountAppointmentsByStatus(c.Request().Context(), st)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": st, "count": n})
}
