package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repositories groups the stores the Service depends on.
type Repositories struct {
	TimeSlots    TimeSlotRepository
	Doctors      DoctorRepository
	WorkShifts   WorkShiftRepository
	Schedules    DoctorScheduleRepository
	Slots        SlotRepository
	Appointments AppointmentRepository
}

type Service struct {
	tx        Transactor
	grid      TimeSlotRepository
	doctors   DoctorRepository
	shifts    WorkShiftRepository
	schedules DoctorScheduleRepository
	slots     SlotRepository
	appts     AppointmentRepository
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(tx Transactor, repos Repositories, logger zerolog.Logger) *Service {
	return &Service{
		tx:        tx,
		grid:      repos.TimeSlots,
		doctors:   repos.Doctors,
		shifts:    repos.WorkShifts,
		schedules: repos.Schedules,
		slots:     repos.Slots,
		appts:     repos.Appointments,
		logger:    logger.With().Str("component", "scheduling").Logger(),
		now:       time.Now,
	}
}

// -- Time grid --

func (s *Service) ListTimeSlots(ctx context.Context) ([]TimeSlot, error) {
	return s.grid.List(ctx)
}

// SeedDefaultGrid persists the default grid when no grid exists and returns
// the grid in effect afterwards.
func (s *Service) SeedDefaultGrid(ctx context.Context) ([]TimeSlot, error) {
	grid, err := s.grid.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(grid) > 0 {
		return grid, nil
	}
	if err := s.grid.CreateBatch(ctx, DefaultGrid()); err != nil {
		return nil, fmt.Errorf("seed default grid: %w", err)
	}
	// Re-read: a concurrent seeder may have won some start times.
	grid, err = s.grid.List(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("slots", len(grid)).Msg("seeded default time grid")
	return grid, nil
}

// -- Work shifts --

func (s *Service) CreateWorkShift(ctx context.Context, ws *WorkShift) error {
	ws.Name = strings.TrimSpace(ws.Name)
	if err := ws.Validate(); err != nil {
		return err
	}
	return s.shifts.Create(ctx, ws)
}

func (s *Service) GetWorkShift(ctx context.Context, id uuid.UUID) (*WorkShift, error) {
	return s.shifts.GetByID(ctx, id)
}

func (s *Service) ListWorkShifts(ctx context.Context, activeOnly bool) ([]*WorkShift, error) {
	return s.shifts.List(ctx, activeOnly)
}

// -- Doctor schedules --

func (s *Service) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*DoctorSchedule, error) {
	if req.DoctorID == uuid.Nil {
		return nil, invalid("doctor_id is required")
	}
	if req.WorkShiftID == uuid.Nil {
		return nil, invalid("work_shift_id is required")
	}
	date, err := ParseDate(req.ScheduleDate)
	if err != nil {
		return nil, err
	}
	if _, err := s.doctors.GetByID(ctx, req.DoctorID); err != nil {
		return nil, err
	}
	shift, err := s.shifts.GetByID(ctx, req.WorkShiftID)
	if err != nil {
		return nil, err
	}
	if !shift.IsActive {
		return nil, invalid("work shift %q is not active", shift.Name)
	}

	if _, err := s.schedules.GetByDoctorAndDate(ctx, req.DoctorID, date); err == nil {
		return nil, ErrDuplicateSchedule
	} else if !isNotFound(err) {
		return nil, err
	}

	sched := &DoctorSchedule{
		DoctorID:     req.DoctorID,
		ScheduleDate: date,
		WorkShiftID:  req.WorkShiftID,
		Notes:        req.Notes,
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*DoctorSchedule, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(filter.From.Time) {
		return nil, invalid("date range end is before its start")
	}
	return s.schedules.List(ctx, filter)
}

// ListFutureSchedules returns schedules dated today or later.
func (s *Service) ListFutureSchedules(ctx context.Context, doctorID *uuid.UUID) ([]*DoctorSchedule, error) {
	today := DateOf(s.now())
	return s.schedules.List(ctx, ScheduleFilter{DoctorID: doctorID, From: &today})
}

// UpdateSchedule changes notes or the work shift. Changing the shift of a
// schedule with live appointments is a conflict.
func (s *Service) UpdateSchedule(ctx context.Context, id uuid.UUID, req UpdateScheduleRequest) (*DoctorSchedule, error) {
	var out *DoctorSchedule
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sched, err := s.schedules.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.WorkShiftID != nil && *req.WorkShiftID != sched.WorkShiftID {
			shift, err := s.shifts.GetByID(ctx, *req.WorkShiftID)
			if err != nil {
				return err
			}
			if !shift.IsActive {
				return invalid("work shift %q is not active", shift.Name)
			}
			if err := s.ensureNoLiveBookings(ctx, id); err != nil {
				return err
			}
			sched.WorkShiftID = shift.ID
		}
		if req.Notes != nil {
			sched.Notes = req.Notes
		}
		if err := s.schedules.Update(ctx, sched); err != nil {
			return err
		}
		out = sched
		return nil
	})
	return out, err
}

// DeleteSchedule removes a schedule and its slots. Schedules with live
// appointments cannot be deleted.
func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.schedules.GetByIDForUpdate(ctx, id); err != nil {
			return err
		}
		if err := s.ensureNoLiveBookings(ctx, id); err != nil {
			return err
		}
		n, err := s.slots.DeleteBySchedule(ctx, id)
		if err != nil {
			return err
		}
		if err := s.schedules.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Info().Str("schedule_id", id.String()).Int64("slots_deleted", n).Msg("deleted doctor schedule")
		return nil
	})
}

// ensureNoLiveBookings locks the schedule's slots and fails when any of them
// carries a pending or confirmed appointment. Must run inside a transaction.
func (s *Service) ensureNoLiveBookings(ctx context.Context, scheduleID uuid.UUID) error {
	if _, err := s.slots.LockBySchedule(ctx, scheduleID); err != nil {
		return err
	}
	live, err := s.appts.CountLiveBySchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if live > 0 {
		return ErrScheduleHasBookings
	}
	return nil
}

// -- Slot generation --

// GenerateSlots replaces the slots of a doctor schedule with the grid entries
// that fit its work shift. It fails with ErrScheduleHasBookings when the
// schedule has live appointments. Partial results are never visible.
func (s *Service) GenerateSlots(ctx context.Context, req GenerateSlotsRequest) ([]*AppointmentSlotSummary, error) {
	var date *Date
	if req.ScheduleDate != "" {
		d, err := ParseDate(req.ScheduleDate)
		if err != nil {
			return nil, err
		}
		date = &d
	}

	var out []*AppointmentSlotSummary
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		// Explicit references must exist before they are matched against the schedule.
		if req.DoctorID != uuid.Nil {
			if _, err := s.doctors.GetByID(ctx, req.DoctorID); err != nil {
				return err
			}
		}
		if req.WorkShiftID != uuid.Nil {
			if _, err := s.shifts.GetByID(ctx, req.WorkShiftID); err != nil {
				return err
			}
		}

		sched, err := s.schedules.GetByIDForUpdate(ctx, req.DoctorScheduleID)
		if err != nil {
			return err
		}
		if req.DoctorID != uuid.Nil && req.DoctorID != sched.DoctorID {
			return invalid("schedule %s does not belong to doctor %s", sched.ID, req.DoctorID)
		}
		if date != nil && !date.Equal(sched.ScheduleDate.Time) {
			return invalid("schedule %s is not dated %s", sched.ID, date)
		}
		if req.WorkShiftID != uuid.Nil && req.WorkShiftID != sched.WorkShiftID {
			return invalid("schedule %s does not use work shift %s", sched.ID, req.WorkShiftID)
		}

		doctor, err := s.doctors.GetByID(ctx, sched.DoctorID)
		if err != nil {
			return err
		}
		shift, err := s.shifts.GetByID(ctx, sched.WorkShiftID)
		if err != nil {
			return err
		}
		grid, err := s.SeedDefaultGrid(ctx)
		if err != nil {
			return err
		}

		if err := s.ensureNoLiveBookings(ctx, sched.ID); err != nil {
			return err
		}
		if _, err := s.slots.DeleteBySchedule(ctx, sched.ID); err != nil {
			return err
		}

		picked := GenerateSlots(shift, grid)
		slots := make([]*AppointmentSlot, len(picked))
		for i, ts := range picked {
			slots[i] = &AppointmentSlot{
				DoctorScheduleID: sched.ID,
				TimeSlotID:       ts.ID,
				DoctorID:         sched.DoctorID,
				IsAvailable:      true,
			}
		}
		if err := s.slots.CreateBatch(ctx, slots); err != nil {
			return err
		}

		out = make([]*AppointmentSlotSummary, len(slots))
		for i, slot := range slots {
			out[i] = &AppointmentSlotSummary{
				AppointmentSlot: *slot,
				ScheduleDate:    sched.ScheduleDate,
				StartTime:       picked[i].StartTime,
				EndTime:         picked[i].EndTime,
				DoctorName:      doctor.FullName,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("schedule_id", req.DoctorScheduleID.String()).
		Int("slots", len(out)).
		Msg("generated appointment slots")
	return out, nil
}

// -- Availability --

func (s *Service) ListSlotsBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*AppointmentSlotSummary, error) {
	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.slots.ListBySchedule(ctx, scheduleID)
}

// ListAvailableSlots returns the doctor's open slots on date, by start time.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]*AppointmentSlotSummary, error) {
	return s.listSlots(ctx, doctorID, date, true)
}

// ListAllSlots returns every slot of the doctor on date, booked or not.
func (s *Service) ListAllSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]*AppointmentSlotSummary, error) {
	return s.listSlots(ctx, doctorID, date, false)
}

func (s *Service) listSlots(ctx context.Context, doctorID uuid.UUID, date string, availableOnly bool) ([]*AppointmentSlotSummary, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.slots.ListByDoctorAndDate(ctx, doctorID, d, availableOnly)
}

// -- Booking --

// BookSlot claims the slot and records a pending appointment in one
// transaction. Of several concurrent bookings for one slot exactly one
// succeeds; the rest get ErrSlotAlreadyBooked.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*AppointmentSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.AppointmentType = strings.TrimSpace(req.AppointmentType)

	var out *AppointmentSummary
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetByID(ctx, req.SlotID)
		if err != nil {
			return err
		}
		claimed, err := s.slots.Claim(ctx, slot.ID)
		if err != nil {
			return err
		}
		if !claimed {
			// The slot may have been removed by a regeneration we waited on.
			if _, err := s.slots.GetByID(ctx, slot.ID); err != nil {
				return err
			}
			return ErrSlotAlreadyBooked
		}

		slotID := slot.ID
		appt := &Appointment{
			PatientID:         req.PatientID,
			DoctorID:          slot.DoctorID,
			AppointmentSlotID: &slotID,
			Status:            StatusPendingConfirmation,
			AppointmentType:   req.AppointmentType,
			Symptoms:          req.Symptoms,
			Notes:             req.Notes,
			IsAnonymous:       req.IsAnonymous,
			MedicalRecordID:   req.MedicalRecordID,
		}
		if err := s.appts.Create(ctx, appt); err != nil {
			return err
		}
		out, err = s.appts.GetSummary(ctx, appt.ID)
		return err
	})
	if err != nil {
		if isConflict(err) {
			s.logger.Info().Str("slot_id", req.SlotID.String()).Msg("booking lost race for slot")
		}
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", out.ID.String()).
		Str("slot_id", req.SlotID.String()).
		Msg("appointment booked")
	return out, nil
}

// -- Appointments --

// UpdateAppointmentStatus applies a state machine transition. Cancelling
// makes the appointment's slot available again.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, req StatusUpdateRequest) (*AppointmentSummary, error) {
	to, err := ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	reason := req.CancellationReason
	if to != StatusCancelled {
		reason = nil
	}

	var out *AppointmentSummary
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		appt, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition(appt.Status, to); err != nil {
			return err
		}
		moved, err := s.appts.TransitionStatus(ctx, id, appt.Status, to, reason)
		if err != nil {
			return err
		}
		if !moved {
			return ErrConcurrentUpdate
		}
		if to == StatusCancelled && appt.AppointmentSlotID != nil {
			if err := s.slots.Release(ctx, *appt.AppointmentSlotID); err != nil {
				return err
			}
		}
		out, err = s.appts.GetSummary(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("status", string(to)).
		Msg("appointment status changed")
	return out, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentSummary, error) {
	return s.appts.GetSummary(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, filter AppointmentFilter, limit, offset int) ([]*AppointmentSummary, int, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(filter.From.Time) {
		return nil, 0, invalid("date range end is before its start")
	}
	return s.appts.List(ctx, filter, limit, offset)
}

func (s *Service) CountAppointmentsByStatus(ctx context.Context, status Status) (int, error) {
	return s.appts.CountByStatus(ctx, status)
}
