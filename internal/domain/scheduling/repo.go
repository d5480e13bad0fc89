package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Transactor runs fn in a transaction; repositories called with the context
// passed to fn take part in it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type TimeSlotRepository interface {
	// List returns the grid ordered by start time.
	List(ctx context.Context) ([]TimeSlot, error)
	// CreateBatch inserts slots, assigning IDs, and skips start times that already exist.
	CreateBatch(ctx context.Context, slots []TimeSlot) error
}

// DoctorRepository reads doctors from the user directory.
type DoctorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

type WorkShiftRepository interface {
	Create(ctx context.Context, ws *WorkShift) error
	GetByID(ctx context.Context, id uuid.UUID) (*WorkShift, error)
	List(ctx context.Context, activeOnly bool) ([]*WorkShift, error)
}

type DoctorScheduleRepository interface {
	Create(ctx context.Context, s *DoctorSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error)
	// GetByIDForUpdate row-locks the schedule until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error)
	GetByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date Date) (*DoctorSchedule, error)
	Update(ctx context.Context, s *DoctorSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ScheduleFilter) ([]*DoctorSchedule, error)
}

type SlotRepository interface {
	CreateBatch(ctx context.Context, slots []*AppointmentSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error)
	// LockBySchedule row-locks every slot of a schedule.
	LockBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*AppointmentSlot, error)
	DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) (int64, error)
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*AppointmentSlotSummary, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date Date, availableOnly bool) ([]*AppointmentSlotSummary, error)
	// Claim marks an available slot unavailable. It reports false when the
	// slot was already unavailable or does not exist.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetSummary(ctx context.Context, id uuid.UUID) (*AppointmentSummary, error)
	// TransitionStatus moves the appointment from one status to another. It
	// reports false when the appointment is no longer in status from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (bool, error)
	CountLiveBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error)
	List(ctx context.Context, filter AppointmentFilter, limit, offset int) ([]*AppointmentSummary, int, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
}
