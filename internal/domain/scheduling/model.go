package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClockTime is a time of day with minute precision, stored as minutes past midnight.
type ClockTime int

const minutesPerDay = 24 * 60

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime accepts "15:04" or "15:04:05"; seconds must be zero.
func ParseClockTime(s string) (ClockTime, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, invalid("invalid time of day %q, expected HH:MM", s)
	}
	if t.Second() != 0 {
		return 0, invalid("time of day %q must be a whole minute", s)
	}
	return NewClockTime(t.Hour(), t.Minute()), nil
}

func (t ClockTime) Hour() int   { return int(t) / 60 }
func (t ClockTime) Minute() int { return int(t) % 60 }

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t ClockTime) Add(d time.Duration) ClockTime {
	return t + ClockTime(d/time.Minute)
}

// Sub returns the duration t-u.
func (t ClockTime) Sub(u ClockTime) time.Duration {
	return time.Duration(t-u) * time.Minute
}

func (t ClockTime) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return invalid("time of day must be a string")
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

const DateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day component.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, invalid("invalid date %q, expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return invalid("date must be a string")
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// TimeSlot is one entry of the global time grid.
type TimeSlot struct {
	ID        uuid.UUID `json:"id"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
}

func (ts TimeSlot) Duration() time.Duration { return ts.EndTime.Sub(ts.StartTime) }

type Doctor struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Specialty *string   `json:"specialty,omitempty"`
	Active    bool      `json:"active"`
}

type WorkShift struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	StartTime   ClockTime  `json:"start_time"`
	EndTime     ClockTime  `json:"end_time"`
	BreakStart  *ClockTime `json:"break_start,omitempty"`
	BreakEnd    *ClockTime `json:"break_end,omitempty"`
	Description *string    `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (ws *WorkShift) HasBreak() bool {
	return ws.BreakStart != nil && ws.BreakEnd != nil
}

// Validate checks start < end and, when a break is set, that it is a
// non-empty window inside the shift.
func (ws *WorkShift) Validate() error {
	if strings.TrimSpace(ws.Name) == "" {
		return invalid("name is required")
	}
	if !ws.StartTime.Valid() || !ws.EndTime.Valid() {
		return invalid("shift times must be within one day")
	}
	if ws.StartTime >= ws.EndTime {
		return invalid("shift start time must be before end time")
	}
	if (ws.BreakStart == nil) != (ws.BreakEnd == nil) {
		return invalid("break start and break end must be set together")
	}
	if ws.HasBreak() {
		bs, be := *ws.BreakStart, *ws.BreakEnd
		if bs >= be {
			return invalid("break start time must be before break end time")
		}
		if bs < ws.StartTime || be > ws.EndTime {
			return invalid("break must fall within the shift")
		}
	}
	return nil
}

type DoctorSchedule struct {
	ID           uuid.UUID `json:"id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	ScheduleDate Date      `json:"schedule_date"`
	WorkShiftID  uuid.UUID `json:"work_shift_id"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppointmentSlot is a bookable unit derived from a schedule and a grid entry.
type AppointmentSlot struct {
	ID               uuid.UUID `json:"id"`
	DoctorScheduleID uuid.UUID `json:"doctor_schedule_id"`
	TimeSlotID       uuid.UUID `json:"time_slot_id"`
	DoctorID         uuid.UUID `json:"doctor_id"`
	IsAvailable      bool      `json:"is_available"`
	CreatedAt        time.Time `json:"created_at"`
}

// AppointmentSlotSummary is a slot joined with its date, times and doctor.
type AppointmentSlotSummary struct {
	AppointmentSlot
	ScheduleDate Date      `json:"schedule_date"`
	StartTime    ClockTime `json:"start_time"`
	EndTime      ClockTime `json:"end_time"`
	DoctorName   string    `json:"doctor_name,omitempty"`
}

type Appointment struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	AppointmentSlotID  *uuid.UUID `json:"appointment_slot_id,omitempty"`
	Status             Status     `json:"status"`
	AppointmentType    string     `json:"appointment_type"`
	Symptoms           *string    `json:"symptoms,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	IsAnonymous        bool       `json:"is_anonymous"`
	MedicalRecordID    *uuid.UUID `json:"medical_record_id,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AppointmentSummary carries the slot's date and times. They are nil once the
// slot has been deleted with its schedule.
type AppointmentSummary struct {
	Appointment
	ScheduleDate *Date      `json:"schedule_date,omitempty"`
	StartTime    *ClockTime `json:"start_time,omitempty"`
	EndTime      *ClockTime `json:"end_time,omitempty"`
	DoctorName   string     `json:"doctor_name,omitempty"`
}

// -- Requests --

type CreateScheduleRequest struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	ScheduleDate string    `json:"schedule_date"`
	WorkShiftID  uuid.UUID `json:"work_shift_id"`
	Notes        *string   `json:"notes,omitempty"`
}

type UpdateScheduleRequest struct {
	WorkShiftID *uuid.UUID `json:"work_shift_id,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

// GenerateSlotsRequest names the schedule to (re)generate. Zero-valued doctor,
// date and shift default to the schedule's own; set values must match it.
type GenerateSlotsRequest struct {
	DoctorScheduleID uuid.UUID `json:"doctor_schedule_id"`
	DoctorID         uuid.UUID `json:"doctor_id"`
	ScheduleDate     string    `json:"schedule_date"`
	WorkShiftID      uuid.UUID `json:"work_shift_id"`
}

type BookingRequest struct {
	SlotID          uuid.UUID  `json:"slot_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	AppointmentType string     `json:"appointment_type"`
	Symptoms        *string    `json:"symptoms,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	IsAnonymous     bool       `json:"is_anonymous"`
	MedicalRecordID *uuid.UUID `json:"medical_record_id,omitempty"`
}

func (r *BookingRequest) Validate() error {
	if r.SlotID == uuid.Nil {
		return invalid("slot_id is required")
	}
	if r.PatientID == uuid.Nil {
		return invalid("patient_id is required")
	}
	if strings.TrimSpace(r.AppointmentType) == "" {
		return invalid("appointment_type is required")
	}
	return nil
}

type StatusUpdateRequest struct {
	Status             string  `json:"status"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
}

// -- Filters --

type ScheduleFilter struct {
	DoctorID *uuid.UUID
	From     *Date
	To       *Date
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	From      *Date
	To        *Date
}
