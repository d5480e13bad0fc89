package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

const microsPerMinute = int64(time.Minute / time.Microsecond)

func pgTime(t ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}
}

func pgTimePtr(t *ClockTime) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgTime(*t)
}

func clockTime(t pgtype.Time) ClockTime {
	return ClockTime(t.Microseconds / microsPerMinute)
}

func clockTimePtr(t pgtype.Time) *ClockTime {
	if !t.Valid {
		return nil
	}
	v := clockTime(t)
	return &v
}

type pgRepo struct{ pool *pgxpool.Pool }

func (r pgRepo) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

// =========== Time Slot Repository ===========

type timeSlotRepoPG struct{ pgRepo }

func NewTimeSlotRepoPG(pool *pgxpool.Pool) TimeSlotRepository {
	return &timeSlotRepoPG{pgRepo{pool}}
}

func scanTimeSlot(row pgx.Row) (TimeSlot, error) {
	var ts TimeSlot
	var start, end pgtype.Time
	if err := row.Scan(&ts.ID, &start, &end); err != nil {
		return ts, err
	}
	ts.StartTime, ts.EndTime = clockTime(start), clockTime(end)
	return ts, nil
}

func (r *timeSlotRepoPG) List(ctx context.Context) ([]TimeSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, start_time, end_time FROM time_slot ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimeSlot, error) { return scanTimeSlot(row) })
}

func (r *timeSlotRepoPG) CreateBatch(ctx context.Context, slots []TimeSlot) error {
	for i := range slots {
		if slots[i].ID == uuid.Nil {
			slots[i].ID = uuid.New()
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO time_slot (id, start_time, end_time) VALUES ($1, $2, $3)
			ON CONFLICT (start_time) DO NOTHING`,
			slots[i].ID, pgTime(slots[i].StartTime), pgTime(slots[i].EndTime))
		if err != nil {
			return fmt.Errorf("insert time slot %s: %w", slots[i].StartTime, err)
		}
	}
	return nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pgRepo }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pgRepo{pool}}
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, full_name, specialty, active FROM doctor WHERE id = $1`, id).
		Scan(&d.ID, &d.FullName, &d.Specialty, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("doctor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return &d, nil
}

// =========== Work Shift Repository ===========

type workShiftRepoPG struct{ pgRepo }

func NewWorkShiftRepoPG(pool *pgxpool.Pool) WorkShiftRepository {
	return &workShiftRepoPG{pgRepo{pool}}
}

const shiftCols = `id, name, start_time, end_time, break_start, break_end, description, is_active, created_at`

func scanWorkShift(row pgx.Row) (*WorkShift, error) {
	var ws WorkShift
	var start, end, bs, be pgtype.Time
	if err := row.Scan(&ws.ID, &ws.Name, &start, &end, &bs, &be, &ws.Description, &ws.IsActive, &ws.CreatedAt); err != nil {
		return nil, err
	}
	ws.StartTime, ws.EndTime = clockTime(start), clockTime(end)
	ws.BreakStart, ws.BreakEnd = clockTimePtr(bs), clockTimePtr(be)
	return &ws, nil
}

func (r *workShiftRepoPG) Create(ctx context.Context, ws *WorkShift) error {
	ws.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO work_shift (id, name, start_time, end_time, break_start, break_end, description, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		ws.ID, ws.Name, pgTime(ws.StartTime), pgTime(ws.EndTime),
		pgTimePtr(ws.BreakStart), pgTimePtr(ws.BreakEnd), ws.Description, ws.IsActive,
	).Scan(&ws.CreatedAt)
	if db.IsUniqueViolation(err, "work_shift_name_key") {
		return invalid("work shift %q already exists", ws.Name)
	}
	if err != nil {
		return fmt.Errorf("insert work shift: %w", err)
	}
	return nil
}

func (r *workShiftRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WorkShift, error) {
	ws, err := scanWorkShift(r.conn(ctx).QueryRow(ctx, `SELECT `+shiftCols+` FROM work_shift WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("work shift %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get work shift: %w", err)
	}
	return ws, nil
}

func (r *workShiftRepoPG) List(ctx context.Context, activeOnly bool) ([]*WorkShift, error) {
	query := `SELECT ` + shiftCols + ` FROM work_shift`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY start_time, name`)
	if err != nil {
		return nil, fmt.Errorf("list work shifts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*WorkShift, error) { return scanWorkShift(row) })
}

// =========== Doctor Schedule Repository ===========

type scheduleRepoPG struct{ pgRepo }

func NewDoctorScheduleRepoPG(pool *pgxpool.Pool) DoctorScheduleRepository {
	return &scheduleRepoPG{pgRepo{pool}}
}

const schedCols = `id, doctor_id, schedule_date, work_shift_id, notes, created_at, updated_at`

func scanSchedule(row pgx.Row) (*DoctorSchedule, error) {
	var s DoctorSchedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.ScheduleDate.Time, &s.WorkShiftID, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *scheduleRepoPG) getOne(ctx context.Context, query string, args ...any) (*DoctorSchedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("doctor schedule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor schedule: %w", err)
	}
	return s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *DoctorSchedule) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_schedule (id, doctor_id, schedule_date, work_shift_id, notes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.ScheduleDate.Time, s.WorkShiftID, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err, "doctor_schedule_doctor_date_key") {
		return ErrDuplicateSchedule
	}
	if err != nil {
		return fmt.Errorf("insert doctor schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	return r.getOne(ctx, `SELECT `+schedCols+` FROM doctor_schedule WHERE id = $1`, id)
}

func (r *scheduleRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	return r.getOne(ctx, `SELECT `+schedCols+` FROM doctor_schedule WHERE id = $1 FOR UPDATE`, id)
}

func (r *scheduleRepoPG) GetByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date Date) (*DoctorSchedule, error) {
	return r.getOne(ctx, `SELECT `+schedCols+` FROM doctor_schedule WHERE doctor_id = $1 AND schedule_date = $2`, doctorID, date.Time)
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *DoctorSchedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor_schedule SET work_shift_id = $2, notes = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.WorkShiftID, s.Notes,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("doctor schedule %s not found", s.ID)
	}
	if err != nil {
		return fmt.Errorf("update doctor schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_schedule WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete doctor schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("doctor schedule %s not found", id)
	}
	return nil
}

func (r *scheduleRepoPG) List(ctx context.Context, f ScheduleFilter) ([]*DoctorSchedule, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.From != nil {
		add("schedule_date >= $%d", f.From.Time)
	}
	if f.To != nil {
		add("schedule_date <= $%d", f.To.Time)
	}

	query := `SELECT ` + schedCols + ` FROM doctor_schedule`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY schedule_date, doctor_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctor schedules: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*DoctorSchedule, error) { return scanSchedule(row) })
}

// =========== Appointment Slot Repository ===========

type slotRepoPG struct{ pgRepo }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pgRepo{pool}}
}

const slotCols = `s.id, s.doctor_schedule_id, s.time_slot_id, s.doctor_id, s.is_available, s.created_at`

const slotSummaryQuery = `SELECT ` + slotCols + `, ds.schedule_date, ts.start_time, ts.end_time, d.full_name
	FROM appointment_slot s
	JOIN doctor_schedule ds ON ds.id = s.doctor_schedule_id
	JOIN time_slot ts ON ts.id = s.time_slot_id
	JOIN doctor d ON d.id = s.doctor_id`

func scanSlot(row pgx.Row) (*AppointmentSlot, error) {
	var s AppointmentSlot
	err := row.Scan(&s.ID, &s.DoctorScheduleID, &s.TimeSlotID, &s.DoctorID, &s.IsAvailable, &s.CreatedAt)
	return &s, err
}

func scanSlotSummary(row pgx.Row) (*AppointmentSlotSummary, error) {
	var s AppointmentSlotSummary
	var start, end pgtype.Time
	err := row.Scan(&s.ID, &s.DoctorScheduleID, &s.TimeSlotID, &s.DoctorID, &s.IsAvailable, &s.CreatedAt,
		&s.ScheduleDate.Time, &start, &end, &s.DoctorName)
	if err != nil {
		return nil, err
	}
	s.StartTime, s.EndTime = clockTime(start), clockTime(end)
	return &s, nil
}

func (r *slotRepoPG) CreateBatch(ctx context.Context, slots []*AppointmentSlot) error {
	for _, s := range slots {
		s.ID = uuid.New()
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO appointment_slot (id, doctor_schedule_id, time_slot_id, doctor_id, is_available)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING created_at`,
			s.ID, s.DoctorScheduleID, s.TimeSlotID, s.DoctorID, s.IsAvailable,
		).Scan(&s.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert appointment slot: %w", err)
		}
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM appointment_slot s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("appointment slot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment slot: %w", err)
	}
	return s, nil
}

func (r *slotRepoPG) LockBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*AppointmentSlot, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+slotCols+` FROM appointment_slot s WHERE s.doctor_schedule_id = $1 ORDER BY s.id FOR UPDATE`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("lock appointment slots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*AppointmentSlot, error) { return scanSlot(row) })
}

func (r *slotRepoPG) DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment_slot WHERE doctor_schedule_id = $1`, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("delete appointment slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *slotRepoPG) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*AppointmentSlotSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, slotSummaryQuery+` WHERE s.doctor_schedule_id = $1 ORDER BY ts.start_time`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list appointment slots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*AppointmentSlotSummary, error) { return scanSlotSummary(row) })
}

func (r *slotRepoPG) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date Date, availableOnly bool) ([]*AppointmentSlotSummary, error) {
	query := slotSummaryQuery + ` WHERE s.doctor_id = $1 AND ds.schedule_date = $2`
	if availableOnly {
		query += ` AND s.is_available`
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY ts.start_time`, doctorID, date.Time)
	if err != nil {
		return nil, fmt.Errorf("list appointment slots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*AppointmentSlotSummary, error) { return scanSlotSummary(row) })
}

func (r *slotRepoPG) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment_slot SET is_available = FALSE WHERE id = $1 AND is_available`, id)
	if err != nil {
		return false, fmt.Errorf("claim appointment slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `UPDATE appointment_slot SET is_available = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("release appointment slot: %w", err)
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pgRepo }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pgRepo{pool}}
}

const apptCols = `a.id, a.patient_id, a.doctor_id, a.appointment_slot_id, a.status, a.appointment_type,
	a.symptoms, a.notes, a.is_anonymous, a.medical_record_id, a.cancellation_reason, a.created_at, a.updated_at`

const apptSummaryFrom = ` FROM appointment a
	JOIN doctor d ON d.id = a.doctor_id
	LEFT JOIN appointment_slot s ON s.id = a.appointment_slot_id
	LEFT JOIN doctor_schedule ds ON ds.id = s.doctor_schedule_id
	LEFT JOIN time_slot ts ON ts.id = s.time_slot_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentSlotID, &a.Status, &a.AppointmentType,
		&a.Symptoms, &a.Notes, &a.IsAnonymous, &a.MedicalRecordID, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func scanAppointmentSummary(row pgx.Row) (*AppointmentSummary, error) {
	var a AppointmentSummary
	var date pgtype.Date
	var start, end pgtype.Time
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentSlotID, &a.Status, &a.AppointmentType,
		&a.Symptoms, &a.Notes, &a.IsAnonymous, &a.MedicalRecordID, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt,
		&date, &start, &end, &a.DoctorName)
	if err != nil {
		return nil, err
	}
	if date.Valid {
		a.ScheduleDate = &Date{date.Time}
	}
	a.StartTime, a.EndTime = clockTimePtr(start), clockTimePtr(end)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appointment_slot_id, status, appointment_type,
			symptoms, notes, is_anonymous, medical_record_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentSlotID, a.Status, a.AppointmentType,
		a.Symptoms, a.Notes, a.IsAnonymous, a.MedicalRecordID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "appointment_live_slot_key") {
		return ErrSlotAlreadyBooked
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment a WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) GetSummary(ctx context.Context, id uuid.UUID) (*AppointmentSummary, error) {
	a, err := scanAppointmentSummary(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+`, ds.schedule_date, ts.start_time, ts.end_time, d.full_name`+apptSummaryFrom+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET status = $3, cancellation_reason = COALESCE($4, cancellation_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, reason)
	if err != nil {
		return false, fmt.Errorf("update appointment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) CountLiveBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment a
		JOIN appointment_slot s ON s.id = a.appointment_slot_id
		WHERE s.doctor_schedule_id = $1 AND a.status IN ($2, $3)`,
		scheduleID, StatusPendingConfirmation, StatusConfirmed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*AppointmentSummary, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != nil {
		add("a.status = $%d", *f.Status)
	}
	if f.From != nil {
		add("ds.schedule_date >= $%d", f.From.Time)
	}
	if f.To != nil {
		add("ds.schedule_date <= $%d", f.To.Time)
	}
	filter := ""
	if len(where) > 0 {
		filter = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+apptSummaryFrom+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s, ds.schedule_date, ts.start_time, ts.end_time, d.full_name%s%s
		ORDER BY ds.schedule_date DESC NULLS LAST, ts.start_time DESC NULLS LAST, a.created_at DESC
		LIMIT $%d OFFSET $%d`, apptCols, apptSummaryFrom, filter, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*AppointmentSummary, error) { return scanAppointmentSummary(row) })
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE status = $1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}
