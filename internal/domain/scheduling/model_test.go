package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"08:00", NewClockTime(8, 0), false},
		{"23:59", NewClockTime(23, 59), false},
		{"10:30:00", NewClockTime(10, 30), false},
		{"10:30:15", 0, true},
		{"24:00", 0, true},
		{"8am", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClockTime(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ParseClockTime(%q): expected ErrInvalidArgument, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseClockTime(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestClockTime_Arithmetic(t *testing.T) {
	start := NewClockTime(9, 45)
	end := start.Add(30 * time.Minute)
	if end.String() != "10:15" {
		t.Errorf("expected 10:15, got %s", end)
	}
	if d := end.Sub(start); d != 30*time.Minute {
		t.Errorf("expected 30m, got %s", d)
	}
}

func TestWorkShift_JSON(t *testing.T) {
	var ws WorkShift
	body := `{"name":"Morning","start_time":"08:00","end_time":"12:00","break_start":"10:00","break_end":"10:30","is_active":true}`
	if err := json.Unmarshal([]byte(body), &ws); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ws.StartTime != NewClockTime(8, 0) || ws.BreakEnd == nil || *ws.BreakEnd != NewClockTime(10, 30) {
		t.Errorf("unexpected shift %+v", ws)
	}
	if err := ws.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	if err := json.Unmarshal([]byte(`{"start_time":"8 o'clock"}`), &ws); err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	b, _ := json.Marshal(d)
	if string(b) != `"2024-02-29"` {
		t.Errorf("unexpected JSON %s", b)
	}
	if _, err := ParseDate("2023-02-29"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for non-existent date, got %v", err)
	}

	local := time.Date(2024, 6, 12, 23, 30, 0, 0, time.FixedZone("X", 5*3600))
	if got := DateOf(local).String(); got != "2024-06-12" {
		t.Errorf("DateOf = %s", got)
	}
}

func TestBookingRequest_Validate(t *testing.T) {
	r := BookingRequest{}
	if err := r.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestError_Classification(t *testing.T) {
	if !errors.Is(ErrSlotAlreadyBooked, ErrConflict) {
		t.Error("ErrSlotAlreadyBooked must be a conflict")
	}
	if !errors.Is(ErrDuplicateSchedule, ErrInvalidArgument) {
		t.Error("ErrDuplicateSchedule must be an invalid argument")
	}
	if ErrSlotAlreadyBooked.Error() != "this appointment slot is already booked" {
		t.Errorf("unexpected message %q", ErrSlotAlreadyBooked.Error())
	}
}
