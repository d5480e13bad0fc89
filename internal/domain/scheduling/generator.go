package scheduling

import (
	"fmt"
	"sort"
	"time"
)

// Default grid used when no time slots have been configured: 08:00-17:00 in
// 30 minute steps.
var (
	DefaultGridStart = NewClockTime(8, 0)
	DefaultGridEnd   = NewClockTime(17, 0)
	DefaultGridStep  = 30 * time.Minute
)

// BuildGrid returns consecutive slots of length step covering [start, end).
// A trailing remainder shorter than step is dropped.
func BuildGrid(start, end ClockTime, step time.Duration) ([]TimeSlot, error) {
	if step < time.Minute || step%time.Minute != 0 {
		return nil, fmt.Errorf("grid step must be a positive whole number of minutes, got %s", step)
	}
	if !start.Valid() || end > minutesPerDay || start >= end {
		return nil, fmt.Errorf("invalid grid window %s-%s", start, end)
	}
	var grid []TimeSlot
	for t := start; t.Add(step) <= end; t = t.Add(step) {
		grid = append(grid, TimeSlot{StartTime: t, EndTime: t.Add(step)})
	}
	return grid, nil
}

func DefaultGrid() []TimeSlot {
	grid, _ := BuildGrid(DefaultGridStart, DefaultGridEnd, DefaultGridStep)
	return grid
}

// GenerateSlots selects the grid entries a doctor working shift can take
// appointments in, ordered by start time. An entry qualifies when it lies
// entirely inside the shift and does not overlap the shift's break. An empty
// grid is replaced by DefaultGrid. The result may be empty.
func GenerateSlots(shift *WorkShift, grid []TimeSlot) []TimeSlot {
	if len(grid) == 0 {
		grid = DefaultGrid()
	}

	out := make([]TimeSlot, 0, len(grid))
	for _, ts := range grid {
		if !withinShift(shift, ts) || duringBreak(shift, ts) {
			continue
		}
		out = append(out, ts)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func withinShift(shift *WorkShift, ts TimeSlot) bool {
	return ts.StartTime >= shift.StartTime && ts.EndTime <= shift.EndTime
}

// duringBreak treats the break as [start, end) for slot starts and (start, end]
// for slot ends, so slots that merely touch the break survive.
func duringBreak(shift *WorkShift, ts TimeSlot) bool {
	if !shift.HasBreak() {
		return false
	}
	bs, be := *shift.BreakStart, *shift.BreakEnd
	startsInside := ts.StartTime >= bs && ts.StartTime < be
	endsInside := ts.EndTime > bs && ts.EndTime <= be
	spans := ts.StartTime <= bs && ts.EndTime >= be
	return startsInside || endsInside || spans
}
