package irrigation_controller

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

// Diagnostics keeps the counters and latches of the rule checks. None of the checks
// change state: they return events and the state machine decides what to do.
type Diagnostics struct {
	leakLatched []bool

	clogReported bool // once per cycle

	lastSum        int
	stagnantChecks int

	dryLatched bool

	wetSince   time.Time
	wetLatched bool
}

// Latches is the exported view used by status reports.
type Latches struct {
	Leak            []int `json:"leak,omitempty"`
	ClogReported    bool  `json:"clog_reported"`
	StagnantChecks  int   `json:"stagnant_checks"`
	UnexpectedlyDry bool  `json:"unexpectedly_dry"`
	UnexpectedlyWet bool  `json:"unexpectedly_wet"`
}

func NewDiagnostics(n int) *Diagnostics {
	return &Diagnostics{leakLatched: make([]bool, n)}
}

// Reset clears every latch and counter.
func (d *Diagnostics) Reset() {
	for i := range d.leakLatched {
		d.leakLatched[i] = false
	}
	d.clogReported = false
	d.lastSum = 0
	d.stagnantChecks = 0
	d.dryLatched = false
	d.wetSince = time.Time{}
	d.wetLatched = false
}

func (d *Diagnostics) Latches() Latches {
	l := Latches{
		ClogReported:    d.clogReported,
		StagnantChecks:  d.stagnantChecks,
		UnexpectedlyDry: d.dryLatched,
		UnexpectedlyWet: d.wetLatched,
	}
	for i, on := range d.leakLatched {
		if on {
			l.Leak = append(l.Leak, i)
		}
	}
	return l
}

// BeginCycle arms the per-cycle checks with the raw sum seen when the pump started.
func (d *Diagnostics) BeginCycle(sum int) {
	d.clogReported = false
	d.lastSum = sum
	d.stagnantChecks = 0
	d.wetSince = time.Time{}
	d.wetLatched = false
}

// CheckLeak flags sensors at or above leakPct while the pump is off. Each sensor
// reports once and re-arms when it drops back below the threshold.
func (d *Diagnostics) CheckLeak(sensors []entities.SensorNode, leakPct int, now time.Time) []messages.DiagnosticEvent {
	var out []messages.DiagnosticEvent
	for i, s := range sensors {
		if i >= len(d.leakLatched) {
			break
		}
		if s.Percentage < leakPct {
			d.leakLatched[i] = false
			continue
		}
		if d.leakLatched[i] {
			continue
		}
		d.leakLatched[i] = true
		out = append(out, messages.DiagnosticEvent{
			Kind:      messages.DiagLeak,
			Severity:  messages.SeverityWarning,
			SensorID:  s.ID,
			Value:     float64(s.Percentage),
			Message:   fmt.Sprintf("sensor %d at %d%% with pump off: possible leak", s.ID, s.Percentage),
			Timestamp: now,
		})
	}
	return out
}

// CheckClog fires when exactly one sensor is still above the wet threshold while
// every other one is wet enough, and that sensor is still at or below clogPct.
func (d *Diagnostics) CheckClog(sensors []entities.SensorNode, conv Converter, clogPct int, now time.Time) *messages.DiagnosticEvent {
	if d.clogReported || len(sensors) < 2 {
		return nil
	}
	lagging := -1
	for i, s := range sensors {
		if conv.IsWetEnough(s.RawValue) {
			continue
		}
		if lagging >= 0 {
			return nil
		}
		lagging = i
	}
	if lagging < 0 || sensors[lagging].Percentage > clogPct {
		return nil
	}
	d.clogReported = true
	s := sensors[lagging]
	return &messages.DiagnosticEvent{
		Kind:      messages.DiagClog,
		Severity:  messages.SeverityWarning,
		SensorID:  s.ID,
		Value:     float64(s.Percentage),
		Message:   fmt.Sprintf("sensor %d still at %d%% while the rest of the field is wet: possible local blockage", s.ID, s.Percentage),
		Timestamp: now,
	}
}

// CheckStagnation compares the raw sum with the previous check. A sum that does
// not go down (raw falls as soil gets wetter) for limit checks in a row is fatal.
func (d *Diagnostics) CheckStagnation(sum, limit int, now time.Time) *messages.DiagnosticEvent {
	if sum >= d.lastSum {
		d.stagnantChecks++
	} else {
		d.stagnantChecks = 0
	}
	prev := d.lastSum
	d.lastSum = sum
	if d.stagnantChecks < limit {
		return nil
	}
	return &messages.DiagnosticEvent{
		Kind:      messages.DiagStagnation,
		Severity:  messages.SeverityError,
		SensorID:  -1,
		Value:     float64(sum),
		Fatal:     true,
		Message:   fmt.Sprintf("moisture sum not improving for %d checks (last %d -> %d): pump or supply failure", d.stagnantChecks, prev, sum),
		Timestamp: now,
	}
}

// CheckMaxRuntime is fatal once the pump has run longer than max.
func (d *Diagnostics) CheckMaxRuntime(elapsed, max time.Duration, now time.Time) *messages.DiagnosticEvent {
	if elapsed <= max {
		return nil
	}
	return &messages.DiagnosticEvent{
		Kind:      messages.DiagMaxRuntime,
		Severity:  messages.SeverityError,
		SensorID:  -1,
		Value:     elapsed.Seconds(),
		Fatal:     true,
		Message:   fmt.Sprintf("pump running for %s without the field getting wet (max %s)", elapsed.Round(time.Second), max),
		Timestamp: now,
	}
}

// CheckUnexpectedlyDry latches when a dry cluster shows up more than max after the
// last watering. It re-arms only once no cluster is found.
func (d *Diagnostics) CheckUnexpectedlyDry(found bool, sinceWatering, max time.Duration, now time.Time) *messages.DiagnosticEvent {
	if !found {
		d.dryLatched = false
		return nil
	}
	if d.dryLatched || sinceWatering <= max {
		return nil
	}
	d.dryLatched = true
	return &messages.DiagnosticEvent{
		Kind:      messages.DiagUnexpectedlyDry,
		Severity:  messages.SeverityWarning,
		SensorID:  -1,
		Value:     sinceWatering.Seconds(),
		Message:   fmt.Sprintf("dry cluster present %s after last watering (max %s)", sinceWatering.Round(time.Second), max),
		Timestamp: now,
	}
}

// CheckUnexpectedlyWet latches when every sensor has stayed wet enough for longer
// than max with no irrigation in between.
func (d *Diagnostics) CheckUnexpectedlyWet(allWet bool, max time.Duration, now time.Time) *messages.DiagnosticEvent {
	if !allWet {
		d.wetSince = time.Time{}
		d.wetLatched = false
		return nil
	}
	if d.wetSince.IsZero() {
		d.wetSince = now
	}
	wetFor := now.Sub(d.wetSince)
	if d.wetLatched || wetFor <= max {
		return nil
	}
	d.wetLatched = true
	return &messages.DiagnosticEvent{
		Kind:      messages.DiagUnexpectedlyWet,
		Severity:  messages.SeverityWarning,
		SensorID:  -1,
		Value:     wetFor.Seconds(),
		Message:   fmt.Sprintf("field wet for %s without irrigation: possible drainage failure or leak", wetFor.Round(time.Second)),
		Timestamp: now,
	}
}
