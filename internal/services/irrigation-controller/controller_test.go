package irrigation_controller

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

// startCycle drives a fresh harness into IRRIGATING with the corner triangle dry.
func startCycle(t *testing.T, h *harness) {
	t.Helper()
	h.reader.raw[0], h.reader.raw[1], h.reader.raw[3] = rawDry, rawDry, rawDry
	h.ctrl.Tick()
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("state = %s, want IRRIGATING", h.ctrl.State())
	}
}

func TestBootIsMonitoringWithPumpOff(t *testing.T) {
	h := newHarness(t, nil)
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("boot state = %s", h.ctrl.State())
	}
	if len(h.pump.calls) != 1 || h.pump.calls[0] {
		t.Fatalf("boot must force pump off, calls = %v", h.pump.calls)
	}
	// first tick checks immediately
	h.ctrl.Tick()
	if h.reader.reads != 9 {
		t.Fatalf("reads after first tick = %d, want 9", h.reader.reads)
	}
	// and then waits for the check interval
	h.tickAfter(30 * time.Second)
	if h.reader.reads != 9 {
		t.Fatalf("sensors read before check interval elapsed")
	}
	h.tickAfter(30 * time.Second)
	if h.reader.reads != 18 {
		t.Fatalf("reads = %d, want 18", h.reader.reads)
	}
}

func TestScenarioA_DryClusterStartsIrrigation(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)

	if !h.pump.isOn() {
		t.Fatalf("pump should be on")
	}
	if len(h.sink.states) != 1 || h.sink.states[0].From != entities.StateMonitoring || !h.sink.states[0].PumpOn {
		t.Fatalf("state events = %+v", h.sink.states)
	}
	if h.ctrl.Status().LastCluster.Size != 3 {
		t.Fatalf("cluster = %+v", h.ctrl.Status().LastCluster)
	}
	if testutil.ToFloat64(StateGauge.WithLabelValues(string(entities.StateIrrigating))) != 1 {
		t.Fatalf("state gauge not updated")
	}
}

func TestScenarioB_IsolatedSensorDoesNotIrrigate(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.raw[4] = rawDry // (20,20)
	h.ctrl.Tick()

	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state = %s, want MONITORING", h.ctrl.State())
	}
	if h.pump.isOn() {
		t.Fatalf("pump on for an isolated sensor")
	}
	if h.sink.count(messages.DiagIsolatedDry) != 1 {
		t.Fatalf("isolated sensor not reported: %+v", h.sink.diagnostics)
	}
	if h.sink.diagnostics[len(h.sink.diagnostics)-1].SensorID != 4 {
		t.Fatalf("wrong sensor reported")
	}
}

func TestSubThresholdClusterReported(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.raw[0], h.reader.raw[1] = rawDry, rawDry
	h.ctrl.Tick()
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	if h.sink.count(messages.DiagSubClusterDry) != 1 {
		t.Fatalf("sub threshold cluster not reported")
	}
}

func TestScenarioC_WetFieldEndsCycle(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)

	// no check before the minimum run time
	h.reader.setAll(rawWet)
	reads := h.reader.reads
	h.tickAfter(time.Minute)
	if h.ctrl.State() != entities.StateIrrigating || h.reader.reads != reads {
		t.Fatalf("checked before minimum run time")
	}

	h.tickAfter(time.Minute)
	if h.ctrl.State() != entities.StateWaiting {
		t.Fatalf("state = %s, want WAITING", h.ctrl.State())
	}
	if h.pump.isOn() {
		t.Fatalf("pump still on in WAITING")
	}
	if len(h.sink.completed) != 1 {
		t.Fatalf("completed events = %d", len(h.sink.completed))
	}
	rep := h.sink.completed[0]
	if rep.DurationSec != 120 || rep.VolumeLiters != 4 || rep.TimeToWetSec != 120 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.TriggerClusterSize != 3 || rep.Checks != 1 || rep.TimeToDrySec != 0 || rep.CycleID == "" {
		t.Fatalf("report = %+v", rep)
	}
}

func TestTimeToDryMeasuredFromPreviousStop(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)
	h.reader.setAll(rawWet)
	h.tickAfter(2 * time.Minute) // WAITING
	h.tickAfter(30 * time.Minute)
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state = %s", h.ctrl.State())
	}

	h.reader.setAll(rawBetween)
	h.reader.raw[0], h.reader.raw[1], h.reader.raw[3] = rawDry, rawDry, rawDry
	h.tickAfter(5 * time.Hour)
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	h.reader.setAll(rawWet)
	h.tickAfter(2 * time.Minute)

	if len(h.sink.completed) != 2 {
		t.Fatalf("completed = %d", len(h.sink.completed))
	}
	want := (30*time.Minute + 5*time.Hour).Seconds()
	if got := h.sink.completed[1].TimeToDrySec; got != want {
		t.Fatalf("time to dry = %v, want %v", got, want)
	}
}

func TestScenarioD_StagnationFaults(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)

	h.tickAfter(2 * time.Minute)
	h.tickAfter(30 * time.Second)
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("faulted after two checks")
	}
	h.tickAfter(30 * time.Second)
	if h.ctrl.State() != entities.StateSystemFault {
		t.Fatalf("state = %s, want SYSTEM_FAULT", h.ctrl.State())
	}
	if h.pump.isOn() {
		t.Fatalf("pump on in SYSTEM_FAULT")
	}
	if h.sink.count(messages.DiagStagnation) != 1 {
		t.Fatalf("stagnation not reported")
	}
	if len(h.sink.completed) != 0 {
		t.Fatalf("failed cycle must not produce a completion report")
	}
}

func TestMaxRuntimeFaults(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.StagnationChecks = 1000 })
	startCycle(t, h)

	h.tickAfter(29 * time.Minute)
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	h.tickAfter(2 * time.Minute)
	if h.ctrl.State() != entities.StateSystemFault {
		t.Fatalf("state = %s, want SYSTEM_FAULT", h.ctrl.State())
	}
	if h.sink.count(messages.DiagMaxRuntime) != 1 {
		t.Fatalf("max runtime not reported")
	}
}

func TestFaultIsLeftOnlyByReset(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)
	h.tickAfter(2 * time.Minute)
	h.tickAfter(30 * time.Second)
	h.tickAfter(30 * time.Second)
	if h.ctrl.State() != entities.StateSystemFault {
		t.Fatalf("setup: state = %s", h.ctrl.State())
	}
	faults := testutil.ToFloat64(FaultsTotal)

	// field recovers on its own: still faulted, pump re-asserted off each tick
	h.reader.setAll(rawWet)
	calls := len(h.pump.calls)
	for i := 0; i < 50; i++ {
		h.tickAfter(time.Hour)
		if h.ctrl.State() != entities.StateSystemFault {
			t.Fatalf("tick %d left SYSTEM_FAULT", i)
		}
	}
	if len(h.pump.calls)-calls != 50 {
		t.Fatalf("pump off asserted %d times, want 50", len(h.pump.calls)-calls)
	}
	for _, on := range h.pump.calls[calls:] {
		if on {
			t.Fatalf("pump turned on while faulted")
		}
	}

	if err := h.ctrl.Apply(Command{Kind: CmdForceState, State: entities.StateMonitoring}); !errors.Is(err, ErrFaultLatched) {
		t.Fatalf("forced state in fault: err = %v", err)
	}
	if err := h.ctrl.Apply(Command{Kind: CmdPumpTest, Duration: time.Second}); !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("pump test in fault: err = %v", err)
	}

	if err := h.ctrl.Apply(Command{Kind: CmdResetFault}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state after reset = %s", h.ctrl.State())
	}
	if l := h.ctrl.Status().Latches; l.StagnantChecks != 0 {
		t.Fatalf("latches not cleared: %+v", l)
	}
	if testutil.ToFloat64(FaultsTotal) != faults {
		t.Fatalf("reset must not count as a fault")
	}
}

func TestSystemFaultCannotBeForced(t *testing.T) {
	h := newHarness(t, nil)
	err := h.ctrl.Apply(Command{Kind: CmdForceState, State: entities.StateSystemFault})
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("err = %v", err)
	}
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state changed to %s", h.ctrl.State())
	}
}

func TestScenarioE_CooldownReturnsToMonitoring(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)
	h.reader.setAll(rawWet)
	h.tickAfter(2 * time.Minute)

	h.tickAfter(29 * time.Minute)
	if h.ctrl.State() != entities.StateWaiting {
		t.Fatalf("left WAITING before cooldown")
	}
	h.tickAfter(time.Minute)
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state = %s, want MONITORING", h.ctrl.State())
	}
	st := h.ctrl.Status()
	if !st.LastCheck.Equal(h.clock.Now()) {
		t.Fatalf("monitor timer not reset: last check %s, now %s", st.LastCheck, h.clock.Now())
	}
	reads := h.reader.reads
	h.tickAfter(time.Second)
	if h.reader.reads != reads {
		t.Fatalf("checked immediately after re-entering MONITORING")
	}
	h.tickAfter(time.Minute)
	if h.reader.reads == reads {
		t.Fatalf("no check one interval after re-entering MONITORING")
	}
}

func TestHysteresisKeepsIrrigatingBetweenThresholds(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)

	// none dry any more, but not wet enough either
	h.reader.setAll(rawBetween)
	h.reader.raw[0] = rawBetween - 100
	h.tickAfter(2 * time.Minute)
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("state = %s, want IRRIGATING until wet threshold", h.ctrl.State())
	}
}

func TestLeakReportedOnceWhileMonitoring(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.raw[2] = 1300
	h.ctrl.Tick()
	h.tickAfter(time.Minute)
	if n := h.sink.count(messages.DiagLeak); n != 1 {
		t.Fatalf("leak events = %d, want 1", n)
	}
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("leak changed state")
	}
}

func TestClogDuringIrrigation(t *testing.T) {
	h := newHarness(t, nil)
	startCycle(t, h)
	h.reader.setAll(rawWet)
	h.reader.raw[8] = 2900
	h.tickAfter(2 * time.Minute)
	if h.sink.count(messages.DiagClog) != 1 {
		t.Fatalf("clog not reported: %+v", h.sink.diagnostics)
	}
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("clog changed state")
	}
}

func TestUnexpectedlyWetAndDry(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.setAll(rawWet)
	h.ctrl.Tick()
	h.tickAfter(73 * time.Hour)
	if h.sink.count(messages.DiagUnexpectedlyWet) != 1 {
		t.Fatalf("unexpectedly wet not reported")
	}

	h.reader.setAll(rawDry)
	h.tickAfter(time.Minute)
	if h.sink.count(messages.DiagUnexpectedlyDry) != 1 {
		t.Fatalf("unexpectedly dry not reported (boot was 73h ago)")
	}
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("dry cluster should still trigger irrigation")
	}
}

func TestGradientReportedOnChange(t *testing.T) {
	h := newHarness(t, nil)
	// top row wet, bottom row between
	h.reader.raw[0], h.reader.raw[1], h.reader.raw[2] = rawWet, rawWet, rawWet
	h.ctrl.Tick()
	h.tickAfter(time.Minute)
	if n := h.sink.count(messages.DiagGradient); n != 1 {
		t.Fatalf("gradient events = %d, want 1", n)
	}
	if h.ctrl.Status().LastGradient.Level != GradientWarning {
		t.Fatalf("gradient = %+v", h.ctrl.Status().LastGradient)
	}
}

func TestInjectReadingIsConsumedOnce(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []int{0, 1, 3} {
		if err := h.ctrl.Apply(Command{Kind: CmdInjectReading, SensorID: id, Value: rawDry}); err != nil {
			t.Fatalf("inject %d: %v", id, err)
		}
	}
	h.ctrl.Tick()
	if h.ctrl.State() != entities.StateIrrigating {
		t.Fatalf("injected cluster did not trigger: %s", h.ctrl.State())
	}
	if len(h.reader.injected) != 0 {
		t.Fatalf("injections not consumed")
	}

	err := h.ctrl.Apply(Command{Kind: CmdInjectReading, SensorID: 9, Value: 100})
	if !errors.Is(err, ErrInvalidSensor) {
		t.Fatalf("err = %v", err)
	}
}

func TestForcedStates(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Apply(Command{Kind: CmdForceState, State: entities.StateIrrigating}); err != nil {
		t.Fatalf("force irrigating: %v", err)
	}
	if h.ctrl.State() != entities.StateIrrigating || !h.pump.isOn() {
		t.Fatalf("state = %s pump = %v", h.ctrl.State(), h.pump.isOn())
	}
	if err := h.ctrl.Apply(Command{Kind: CmdForceState, State: entities.StateWaiting}); err != nil {
		t.Fatalf("force waiting: %v", err)
	}
	if h.ctrl.State() != entities.StateWaiting || h.pump.isOn() {
		t.Fatalf("state = %s pump = %v", h.ctrl.State(), h.pump.isOn())
	}
	if len(h.sink.completed) != 0 {
		t.Fatalf("aborted cycle produced a report")
	}
	if err := h.ctrl.Apply(Command{Kind: CmdForceState, State: entities.StateMonitoring}); err != nil {
		t.Fatalf("force monitoring: %v", err)
	}
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state = %s", h.ctrl.State())
	}
}

func TestPumpTestHoldsThenStops(t *testing.T) {
	h := newHarness(t, nil)
	before := len(h.pump.calls)
	if err := h.ctrl.Apply(Command{Kind: CmdPumpTest, Duration: 5 * time.Second}); err != nil {
		t.Fatalf("pump test: %v", err)
	}
	calls := h.pump.calls[before:]
	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Fatalf("pump calls = %v, want [true false]", calls)
	}
	if len(h.clock.slept) != 1 || h.clock.slept[0] != 5*time.Second {
		t.Fatalf("slept = %v", h.clock.slept)
	}

	startCycle(t, h)
	if err := h.ctrl.Apply(Command{Kind: CmdPumpTest}); !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("pump test while irrigating: err = %v", err)
	}
}

func TestPumpDriverFailureIsReported(t *testing.T) {
	h := newHarness(t, nil)
	h.pump.err = errors.New("relay unreachable")
	startCycle(t, h)
	if h.sink.count(messages.DiagPumpDriverFailed) != 1 {
		t.Fatalf("driver failure not reported: %+v", h.sink.diagnostics)
	}
}

func TestSwapConfigKeepsLayout(t *testing.T) {
	h := newHarness(t, nil)
	cfg := config.Default()
	cfg.DryThreshold = 3100
	cfg.Layout = entities.GridLayout(2, 2, 0, 5)
	h.ctrl.SwapConfig(cfg)

	got := h.ctrl.Config()
	if got.DryThreshold != 3100 {
		t.Fatalf("dry threshold = %d", got.DryThreshold)
	}
	if len(got.Layout) != 9 {
		t.Fatalf("layout resized to %d", len(got.Layout))
	}
	// 3000 is no longer dry
	h.reader.raw[0], h.reader.raw[1], h.reader.raw[3] = rawDry, rawDry, rawDry
	h.ctrl.Tick()
	if h.ctrl.State() != entities.StateMonitoring {
		t.Fatalf("state = %s", h.ctrl.State())
	}
}

func TestSwapConfigFallsBackOnInvalidValues(t *testing.T) {
	h := newHarness(t, nil)
	cfg := config.Default()
	cfg.WetThreshold, cfg.DryThreshold = 3000, 1000
	h.ctrl.SwapConfig(cfg)

	got := h.ctrl.Config()
	if got.WetThreshold >= got.DryThreshold {
		t.Fatalf("inverted thresholds accepted: %d/%d", got.WetThreshold, got.DryThreshold)
	}
	if h.sink.count(messages.DiagConfigFallback) != 1 {
		t.Fatalf("fallback not reported")
	}
}
