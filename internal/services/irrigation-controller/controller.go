package irrigation_controller

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/config"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

// FlowRateLitersPerMinute is the nominal pump delivery used for volume estimates.
const FlowRateLitersPerMinute = 2.0

// ===================== Collaborators =====================

// SensorReader returns the raw reading of a channel. Invalid ids must come back as
// a dry fallback, never as an error.
type SensorReader interface {
	Read(id int) int
}

// Injector is implemented by readers that accept one-shot simulated values.
type Injector interface {
	Inject(id, value int) error
}

// PumpOutput is the single boolean actuator.
type PumpOutput interface {
	SetPump(on bool) error
}

// ReportSink receives everything the controller has to say. Implementations must
// not block the control loop.
type ReportSink interface {
	StateChanged(messages.StateChangeEvent)
	Diagnostic(messages.DiagnosticEvent)
	IrrigationCompleted(messages.IrrigationCompletedEvent)
	Readings(messages.ReadingsSnapshot)
}

type nopSink struct{}

func (nopSink) StateChanged(messages.StateChangeEvent)                {}
func (nopSink) Diagnostic(messages.DiagnosticEvent)                   {}
func (nopSink) IrrigationCompleted(messages.IrrigationCompletedEvent) {}
func (nopSink) Readings(messages.ReadingsSnapshot)                    {}

// ===================== Controller =====================

// Controller is the whole decision context: configuration, sensor array, state and
// timers. All methods must be called from a single goroutine (see Runner).
type Controller struct {
	cfg    config.Config
	conv   Converter
	reader SensorReader
	pump   PumpOutput
	sink   ReportSink
	clock  Clock
	log    zerolog.Logger

	sensors  []entities.SensorNode
	detector *ClusterDetector
	diag     *Diagnostics

	state      entities.SystemState
	stateSince time.Time
	lastCheck  time.Time // due-time anchor of the current state's periodic work
	pumpOn     bool

	bootAt           time.Time
	pumpStartedAt    time.Time
	lastWateringStop time.Time

	// current cycle
	cycleID     string
	triggerSize int
	timeToDry   time.Duration
	firstWetAt  time.Time
	checks      int

	lastCluster   ClusterResult
	lastGradient  GradientResult
	gradientLevel string
}

// Status is a copy of the controller's observable state.
type Status struct {
	State            entities.SystemState  `json:"state"`
	PumpOn           bool                  `json:"pump_on"`
	Sensors          []entities.SensorNode `json:"sensors"`
	LastCluster      ClusterResult         `json:"last_cluster"`
	LastGradient     GradientResult        `json:"last_gradient"`
	Latches          Latches               `json:"latches"`
	StateSince       time.Time             `json:"state_since"`
	LastCheck        time.Time             `json:"last_check"`
	PumpStartedAt    time.Time             `json:"pump_started_at"`
	LastWateringStop time.Time             `json:"last_watering_stop"`
	CycleID          string                `json:"cycle_id,omitempty"`
}

func NewController(cfg config.Config, reader SensorReader, pump PumpOutput, sink ReportSink, clock Clock, logger zerolog.Logger) *Controller {
	if sink == nil {
		sink = nopSink{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now()

	cfg, warnings := config.Validate(cfg)
	c := &Controller{
		cfg:        cfg,
		conv:       NewConverter(cfg),
		reader:     reader,
		pump:       pump,
		sink:       sink,
		clock:      clock,
		log:        logger,
		sensors:    entities.NewSensorNodes(cfg.Layout),
		detector:   NewClusterDetector(len(cfg.Layout)),
		diag:       NewDiagnostics(len(cfg.Layout)),
		state:      entities.StateMonitoring,
		stateSince: now,
		bootAt:     now,
	}
	c.reportConfigWarnings(warnings, now)

	// relay state at boot is unknown
	c.setPump(false)
	observeState(c.state)
	c.log.Info().Int("sensors", len(c.sensors)).Str("state", string(c.state)).Msg("controller: started")
	return c
}

func (c *Controller) State() entities.SystemState { return c.state }
func (c *Controller) Config() config.Config       { return c.cfg.Clone() }

func (c *Controller) Status() Status {
	return Status{
		State:            c.state,
		PumpOn:           c.pumpOn,
		Sensors:          append([]entities.SensorNode(nil), c.sensors...),
		LastCluster:      c.lastCluster,
		LastGradient:     c.lastGradient,
		Latches:          c.diag.Latches(),
		StateSince:       c.stateSince,
		LastCheck:        c.lastCheck,
		PumpStartedAt:    c.pumpStartedAt,
		LastWateringStop: c.lastWateringStop,
		CycleID:          c.cycleID,
	}
}

// SwapConfig replaces the configuration. It must only be called between ticks.
// The sensor layout fixed at boot is kept whatever the new document says.
func (c *Controller) SwapConfig(cfg config.Config) {
	now := c.clock.Now()
	if !sameLayout(cfg.Layout, c.cfg.Layout) {
		c.log.Warn().Msg("controller: sensor layout cannot change at runtime, keeping boot layout")
	}
	cfg.Layout = c.cfg.Layout
	cfg, warnings := config.Validate(cfg)
	c.reportConfigWarnings(warnings, now)

	c.cfg = cfg
	c.conv = NewConverter(cfg)
	c.log.Info().
		Int("dry", cfg.DryThreshold).
		Int("wet", cfg.WetThreshold).
		Int("min_cluster", cfg.MinClusterSize).
		Dur("check_interval", cfg.CheckInterval).
		Msg("controller: configuration swapped")
}

// Shutdown turns the pump off; used when the control loop exits.
func (c *Controller) Shutdown() {
	c.setPump(false)
	c.log.Info().Str("state", string(c.state)).Msg("controller: stopped, pump off")
}

// ===================== Tick =====================

// Tick runs one step of the state machine. It never blocks.
func (c *Controller) Tick() {
	now := c.clock.Now()
	switch c.state {
	case entities.StateMonitoring:
		c.handleMonitoring(now)
	case entities.StateIrrigating:
		c.handleIrrigating(now)
	case entities.StateWaiting:
		c.handleWaiting(now)
	case entities.StateSystemFault:
		c.handleFault(now)
	}
}

func (c *Controller) due(now time.Time, every time.Duration) bool {
	return c.lastCheck.IsZero() || now.Sub(c.lastCheck) >= every
}

func (c *Controller) handleMonitoring(now time.Time) {
	if !c.due(now, c.cfg.CheckInterval) {
		return
	}
	c.lastCheck = now
	c.refreshSensors()

	res := c.detectCluster()
	c.analyzeGradient(now)
	for _, ev := range c.diag.CheckLeak(c.sensors, c.cfg.LeakPercent, now) {
		c.report(ev)
	}
	if ev := c.diag.CheckUnexpectedlyWet(c.allWetEnough(), c.cfg.MaxWetDuration, now); ev != nil {
		c.report(*ev)
	}
	if ev := c.diag.CheckUnexpectedlyDry(res.Found, now.Sub(c.lastWatering()), c.cfg.MaxTimeSinceWatering, now); ev != nil {
		c.report(*ev)
	}
	c.publishReadings(now)

	switch {
	case res.Found:
		c.startIrrigation(now, res.Size, fmt.Sprintf("dry cluster of %d sensors", res.Size))
	case res.Isolated():
		c.log.Info().Int("dry", res.DryCount).Msg("controller: isolated dry sensor, not irrigating")
		c.report(c.smallClusterEvent(messages.DiagIsolatedDry, res, now))
	case res.SubThreshold():
		c.log.Info().Int("largest", res.Largest).Int("min", c.cfg.MinClusterSize).Msg("controller: dry cluster below minimum, not irrigating")
		c.report(c.smallClusterEvent(messages.DiagSubClusterDry, res, now))
	}
}

func (c *Controller) handleIrrigating(now time.Time) {
	elapsed := now.Sub(c.pumpStartedAt)
	if ev := c.diag.CheckMaxRuntime(elapsed, c.cfg.MaxPumpRunTime, now); ev != nil {
		c.fail(now, *ev)
		return
	}
	if elapsed < c.cfg.MinPumpRunTime || !c.due(now, c.cfg.IrrigatingCheckInterval) {
		return
	}
	c.lastCheck = now
	c.checks++
	sum := c.refreshSensors()
	c.detectCluster()
	c.publishReadings(now)

	if c.firstWetAt.IsZero() && c.anyWetEnough() {
		c.firstWetAt = now
	}
	if c.allWetEnough() {
		c.completeCycle(now)
		return
	}
	if ev := c.diag.CheckClog(c.sensors, c.conv, c.cfg.ClogPercent, now); ev != nil {
		c.report(*ev)
	}
	if ev := c.diag.CheckStagnation(sum, c.cfg.StagnationChecks, now); ev != nil {
		c.fail(now, *ev)
		return
	}
	c.log.Debug().Int("sum", sum).Int("check", c.checks).Dur("elapsed", elapsed).Msg("controller: field not wet yet")
}

func (c *Controller) handleWaiting(now time.Time) {
	if now.Sub(c.stateSince) < c.cfg.Cooldown {
		return
	}
	c.transitionTo(now, entities.StateMonitoring, "cooldown elapsed")
}

func (c *Controller) handleFault(now time.Time) {
	// a stuck relay driver gets told again on every tick
	c.setPump(false)
	if now.Sub(c.lastCheck) >= c.cfg.CheckInterval {
		c.lastCheck = now
		c.log.Error().Dur("since", now.Sub(c.stateSince)).Msg("controller: SYSTEM FAULT latched, pump forced off, send RESET to resume")
	}
}

// ===================== Transitions =====================

func (c *Controller) startIrrigation(now time.Time, triggerSize int, reason string) {
	c.cycleID = uuid.NewString()
	c.triggerSize = triggerSize
	c.timeToDry = 0
	if !c.lastWateringStop.IsZero() {
		c.timeToDry = now.Sub(c.lastWateringStop)
	}
	c.firstWetAt = time.Time{}
	c.checks = 0
	c.diag.BeginCycle(c.rawSum())
	c.pumpStartedAt = now

	c.transitionTo(now, entities.StateIrrigating, reason)
	c.setPump(true)
}

func (c *Controller) completeCycle(now time.Time) {
	c.stopWatering(now)
	duration := now.Sub(c.pumpStartedAt)
	ev := messages.IrrigationCompletedEvent{
		CycleID:            c.cycleID,
		StartedAt:          c.pumpStartedAt,
		StoppedAt:          now,
		DurationSec:        duration.Seconds(),
		VolumeLiters:       duration.Minutes() * FlowRateLitersPerMinute,
		TimeToDrySec:       c.timeToDry.Seconds(),
		TriggerClusterSize: c.triggerSize,
		Checks:             c.checks,
	}
	if !c.firstWetAt.IsZero() {
		ev.TimeToWetSec = c.firstWetAt.Sub(c.pumpStartedAt).Seconds()
	}
	CyclesCompletedTotal.Inc()
	WateredLitersTotal.Add(ev.VolumeLiters)
	c.log.Info().
		Str("cycle", ev.CycleID).
		Dur("duration", duration).
		Float64("liters", ev.VolumeLiters).
		Int("checks", ev.Checks).
		Msg("controller: irrigation complete, field wet")
	c.sink.IrrigationCompleted(ev)
	c.transitionTo(now, entities.StateWaiting, "all sensors wet")
}

// fail handles a fatal diagnostic: pump off and latch SYSTEM_FAULT.
func (c *Controller) fail(now time.Time, ev messages.DiagnosticEvent) {
	c.report(ev)
	c.stopWatering(now)
	FaultsTotal.Inc()
	c.transitionTo(now, entities.StateSystemFault, ev.Message)
}

func (c *Controller) stopWatering(now time.Time) {
	c.setPump(false)
	c.lastWateringStop = now
}

// transitionTo is the only place state changes. Leaving IRRIGATING always means
// the pump goes off, and every new state restarts its periodic timer.
func (c *Controller) transitionTo(now time.Time, to entities.SystemState, reason string) {
	from := c.state
	if to != entities.StateIrrigating {
		c.setPump(false)
	}
	c.state = to
	c.stateSince = now
	c.lastCheck = now
	observeState(to)

	evt := c.log.Info()
	if to == entities.StateSystemFault {
		evt = c.log.Error()
	}
	evt.Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("controller: state change")
	c.sink.StateChanged(messages.StateChangeEvent{
		From:      from,
		To:        to,
		Reason:    reason,
		PumpOn:    c.pumpOn || to == entities.StateIrrigating,
		Timestamp: now,
	})
}

func (c *Controller) setPump(on bool) {
	if err := c.pump.SetPump(on); err != nil {
		c.log.Error().Err(err).Bool("on", on).Msg("controller: pump driver failed")
		if on != c.pumpOn {
			c.report(messages.DiagnosticEvent{
				Kind:      messages.DiagPumpDriverFailed,
				Severity:  messages.SeverityError,
				SensorID:  -1,
				Message:   fmt.Sprintf("set pump %v: %v", on, err),
				Timestamp: c.clock.Now(),
			})
		}
	}
	c.pumpOn = on
	observePump(on)
}

// ===================== Commands =====================

// Apply executes an operator command between ticks.
func (c *Controller) Apply(cmd Command) error {
	now := c.clock.Now()
	c.log.Info().Str("command", cmd.String()).Str("state", string(c.state)).Msg("controller: command")

	switch cmd.Kind {
	case CmdForceState:
		return c.forceState(now, cmd.State)

	case CmdInjectReading:
		if cmd.SensorID < 0 || cmd.SensorID >= len(c.sensors) {
			return fmt.Errorf("%w: id %d, have %d sensors", ErrInvalidSensor, cmd.SensorID, len(c.sensors))
		}
		inj, ok := c.reader.(Injector)
		if !ok {
			return fmt.Errorf("%w: sensor reader does not accept injected values", ErrCommandRejected)
		}
		return inj.Inject(cmd.SensorID, cmd.Value)

	case CmdResetFault:
		if c.state == entities.StateIrrigating {
			c.stopWatering(now)
		}
		c.diag.Reset()
		c.gradientLevel = GradientNone
		c.transitionTo(now, entities.StateMonitoring, "reset by operator")
		return nil

	case CmdPumpTest:
		if c.state == entities.StateIrrigating || c.state == entities.StateSystemFault {
			return fmt.Errorf("%w: pump test not allowed in %s", ErrCommandRejected, c.state)
		}
		d := cmd.Duration
		if d <= 0 {
			d = DefaultPumpTest
		}
		if d > MaxPumpTest {
			d = MaxPumpTest
		}
		c.log.Warn().Dur("duration", d).Msg("controller: pump test started")
		c.setPump(true)
		c.clock.Sleep(d)
		c.setPump(false)
		c.log.Info().Msg("controller: pump test finished")
		return nil
	}
	return fmt.Errorf("%w: kind %d", ErrUnknownCommand, cmd.Kind)
}

func (c *Controller) forceState(now time.Time, to entities.SystemState) error {
	if to == entities.StateSystemFault {
		return fmt.Errorf("%w: %s can only be entered by a failed irrigation", ErrCommandRejected, to)
	}
	if c.state == entities.StateSystemFault {
		return ErrFaultLatched
	}
	if to == c.state {
		return nil
	}

	switch to {
	case entities.StateIrrigating:
		c.refreshSensors()
		c.startIrrigation(now, 0, "forced by operator")
	case entities.StateWaiting:
		if c.state == entities.StateIrrigating {
			// operator ended the cycle early: no completion report
			c.stopWatering(now)
		}
		c.transitionTo(now, entities.StateWaiting, "forced by operator")
	case entities.StateMonitoring:
		if c.state == entities.StateIrrigating {
			c.stopWatering(now)
		}
		c.transitionTo(now, entities.StateMonitoring, "forced by operator")
	default:
		return fmt.Errorf("%w: state %q", ErrUnknownCommand, to)
	}
	return nil
}

// ===================== Sensors =====================

// refreshSensors reads every channel and reclassifies it before anything else
// looks at the array. Returns the raw sum.
func (c *Controller) refreshSensors() int {
	sum := 0
	for i := range c.sensors {
		s := &c.sensors[i]
		s.RawValue = c.reader.Read(s.ID)
		s.Percentage = c.conv.ToPercentage(s.RawValue)
		s.IsDry = c.conv.IsDry(s.RawValue)
		sum += s.RawValue
	}
	return sum
}

func (c *Controller) rawSum() int {
	sum := 0
	for _, s := range c.sensors {
		sum += s.RawValue
	}
	return sum
}

func (c *Controller) detectCluster() ClusterResult {
	res := c.detector.FindDryCluster(c.sensors, c.cfg.MinClusterSize, c.cfg.NeighborDistanceSquared())
	c.lastCluster = res
	observeReadings(c.sensors, res)
	return res
}

// analyzeGradient reports only when the level changes, so a persistent slope is
// not repeated on every check.
func (c *Controller) analyzeGradient(now time.Time) {
	g := AnalyzeGradient(c.sensors, c.cfg.TopRowY, c.cfg.BottomRowY, c.cfg.GradientThreshold)
	c.lastGradient = g
	if g.Level == c.gradientLevel {
		return
	}
	c.gradientLevel = g.Level
	if g.Level == GradientNone {
		return
	}
	sev := messages.SeverityInfo
	if g.Level == GradientWarning {
		sev = messages.SeverityWarning
	}
	c.report(messages.DiagnosticEvent{
		Kind:      messages.DiagGradient,
		Severity:  sev,
		SensorID:  -1,
		Value:     g.Diff,
		Message:   g.Message(),
		Timestamp: now,
	})
}

func (c *Controller) allWetEnough() bool {
	for _, s := range c.sensors {
		if !c.conv.IsWetEnough(s.RawValue) {
			return false
		}
	}
	return len(c.sensors) > 0
}

func (c *Controller) anyWetEnough() bool {
	for _, s := range c.sensors {
		if c.conv.IsWetEnough(s.RawValue) {
			return true
		}
	}
	return false
}

// lastWatering falls back to boot time before the first cycle.
func (c *Controller) lastWatering() time.Time {
	if c.lastWateringStop.IsZero() {
		return c.bootAt
	}
	return c.lastWateringStop
}

func (c *Controller) smallClusterEvent(kind string, res ClusterResult, now time.Time) messages.DiagnosticEvent {
	ev := messages.DiagnosticEvent{
		Kind:      kind,
		Severity:  messages.SeverityInfo,
		SensorID:  -1,
		Value:     float64(res.Largest),
		Timestamp: now,
	}
	if kind == messages.DiagIsolatedDry {
		for _, s := range c.sensors {
			if s.IsDry {
				ev.SensorID = s.ID
				break
			}
		}
		ev.Message = fmt.Sprintf("isolated dry sensor %d ignored", ev.SensorID)
		return ev
	}
	ev.Message = fmt.Sprintf("dry cluster of %d below minimum %d", res.Largest, c.cfg.MinClusterSize)
	return ev
}

// ===================== Reporting =====================

func (c *Controller) report(ev messages.DiagnosticEvent) {
	DiagnosticsTotal.WithLabelValues(ev.Kind).Inc()
	var evt *zerolog.Event
	switch ev.Severity {
	case messages.SeverityError:
		evt = c.log.Error()
	case messages.SeverityWarning:
		evt = c.log.Warn()
	default:
		evt = c.log.Info()
	}
	evt.Str("kind", ev.Kind).Int("sensor", ev.SensorID).Bool("fatal", ev.Fatal).Msg("diagnostic: " + ev.Message)
	c.sink.Diagnostic(ev)
}

func (c *Controller) reportConfigWarnings(warnings []string, now time.Time) {
	for _, w := range warnings {
		c.report(messages.DiagnosticEvent{
			Kind:      messages.DiagConfigFallback,
			Severity:  messages.SeverityWarning,
			SensorID:  -1,
			Message:   w,
			Timestamp: now,
		})
	}
}

func (c *Controller) publishReadings(now time.Time) {
	c.sink.Readings(messages.ReadingsSnapshot{
		State:          c.state,
		Sensors:        append([]entities.SensorNode(nil), c.sensors...),
		LargestCluster: c.lastCluster.Largest,
		Timestamp:      now,
	})
}

func sameLayout(a, b []entities.SensorPosition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
