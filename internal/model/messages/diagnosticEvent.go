package messages

import "time"

// Diagnostic kinds.
const (
	DiagLeak             = "leak"
	DiagClog             = "clog"
	DiagStagnation       = "stagnation"
	DiagMaxRuntime       = "max_runtime"
	DiagUnexpectedlyDry  = "unexpectedly_dry"
	DiagUnexpectedlyWet  = "unexpectedly_wet"
	DiagGradient         = "gradient"
	DiagIsolatedDry      = "isolated_dry"
	DiagSubClusterDry    = "sub_threshold_cluster"
	DiagInvalidSensor    = "invalid_sensor"
	DiagConfigFallback   = "config_fallback"
	DiagPumpDriverFailed = "pump_driver"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// DiagnosticEvent reports a condition found by the diagnostics layer. Only Fatal
// events are tied to a state change; everything else is advisory.
type DiagnosticEvent struct {
	Kind      string    `json:"kind"`
	Severity  string    `json:"severity"`
	SensorID  int       `json:"sensor_id"` // -1 when not sensor specific
	Value     float64   `json:"value"`
	Fatal     bool      `json:"fatal"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
