package irrigation_controller

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeonardoBeccarini/spatial_irrigation/internal/model/entities"
)

const IrrigationNamespace = "irrigation"

var (
	StateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "state",
		Namespace: IrrigationNamespace,
		Help:      "1 for the active controller state, 0 otherwise.",
	}, []string{"state"})

	PumpOnGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "pump_on",
		Namespace: IrrigationNamespace,
		Help:      "Commanded pump output (1 = on).",
	})

	LargestDryClusterGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "largest_dry_cluster",
		Namespace: IrrigationNamespace,
		Help:      "Size of the largest connected dry cluster seen on the last check.",
	})

	DrySensorsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "dry_sensors",
		Namespace: IrrigationNamespace,
		Help:      "Number of sensors classified dry on the last check.",
	})

	SensorMoisturePercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "sensor_moisture_percent",
		Namespace: IrrigationNamespace,
		Help:      "Last moisture percentage per sensor.",
	}, []string{"sensor"})

	DiagnosticsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "diagnostics_total",
		Namespace: IrrigationNamespace,
		Help:      "Diagnostic events raised, by kind.",
	}, []string{"kind"})

	CyclesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "cycles_completed_total",
		Namespace: IrrigationNamespace,
		Help:      "Irrigation cycles that ended with the field wet.",
	})

	FaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "faults_total",
		Namespace: IrrigationNamespace,
		Help:      "Transitions into SYSTEM_FAULT.",
	})

	WateredLitersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "watered_liters_total",
		Namespace: IrrigationNamespace,
		Help:      "Estimated water delivered by completed cycles.",
	})
)

func observeState(st entities.SystemState) {
	for _, s := range entities.AllStates {
		v := 0.0
		if s == st {
			v = 1
		}
		StateGauge.WithLabelValues(string(s)).Set(v)
	}
}

func observePump(on bool) {
	if on {
		PumpOnGauge.Set(1)
		return
	}
	PumpOnGauge.Set(0)
}

func observeReadings(sensors []entities.SensorNode, cluster ClusterResult) {
	for _, s := range sensors {
		SensorMoisturePercent.WithLabelValues(strconv.Itoa(s.ID)).Set(float64(s.Percentage))
	}
	DrySensorsGauge.Set(float64(cluster.DryCount))
	LargestDryClusterGauge.Set(float64(cluster.Largest))
}
