package event

import (
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	msg "github.com/LeonardoBeccarini/spatial_irrigation/internal/model/messages"
)

// EventToPoint normalizza CommonEvent in un *write.Point per InfluxDB.
func EventToPoint(evt CommonEvent) *write.Point {
	// Tag (solo stringhe)
	tags := map[string]string{
		"event_type":     evt.EventType,
		"source_service": evt.SourceService,
		"severity":       evt.Severity,
	}
	for k, v := range evt.Tags {
		if v != "" {
			tags[k] = v
		}
	}

	fields := map[string]interface{}{}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	// almeno un field
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}

	return influxdb2.NewPoint("system_event", tags, fields, evt.Timestamp)
}

// ReadingsToPoints emits one soil_moisture point per sensor.
func ReadingsToPoints(r msg.ReadingsSnapshot) []*write.Point {
	out := make([]*write.Point, 0, len(r.Sensors))
	for _, s := range r.Sensors {
		out = append(out, influxdb2.NewPoint("soil_moisture",
			map[string]string{
				"sensor_id": strconv.Itoa(s.ID),
				"state":     string(r.State),
			},
			map[string]interface{}{
				"raw":          int64(s.RawValue),
				"moisture_pct": int64(s.Percentage),
				"dry":          s.IsDry,
				"x":            int64(s.X),
				"y":            int64(s.Y),
			},
			r.Timestamp))
	}
	return out
}
