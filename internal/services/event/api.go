package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Payload esposta al gateway
type Irrigation struct {
	CycleID      string  `json:"cycle_id,omitempty"`
	VolumeLiters float64 `json:"volume_l"`
	DurationSec  float64 `json:"duration_sec"`
	Time         string  `json:"time"` // RFC3339
}

// Querier is satisfied by api.QueryAPI.
type Querier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

type irrQueryParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseIrr(r *http.Request, defMin, defLim, defTOms int) irrQueryParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return irrQueryParams{
		Minutes:   get("minutes", defMin, 1, 7*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
}

func buildFlux(bucket string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == "system_event" and r.event_type == %q)
  |> filter(fn: (r) => r._field == "volume_l" or r._field == "duration_sec" or r._field == "cycle_id")
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> keep(columns: ["_time","volume_l","duration_sec","cycle_id"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, TypeIrrigationCompleted, limit)
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return 0
}

func runIrr(w http.ResponseWriter, r *http.Request, q Querier, bucket string, defMin, defLim int) {
	p := parseIrr(r, defMin, defLim, 2000)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	res, err := q.Query(ctx, buildFlux(bucket, p.Minutes, p.Limit))
	if err != nil {
		w.Header().Set("X-Error", "influx-query-error")
		_, _ = w.Write([]byte("[]"))
		return
	}
	defer func() { _ = res.Close() }()

	out := make([]Irrigation, 0, p.Limit)
	for res.Next() {
		rec := res.Record()
		item := Irrigation{
			VolumeLiters: toFloat(rec.ValueByKey("volume_l")),
			DurationSec:  toFloat(rec.ValueByKey("duration_sec")),
			Time:         rec.Time().UTC().Format(time.RFC3339),
		}
		if s, ok := rec.ValueByKey("cycle_id").(string); ok {
			item.CycleID = s
		}
		out = append(out, item)
	}
	if res.Err() != nil {
		w.Header().Set("X-Error", "influx-iter-error")
	}
	_ = json.NewEncoder(w).Encode(out)
}

// === HANDLER PUBBLICO ===
// GET /events/irrigation/latest?limit=20[&minutes=1440]
func NewIrrigationLatestHandler(q Querier, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runIrr(w, r, q, bucket, 1440, 20)
	})
}
