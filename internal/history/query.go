package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Querier is satisfied by api.QueryAPI.
type Querier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

// ProgressRecord is one stored schedule transition.
type ProgressRecord struct {
	Time         string  `json:"time"` // RFC3339
	Source       string  `json:"source"`
	Sensor       string  `json:"sensor"`
	PlanID       string  `json:"plan_id"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	VolumeLiters float64 `json:"volume_liters"`
}

type eventsQuery struct {
	Source    string
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseEventsQuery(r *http.Request) eventsQuery {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return clamp(n, min, max)
			}
		}
		return def
	}
	return eventsQuery{
		Source:    strings.TrimSpace(q.Get("source")),
		Minutes:   get("minutes", 1440, 1, 7*24*60),
		Limit:     get("limit", 20, 1, 500),
		TimeoutMS: get("timeout_ms", 2000, 200, 5000),
	}
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// buildProgressFlux selects the newest transitions, one row per point.
func buildProgressFlux(bucket string, p eventsQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%dm)\n", p.Minutes)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", MeasurementSchedule)
	if p.Source != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.source == %q)\n", p.Source)
	}
	b.WriteString("  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	b.WriteString("  |> group()\n")
	b.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", p.Limit)
	return b.String()
}

// RecentTransitions reads the latest stored schedule transitions.
func RecentTransitions(ctx context.Context, q Querier, bucket string, p eventsQuery) ([]ProgressRecord, error) {
	res, err := q.Query(ctx, buildProgressFlux(bucket, p))
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer res.Close()

	out := make([]ProgressRecord, 0, p.Limit)
	for res.Next() {
		rec := res.Record()
		out = append(out, ProgressRecord{
			Time:         rec.Time().UTC().Format(time.RFC3339),
			Source:       str(rec.ValueByKey("source")),
			Sensor:       str(rec.ValueByKey("sensor")),
			PlanID:       str(rec.ValueByKey("plan_id")),
			From:         str(rec.ValueByKey("from")),
			To:           str(rec.ValueByKey("to")),
			VolumeLiters: num(rec.ValueByKey("volume_liters")),
		})
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("history: query: %w", err)
	}
	return out, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	}
	return 0
}

// NewEventsHandler serves GET /events/schedule?source=&limit=&minutes=.
// A failing query yields an empty list and an X-Error header.
func NewEventsHandler(q Querier, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseEventsQuery(r)
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		out, err := RecentTransitions(ctx, q, bucket, p)
		if err != nil {
			log.Printf("history: %v", err)
			w.Header().Set("X-Error", "influx-query-error")
		}
		if out == nil {
			out = []ProgressRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}
