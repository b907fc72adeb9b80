package history

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const progressCSV = `#datatype,string,long,dateTime:RFC3339,string,string,string,string,string,double
#group,false,false,false,false,false,false,false,false,false
#default,_result,,,,,,,,
,result,table,_time,source,sensor,plan_id,from,to,volume_liters
,,0,2026-10-16T06:34:00Z,source1,flow2,p1,Scheduled,Running,10.2
,,0,2026-10-16T06:34:00Z,source1,flow1,p1,Running,Completed,10.2

`

func fakeInfluxServer(t *testing.T, status int, gotQuery *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var q struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &q)
		if gotQuery != nil {
			*gotQuery = q.Query
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"internal error","message":"boom"}`))
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(progressCSV))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseEventsQueryClamps(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events/schedule?limit=9999&minutes=0&source=source1", nil)
	p := parseEventsQuery(r)
	assert.Equal(t, 500, p.Limit)
	assert.Equal(t, 1, p.Minutes)
	assert.Equal(t, "source1", p.Source)
	assert.Equal(t, 2000, p.TimeoutMS)

	p = parseEventsQuery(httptest.NewRequest(http.MethodGet, "/events/schedule?limit=abc", nil))
	assert.Equal(t, 20, p.Limit)
	assert.Empty(t, p.Source)
}

func TestBuildProgressFlux(t *testing.T) {
	q := buildProgressFlux("waternet", eventsQuery{Minutes: 60, Limit: 5, Source: "source1"})
	assert.Contains(t, q, `from(bucket: "waternet")`)
	assert.Contains(t, q, "range(start: -60m)")
	assert.Contains(t, q, `r._measurement == "schedule_progress"`)
	assert.Contains(t, q, `r.source == "source1"`)
	assert.Contains(t, q, "limit(n: 5)")

	q = buildProgressFlux("waternet", eventsQuery{Minutes: 60, Limit: 5})
	assert.NotContains(t, q, "r.source")
}

func TestEventsHandler(t *testing.T) {
	var flux string
	srv := fakeInfluxServer(t, http.StatusOK, &flux)
	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	h := NewEventsHandler(client.QueryAPI("org"), "waternet")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/schedule?source=source1&limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Error"))
	assert.True(t, strings.Contains(flux, `r.source == "source1"`))

	var got []ProgressRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, ProgressRecord{
		Time: "2026-10-16T06:34:00Z", Source: "source1", Sensor: "flow2", PlanID: "p1",
		From: "Scheduled", To: "Running", VolumeLiters: 10.2,
	}, got[0])
	assert.Equal(t, "Completed", got[1].To)
}

func TestEventsHandlerQueryError(t *testing.T) {
	srv := fakeInfluxServer(t, http.StatusInternalServerError, nil)
	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	rec := httptest.NewRecorder()
	NewEventsHandler(client.QueryAPI("org"), "waternet").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/schedule", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "influx-query-error", rec.Header().Get("X-Error"))
	assert.JSONEq(t, "[]", rec.Body.String())
}
