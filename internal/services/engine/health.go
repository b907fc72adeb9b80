package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/history"
)

// ConnChecker is satisfied by mqtt.Client.
type ConnChecker interface {
	IsConnectionOpen() bool
}

// Pinger is satisfied by influxdb2.Client.
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Health backs /healthz and /readyz. Influx is optional: a nil Influx means
// history is disabled and does not count against readiness.
type Health struct {
	MQTT    ConnChecker
	Influx  Pinger
	Writer  *history.Writer
	Service *Service
	// MinErrorAge is how long writes must have succeeded before /readyz passes.
	MinErrorAge time.Duration
}

type healthStatus struct {
	Status          string  `json:"status"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	InfluxOK        bool    `json:"influx_ok"`
	Loaded          bool    `json:"loaded"`
	Pending         int     `json:"pending"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}

func (h *Health) check(ctx context.Context) healthStatus {
	st := healthStatus{
		MQTTConnected: h.MQTT != nil && h.MQTT.IsConnectionOpen(),
		InfluxOK:      true,
	}
	if h.Service != nil {
		st.Loaded = h.Service.Loaded()
		st.Pending = h.Service.Reconciler.Pending()
	}
	if h.Influx != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ok, err := h.Influx.Ping(pctx)
		cancel()
		st.InfluxOK = ok && err == nil && h.Writer.LastErrorAge() > h.MinErrorAge
		st.LastWriteErrorS = h.Writer.LastErrorAge().Seconds()
	}
	switch {
	case st.MQTTConnected && st.InfluxOK && st.Loaded:
		st.Status = "ok"
	case st.MQTTConnected || st.Loaded:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

func (h *Health) Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.check(r.Context()))
	})
}

// Readyz answers 200 only when every dependency is ok.
func (h *Health) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ready := h.check(r.Context()).Status == "ok"
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool `json:"ready"`
		}{ready})
	})
}
