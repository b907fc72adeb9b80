package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/services/api"
)

// Routes registers the gateway endpoints on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/source", g.HandleSource)
	mux.HandleFunc("/api/schedule", g.HandleSchedule)
}

// HandleSource lists sources, looks up one sensor (?source=&sensor=) or
// registers a source on POST.
func (g *Gateway) HandleSource(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if src, name := q.Get("source"), q.Get("sensor"); src != "" && name != "" {
			res, err := g.engine.GetSensor(ctx, &api.GetSensorRequest{Source: src, Kind: q.Get("kind"), Name: name})
			if err != nil {
				g.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
			return
		}
		res, err := g.engine.ListSources(ctx)
		sources, stale := g.sources(res, err)
		if err != nil && !stale {
			g.fail(w, err)
			return
		}
		if stale {
			w.Header().Set("X-Stale", "true")
		}
		writeJSON(w, http.StatusOK, sources)
		g.cfg.Logger.Printf("gateway: GET /api/source [%dms] sources=%d stale=%v", time.Since(start).Milliseconds(), len(sources), stale)

	case http.MethodPost:
		var in SourceRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid body: " + err.Error()})
			return
		}
		res, err := g.engine.RegisterSource(ctx, &api.RegisterSourceRequest{
			Name:            in.Name,
			FlowSensors:     in.FlowSensors,
			PressureSensors: in.PressureSensors,
			Valves:          in.Valves,
		})
		if err != nil {
			g.fail(w, err)
			return
		}
		code := http.StatusOK
		if res.Created {
			code = http.StatusCreated
		}
		writeJSON(w, code, res.Source)

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleSchedule lists (GET), compiles (POST) or removes (DELETE) the
// schedule of a source.
func (g *Gateway) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	source := r.URL.Query().Get("source")
	switch r.Method {
	case http.MethodGet:
		res, err := g.engine.ListSchedules(ctx, &api.ListSchedulesRequest{Source: source})
		if err != nil {
			g.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Entries)

	case http.MethodPost:
		var in ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid body: " + err.Error()})
			return
		}
		res, err := g.engine.RequestSchedule(ctx, &api.RequestScheduleRequest{
			Source:    in.Source,
			StartTime: in.StartTime,
			Volumes:   in.Volumes,
		})
		if err != nil {
			g.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	case http.MethodDelete:
		if source == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing source"})
			return
		}
		res, err := g.engine.RemoveSchedule(ctx, &api.RemoveScheduleRequest{Source: source})
		if err != nil {
			g.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// sources keeps the last good listing and serves it while the engine is
// unreachable.
func (g *Gateway) sources(res *api.ListSourcesResponse, err error) ([]entities.Source, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		g.lastSources = res.Sources
		if g.lastSources == nil {
			g.lastSources = []entities.Source{}
		}
		return g.lastSources, false
	}
	if g.lastSources != nil && httpStatus(err) >= http.StatusBadGateway {
		return g.lastSources, true
	}
	return nil, false
}

func (g *Gateway) fail(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		g.cfg.Logger.Printf("gateway: engine error: %v", err)
	}
	writeJSON(w, code, ErrorResponse{Error: errorMessage(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
