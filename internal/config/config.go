// Package config reads the engine settings from the environment and the
// optional topology file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/schedule"
	"github.com/LeonardoBeccarini/waternet/pkg/rabbitmq"
)

type Engine struct {
	Rabbit       rabbitmq.RabbitMQConfig
	TopologyPath string

	EmissionRateLPS float64
	Location        *time.Location
	RuntimeTick     time.Duration

	Workers     int
	QueueSize   int
	OnQueueFull string
	DedupTTL    time.Duration

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	DatabaseURL string
	HTTPPort    int
	GRPCPort    int
}

// HistoryEnabled reports whether enough Influx settings are present to
// write history.
func (e *Engine) HistoryEnabled() bool {
	return e.InfluxURL != "" && e.InfluxToken != ""
}

func FromEnv() (*Engine, error) {
	loc, err := time.LoadLocation(envStr("TZ", "Local"))
	if err != nil {
		return nil, fmt.Errorf("config: TZ: %w", err)
	}
	cfg := &Engine{
		Rabbit: rabbitmq.RabbitMQConfig{
			Host:        envStr("RABBITMQ_HOST", "localhost"),
			Port:        envInt("RABBITMQ_PORT", 1883),
			User:        envStr("RABBITMQ_USER", "guest"),
			Password:    envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID:    envStr("HOSTNAME", "waternet-engine"),
			MaxRetries:  envInt("MQTT_MAX_RETRIES", 0),
			MaxInterval: envDuration("MQTT_MAX_BACKOFF", 30*time.Second),
		},
		TopologyPath: envStr("TOPOLOGY_PATH", ""),

		EmissionRateLPS: envFloat("EMISSION_RATE_LPS", schedule.DefaultEmissionRateLPS),
		Location:        loc,
		RuntimeTick:     envDuration("RUNTIME_TICK", 5*time.Second),

		Workers:     envInt("RECONCILE_WORKERS", 8),
		QueueSize:   envInt("RECONCILE_QUEUE", 4096),
		OnQueueFull: envStr("ON_QUEUE_FULL", "drop"),
		DedupTTL:    envDuration("DEDUP_TTL", 10*time.Minute),

		InfluxURL:    envStr("INFLUX_URL", ""),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "waternet"),
		InfluxBucket: envStr("INFLUX_BUCKET", "telemetry"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPPort:    envInt("HTTP_PORT", 8080),
		GRPCPort:    envInt("GRPC_PORT", 9090),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *Engine) validate() error {
	if e.EmissionRateLPS <= 0 {
		return fmt.Errorf("config: EMISSION_RATE_LPS must be > 0, got %v", e.EmissionRateLPS)
	}
	if e.OnQueueFull != "drop" && e.OnQueueFull != "block" {
		return fmt.Errorf("config: ON_QUEUE_FULL must be drop or block, got %q", e.OnQueueFull)
	}
	if e.Workers <= 0 || e.QueueSize <= 0 {
		return fmt.Errorf("config: RECONCILE_WORKERS and RECONCILE_QUEUE must be > 0")
	}
	if e.Rabbit.MaxRetries < 0 {
		return fmt.Errorf("config: MQTT_MAX_RETRIES must be >= 0")
	}
	return nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envDuration accepts Go durations ("5s") or plain milliseconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// EnvList splits a comma separated variable, dropping blanks.
func EnvList(key, def string) []string {
	parts := strings.Split(envStr(key, def), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
