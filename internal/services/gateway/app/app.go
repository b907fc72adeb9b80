package app

import (
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

type Config struct {
	HTTPTimeout time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration

	Logger *log.Logger
}

// Gateway exposes the engine's operations as a JSON HTTP API.
type Gateway struct {
	cfg    Config
	engine *Upstream

	mu          sync.Mutex
	lastSources []entities.Source
}

func NewGateway(cfg Config, engine EngineClient) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	cb := NewCircuitBreaker("engine", cfg.BreakerFailures, cfg.BreakerOpenFor, cfg.Logger)
	return &Gateway{cfg: cfg, engine: NewUpstream(engine, cb)}
}
