package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/LeonardoBeccarini/waternet/internal/services/api"
	"github.com/LeonardoBeccarini/waternet/internal/services/gateway/app"
)

func main() {
	cfg := loadConfig()

	cc, err := api.Dial(cfg.EngineAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("gateway: dial %s: %v", cfg.EngineAddr, err)
	}
	defer cc.Close()

	gw := app.NewGateway(app.Config{
		HTTPTimeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		BreakerFailures: cfg.CBFails,
		BreakerOpenFor:  time.Duration(cfg.CBOpenMs) * time.Millisecond,
	}, api.NewClient(cc))

	mux := http.NewServeMux()
	gw.Routes(mux)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s (engine %s)", srv.Addr, cfg.EngineAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
