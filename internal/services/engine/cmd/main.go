package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/waternet/internal/config"
	"github.com/LeonardoBeccarini/waternet/internal/history"
	"github.com/LeonardoBeccarini/waternet/internal/metrics"
	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/reconciler"
	"github.com/LeonardoBeccarini/waternet/internal/registry"
	"github.com/LeonardoBeccarini/waternet/internal/schedule"
	"github.com/LeonardoBeccarini/waternet/internal/services/api"
	"github.com/LeonardoBeccarini/waternet/internal/services/engine"
	"github.com/LeonardoBeccarini/waternet/internal/store"
	"github.com/LeonardoBeccarini/waternet/pkg/dedup"
	"github.com/LeonardoBeccarini/waternet/pkg/rabbitmq"
)

func openStore(ctx context.Context, url string) (store.Store, func(), error) {
	if url == "" {
		log.Printf("engine: DATABASE_URL not set, keeping state in memory")
		return store.NewMemory(), func() {}, nil
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pg, func() { _ = db.Close() }, nil
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	topo, err := config.LoadTopology(cfg.TopologyPath)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Metrics ===
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)
	cfg.Rabbit.OnConnect = m.Reconnect

	// === Store ===
	st, closeStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("engine: store: %v", err)
	}
	defer closeStore()

	// === InfluxDB (optional) ===
	var (
		influx influxdb2.Client
		writer *history.Writer
	)
	if cfg.HistoryEnabled() {
		influx = influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influx.Close()
		writer = history.NewWriter(influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket), history.Config{}, m)
	}

	// === Core ===
	reg := registry.New(st)
	book := schedule.NewBook(st)
	compiler := schedule.NewCompiler(book, reg, schedule.Config{
		EmissionRateLPS: cfg.EmissionRateLPS,
		Location:        cfg.Location,
	})

	// === MQTT ===
	conn, err := rabbitmq.NewRabbitMQConn(&cfg.Rabbit, ctx)
	if err != nil {
		log.Fatalf("engine: mqtt connection error: %v", err)
	}
	defer rabbitmq.CloseRabbitMQConn(conn)

	progress := engine.NewProgressPublisher(rabbitmq.NewPublisher(conn.Client(), "", 1), "event/schedule")
	notifiers := schedule.Notifiers{progress}
	if writer != nil {
		notifiers = append(notifiers, writer)
	}
	runtime := schedule.NewRuntime(book, notifiers)
	runtime.OnTransition(func(to entities.Progress) { m.Transition(string(to)) })

	recCfg := reconciler.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize, OnQueueFull: cfg.OnQueueFull}
	if writer != nil {
		recCfg.OnApplied = writer.RecordTelemetry
	}

	svc := engine.NewService(engine.Deps{
		Registry:   reg,
		Book:       book,
		Runtime:    runtime,
		Reconciler: reconciler.New(reg, recCfg, m),
		Dedup:      dedup.New(cfg.DedupTTL, 50000),
		History:    writer,
		Consumer:   rabbitmq.NewMultiConsumer(conn, topo.Topics(), 1, nil),
		Metrics:    m,
		Tick:       cfg.RuntimeTick,
	})
	if err := svc.Load(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
	if topo.Register {
		for _, name := range topo.Sources {
			if _, _, err := reg.RegisterSource(ctx, name,
				topo.SensorNames(entities.KindFlow),
				topo.SensorNames(entities.KindPressure),
				topo.SensorNames(entities.KindValve)); err != nil {
				log.Fatalf("engine: register %s: %v", name, err)
			}
		}
	}

	// === HTTP ===
	health := &engine.Health{MQTT: conn.Client(), Writer: writer, Service: svc, MinErrorAge: 2 * time.Second}
	if influx != nil {
		health.Influx = influx
	}
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", health.Readyz())
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	if influx != nil {
		mux.Handle("/events/schedule", history.NewEventsHandler(influx.QueryAPI(cfg.InfluxOrg), cfg.InfluxBucket))
	}
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// === gRPC ===
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		log.Fatalf("engine: grpc listen: %v", err)
	}
	gs := api.NewGRPCServer(api.NewEngine(reg, compiler))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		log.Printf("engine: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("engine: gRPC listening on :%d", cfg.GRPCPort)
		return gs.Serve(lis)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case err := <-conn.Fatal():
			log.Printf("engine: mqtt: %v", err)
			stop()
		}
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shCtx)
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("engine: %v", err)
	}
	log.Printf("engine: stopped")
}
