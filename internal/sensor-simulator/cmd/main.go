package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/waternet/internal/schedule"
	sensorSimulator "github.com/LeonardoBeccarini/waternet/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/waternet/pkg/rabbitmq"
)

func main() {
	source := flag.String("source", "source1", "source to simulate")
	flows := flag.Int("flows", 2, "flow sensors (and valves) on the source")
	pressures := flag.Int("pressures", 1, "pressure sensors on the source")
	clientID := flag.String("client-id", "simulator-source1", "MQTT client ID")
	host := flag.String("host", "localhost", "broker host")
	port := flag.Int("port", 1883, "broker MQTT port")
	user := flag.String("user", "guest", "broker user")
	pass := flag.String("password", "guest", "broker password")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	rate := flag.Float64("rate", schedule.DefaultEmissionRateLPS, "flow of an open line in l/s")
	eventPrefix := flag.String("event-prefix", "event/schedule", "schedule progress topic prefix")
	flag.Parse()

	cfg := &rabbitmq.RabbitMQConfig{
		Host:       *host,
		Port:       *port,
		User:       *user,
		Password:   *pass,
		ClientID:   *clientID,
		MaxRetries: 5,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := rabbitmq.NewRabbitMQConn(cfg, ctx)
	if err != nil {
		log.Fatal(err)
	}

	publisher := rabbitmq.NewPublisher(conn.Client(), "", 1)
	consumer := rabbitmq.NewConsumer(conn, *eventPrefix+"/"+*source+"/+", 1, nil)
	generator := sensorSimulator.NewDataGenerator(*source, *flows, *pressures, *rate, time.Now().UnixNano())

	sensorSimulator.NewSensorSimulator(consumer, publisher, generator).Start(ctx, *interval)
}
