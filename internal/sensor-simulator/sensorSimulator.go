package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/waternet/internal/codec"
	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
	"github.com/LeonardoBeccarini/waternet/pkg/dedup"
	"github.com/LeonardoBeccarini/waternet/pkg/rabbitmq"
)

// TopicPublisher is the publishing side of rabbitmq.Publisher.
type TopicPublisher interface {
	PublishTo(topic string, message interface{}) error
	Close()
}

// SensorSimulator publishes the telemetry of one source and opens or closes
// its valves as schedule progress events arrive.
type SensorSimulator struct {
	generator *DataGenerator
	publisher TopicPublisher
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper
}

func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher TopicPublisher, gen *DataGenerator) *SensorSimulator {
	return &SensorSimulator{
		generator: gen,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
	}
}

// Start listens for schedule events and publishes a full round of readings
// every interval until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go func() {
			if err := s.consumer.ConsumeMessage(ctx); err != nil {
				log.Printf("simulator: consume: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.publisher.Close()
			return
		case now := <-ticker.C:
			s.PublishRound(now)
		}
	}
}

// PublishRound publishes one reading per simulated sensor.
func (s *SensorSimulator) PublishRound(now time.Time) {
	for _, t := range s.generator.Next(now) {
		topic, payload, err := codec.Encode(t)
		if err != nil {
			log.Printf("simulator: %v", err)
			continue
		}
		if err := s.publisher.PublishTo(topic, payload); err != nil {
			log.Printf("simulator: publish error: %v", err)
		}
	}
}

func (s *SensorSimulator) handleMessage(topic string, msg mqtt.Message) error {
	if !s.deduper.ShouldProcess(topic, dedup.Fingerprint(msg.Payload())) {
		return nil
	}
	var evt messages.ScheduleProgressEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("invalid ScheduleProgressEvent: %w", err)
	}
	if evt.SourceName != s.generator.source {
		return nil
	}
	switch evt.To {
	case entities.ProgressRunning:
		if s.generator.SetOpen(evt.SensorName, true) {
			log.Printf("simulator: %s/%s open", evt.SourceName, evt.SensorName)
		}
	case entities.ProgressCompleted:
		if s.generator.SetOpen(evt.SensorName, false) {
			log.Printf("simulator: %s/%s closed", evt.SourceName, evt.SensorName)
		}
	}
	return nil
}
