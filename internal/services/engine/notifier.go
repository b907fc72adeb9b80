package engine

import (
	"context"
	"log"
	"strings"

	"github.com/LeonardoBeccarini/waternet/internal/schedule"
)

// TopicPublisher is the publishing side of rabbitmq.Publisher.
type TopicPublisher interface {
	PublishTo(topic string, message interface{}) error
}

// ProgressPublisher announces schedule transitions on the bus, one topic
// per sensor: {prefix}/{source}/{sensor}.
type ProgressPublisher struct {
	pub    TopicPublisher
	prefix string
}

func NewProgressPublisher(pub TopicPublisher, prefix string) *ProgressPublisher {
	if strings.TrimSpace(prefix) == "" {
		prefix = "event/schedule"
	}
	return &ProgressPublisher{pub: pub, prefix: strings.TrimSuffix(prefix, "/")}
}

func (p *ProgressPublisher) Topic(source, sensor string) string {
	return p.prefix + "/" + source + "/" + sensor
}

func (p *ProgressPublisher) Notify(_ context.Context, tr schedule.Transition) {
	topic := p.Topic(tr.Entry.SourceName, tr.Entry.SensorName)
	if err := p.pub.PublishTo(topic, tr.Event()); err != nil {
		log.Printf("engine: publish %s: %v", topic, err)
	}
}
