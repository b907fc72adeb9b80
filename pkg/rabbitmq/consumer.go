package rabbitmq

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message. A returned error is logged; the message
// is not redelivered.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches messages until ctx is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Subscriber is the subscription side of Conn.
type Subscriber interface {
	SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MultiConsumer subscribes a set of topic filters at one QoS with a single handler.
type MultiConsumer struct {
	sub     Subscriber
	topics  []string
	qos     byte
	handler Handler
}

func NewMultiConsumer(sub Subscriber, topics []string, qos byte, handler Handler) *MultiConsumer {
	return &MultiConsumer{sub: sub, topics: topics, qos: qos, handler: handler}
}

// NewConsumer is a MultiConsumer on one topic.
func NewConsumer(sub Subscriber, topic string, qos byte, handler Handler) *MultiConsumer {
	return NewMultiConsumer(sub, []string{topic}, qos, handler)
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

func (m *MultiConsumer) dispatch(_ mqtt.Client, msg mqtt.Message) {
	if m.handler == nil {
		log.Printf("rabbitmq: no handler set for topic %s", msg.Topic())
		return
	}
	if err := m.handler(msg.Topic(), msg); err != nil {
		log.Printf("rabbitmq: error handling message on %s: %v", msg.Topic(), err)
	}
}

// ConsumeMessage subscribes every topic and blocks until ctx is done, then
// unsubscribes.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) error {
	filters := make(map[string]byte, len(m.topics))
	for _, t := range m.topics {
		filters[t] = m.qos
	}
	if err := m.sub.SubscribeMultiple(filters, m.dispatch); err != nil {
		return err
	}
	log.Printf("rabbitmq: subscribed to %d topics", len(filters))

	<-ctx.Done()

	if err := m.sub.Unsubscribe(m.topics...); err != nil {
		log.Printf("rabbitmq: unsubscribe: %v", err)
	}
	return nil
}
