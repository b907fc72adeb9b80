package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher publishes on a fixed topic.
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos}
}

// PublishMessage publishes strings and byte slices as they are and any
// other value as JSON.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishTo(p.topic, message)
}

// PublishTo publishes on topic instead of the publisher's own.
func (p *Publisher) PublishTo(topic string, message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}
		payload = b
	}

	token := p.client.Publish(topic, p.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message on %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects the client if it is still connected.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Println("rabbitmq: publisher disconnected")
	}
}
