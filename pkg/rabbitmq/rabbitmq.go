package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	// MaxRetries bounds every connect attempt sequence; 0 retries forever.
	MaxRetries  int
	MaxInterval time.Duration
	// OnConnect runs after every successful (re)connection and resubscription.
	OnConnect func()
}

type subscription struct {
	filters map[string]byte
	cb      mqtt.MessageHandler
}

// Conn is an MQTT connection that reconnects itself with exponential
// backoff and restores its subscriptions after every reconnect.
type Conn struct {
	cfg    RabbitMQConfig
	client mqtt.Client
	ctx    context.Context

	mu   sync.Mutex
	subs []subscription

	reconnecting atomic.Bool
	fatal        chan error
}

// NewBackOff is the retry policy for connecting: exponential with no
// elapsed-time cap, bounded by MaxRetries when it is positive.
func NewBackOff(ctx context.Context, cfg RabbitMQConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if cfg.MaxInterval > 0 {
		bo.MaxInterval = cfg.MaxInterval
		bo.InitialInterval = min(bo.InitialInterval, cfg.MaxInterval)
		bo.Reset()
	}
	var b backoff.BackOff = bo
	if cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries-1))
	}
	return backoff.WithContext(b, ctx)
}

// NewRabbitMQConn connects to the broker's MQTT plugin, retrying per
// NewBackOff. The connection is closed when ctx is done.
func NewRabbitMQConn(cfg *RabbitMQConfig, ctx context.Context) (*Conn, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	c := &Conn{cfg: *cfg, ctx: ctx, fatal: make(chan error, 1)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	// supervise owns reconnection.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(func(mqtt.Client) { c.restore() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("rabbitmq: connection lost: %v", err)
		go c.supervise()
	})
	c.client = mqtt.NewClient(opts)

	if err := Retry(ctx, NewBackOff(ctx, c.cfg), c.connectOnce); err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}
	log.Printf("rabbitmq: connected to %s", connAddr)

	go func() {
		<-ctx.Done()
		c.client.Disconnect(250)
		log.Println("rabbitmq: connection closed")
	}()
	return c, nil
}

// Retry runs op until it succeeds or bo gives up, logging each failure.
func Retry(ctx context.Context, bo backoff.BackOff, op func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, bo, func(err error, wait time.Duration) {
		log.Printf("rabbitmq: attempt %d failed: %v (retrying in %s)", attempt, err, wait)
	})
}

func (c *Conn) connectOnce() error {
	t := c.client.Connect()
	t.Wait()
	return t.Error()
}

func (c *Conn) supervise() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)
	if c.ctx.Err() != nil {
		return
	}
	if err := Retry(c.ctx, NewBackOff(c.ctx, c.cfg), c.connectOnce); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Printf("rabbitmq: giving up reconnecting: %v", err)
		select {
		case c.fatal <- err:
		default:
		}
		return
	}
	log.Printf("rabbitmq: reconnected")
}

func (c *Conn) restore() {
	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		if t := c.client.SubscribeMultiple(s.filters, s.cb); t.Wait() && t.Error() != nil {
			log.Printf("rabbitmq: resubscribe %d topics: %v", len(s.filters), t.Error())
		}
	}
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
}

// Client is the underlying paho client, stable across reconnects.
func (c *Conn) Client() mqtt.Client { return c.client }

// Fatal delivers an error once reconnecting has been given up.
func (c *Conn) Fatal() <-chan error { return c.fatal }

// SubscribeMultiple subscribes now and again after every reconnect.
func (c *Conn) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) error {
	own := make(map[string]byte, len(filters))
	for t, q := range filters {
		own[t] = q
	}
	c.mu.Lock()
	c.subs = append(c.subs, subscription{filters: own, cb: cb})
	c.mu.Unlock()
	if !c.client.IsConnectionOpen() {
		return nil
	}
	t := c.client.SubscribeMultiple(filters, cb)
	t.Wait()
	return t.Error()
}

func (c *Conn) Unsubscribe(topics ...string) error {
	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
	}
	c.mu.Lock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		for t := range s.filters {
			if _, ok := drop[t]; ok {
				delete(s.filters, t)
			}
		}
		if len(s.filters) > 0 {
			kept = append(kept, s)
		}
	}
	c.subs = kept
	c.mu.Unlock()
	if !c.client.IsConnectionOpen() {
		return nil
	}
	t := c.client.Unsubscribe(topics...)
	t.Wait()
	return t.Error()
}

func CloseRabbitMQConn(c *Conn) {
	if c != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		log.Println("rabbitmq: connection closed")
	}
}
