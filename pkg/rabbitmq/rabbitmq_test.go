package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client
	mu         sync.Mutex
	out        []published
	connected  bool
	connectErr error
	connects   int
	subscribed []map[string]byte
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr == nil {
		f.connected = true
	}
	return doneToken{err: f.connectErr}
}

func (f *fakeClient) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	own := make(map[string]byte, len(filters))
	for k, v := range filters {
		own[k] = v
	}
	f.subscribed = append(f.subscribed, own)
	return doneToken{}
}

func (f *fakeClient) Unsubscribe(...string) mqtt.Token { return doneToken{} }

func newTestConn(ctx context.Context, fc *fakeClient, cfg RabbitMQConfig) *Conn {
	return &Conn{cfg: cfg, client: fc, ctx: ctx, fatal: make(chan error, 1)}
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakeClient) IsConnected() bool { return f.connected }
func (f *fakeClient) Disconnect(uint)   { f.connected = false }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type fakeSubscriber struct {
	mu           sync.Mutex
	filters      map[string]byte
	cb           mqtt.MessageHandler
	unsubscribed []string
	subscribed   chan struct{}
}

func (s *fakeSubscriber) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) error {
	s.mu.Lock()
	s.filters, s.cb = filters, cb
	s.mu.Unlock()
	close(s.subscribed)
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	s.mu.Lock()
	s.unsubscribed = append(s.unsubscribed, topics...)
	s.mu.Unlock()
	return nil
}

func TestNewBackOffBounded(t *testing.T) {
	bo := NewBackOff(context.Background(), RabbitMQConfig{MaxRetries: 3, MaxInterval: time.Second})
	waits := 0
	for bo.NextBackOff() != backoff.Stop {
		waits++
		require.Less(t, waits, 10)
	}
	assert.Equal(t, 2, waits, "three attempts means two waits")
}

func TestNewBackOffUnbounded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bo := NewBackOff(ctx, RabbitMQConfig{MaxInterval: 50 * time.Millisecond})
	for i := 0; i < 500; i++ {
		d := bo.NextBackOff()
		require.NotEqual(t, backoff.Stop, d, "attempt %d", i)
		assert.LessOrEqual(t, d, 75*time.Millisecond)
	}
	cancel()
	assert.Equal(t, backoff.Stop, bo.NextBackOff())
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), &backoff.ZeroBackOff{}, func() error {
		calls++
		if calls < 4 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2), func() error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, &backoff.ZeroBackOff{}, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestPublisher(t *testing.T) {
	c := &fakeClient{connected: true}
	p := NewPublisher(c, "event/schedule", 1)

	require.NoError(t, p.PublishMessage("raw"))
	require.NoError(t, p.PublishTo("event/schedule/source1/flow1", map[string]int{"a": 1}))
	require.Error(t, p.PublishMessage(func() {}))

	require.Len(t, c.out, 2)
	assert.Equal(t, published{topic: "event/schedule", qos: 1, payload: []byte("raw")}, c.out[0])
	assert.Equal(t, "event/schedule/source1/flow1", c.out[1].topic)
	assert.JSONEq(t, `{"a":1}`, string(c.out[1].payload))

	p.Close()
	assert.False(t, c.connected)
}

func TestMultiConsumerDispatches(t *testing.T) {
	sub := &fakeSubscriber{subscribed: make(chan struct{})}
	var got []string
	var mu sync.Mutex
	mc := NewMultiConsumer(sub, []string{"source1/flowsensor/flow1", "source1/valve/valve1"}, 1, nil)
	mc.SetHandler(func(topic string, msg mqtt.Message) error {
		mu.Lock()
		got = append(got, topic+"="+string(msg.Payload()))
		mu.Unlock()
		return errors.New("ignored")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mc.ConsumeMessage(ctx) }()
	<-sub.subscribed

	assert.Equal(t, map[string]byte{"source1/flowsensor/flow1": 1, "source1/valve/valve1": 1}, sub.filters)
	sub.cb(nil, fakeMessage{topic: "source1/valve/valve1", payload: []byte(`{}`)})

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"source1/valve/valve1={}"}, got)
	assert.ElementsMatch(t, []string{"source1/flowsensor/flow1", "source1/valve/valve1"}, sub.unsubscribed)
}

func TestRestoreResubscribesRecordedFilters(t *testing.T) {
	fc := &fakeClient{connected: true}
	onConnect := 0
	c := newTestConn(context.Background(), fc, RabbitMQConfig{OnConnect: func() { onConnect++ }})

	telemetry := map[string]byte{"source1/flowsensor/flow1": 1, "source1/valve/valve1": 1}
	require.NoError(t, c.SubscribeMultiple(telemetry, nil))
	require.NoError(t, c.SubscribeMultiple(map[string]byte{"extra/#": 0}, nil))
	require.NoError(t, c.Unsubscribe("extra/#"))
	telemetry["source9/valve/valve9"] = 1 // caller's map is not retained

	c.restore()

	require.Len(t, fc.subscribed, 3)
	assert.Equal(t, map[string]byte{"source1/flowsensor/flow1": 1, "source1/valve/valve1": 1}, fc.subscribed[2])
	assert.Equal(t, 1, onConnect)
}

func TestSubscribeWhileDisconnectedWaitsForRestore(t *testing.T) {
	fc := &fakeClient{}
	c := newTestConn(context.Background(), fc, RabbitMQConfig{})

	require.NoError(t, c.SubscribeMultiple(map[string]byte{"a/b/c": 1}, nil))
	assert.Empty(t, fc.subscribed)

	c.restore()
	assert.Equal(t, []map[string]byte{{"a/b/c": 1}}, fc.subscribed)
}

func TestSuperviseReportsFatalWhenRetriesRunOut(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	c := newTestConn(context.Background(), fc, RabbitMQConfig{MaxRetries: 2, MaxInterval: time.Millisecond})

	c.supervise()

	select {
	case err := <-c.Fatal():
		assert.ErrorContains(t, err, "connection refused")
	case <-time.After(time.Second):
		t.Fatal("no error on Fatal()")
	}
	assert.Equal(t, 2, fc.connects)
	assert.False(t, c.reconnecting.Load())
}

func TestSuperviseReconnects(t *testing.T) {
	fc := &fakeClient{}
	c := newTestConn(context.Background(), fc, RabbitMQConfig{MaxRetries: 2, MaxInterval: time.Millisecond})

	c.supervise()

	assert.Equal(t, 1, fc.connects)
	assert.True(t, fc.IsConnectionOpen())
	select {
	case err := <-c.Fatal():
		t.Fatalf("unexpected fatal: %v", err)
	default:
	}
}

func TestSuperviseSkipsWhenCancelledOrBusy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := &fakeClient{connectErr: errors.New("refused")}
	c := newTestConn(ctx, fc, RabbitMQConfig{MaxRetries: 2})
	c.supervise()
	assert.Zero(t, fc.connects)

	c = newTestConn(context.Background(), fc, RabbitMQConfig{MaxRetries: 2})
	c.reconnecting.Store(true)
	c.supervise()
	assert.Zero(t, fc.connects, "a second supervisor must not start")
	assert.Empty(t, c.Fatal())
}
