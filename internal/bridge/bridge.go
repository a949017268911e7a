// Package bridge relays bus events between processes over Redis pub/sub.
//
// Forwarded types are observed by low-priority listeners that copy each
// event into a bounded buffer; a background publisher sends them to the
// channel prefix+type. Ingested channels are decoded and queued into the
// local bus with Publish, so remote events are delivered on the next
// drain like any other. Every bridge has a random origin id; messages
// carrying its own origin are ignored, and events it ingests are never
// forwarded back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dshills/tickbus/internal/event"
	"github.com/dshills/tickbus/internal/event/topic"
)

// Defaults for bridge options.
const (
	DefaultChannelPrefix = "tickbus:"
	DefaultBufferSize    = 256
)

var (
	// ErrClosed is returned when using a closed bridge.
	ErrClosed = errors.New("bridge closed")

	// ErrNoTypes is returned by Forward and Ingest without any types.
	ErrNoTypes = errors.New("bridge: no event types given")
)

// Envelope is the wire form of a relayed event.
type Envelope struct {
	Origin    string          `json:"origin"`
	EventID   event.EventID   `json:"event_id"`
	Type      topic.Topic     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stats reports relay counters.
type Stats struct {
	Forwarded uint64 `json:"forwarded"`
	Ingested  uint64 `json:"ingested"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`

	// Echoes is the number of remembered ingested ids, at most the echo
	// window.
	Echoes int `json:"echoes"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithChannelPrefix sets the prefix of Redis channel names.
func WithChannelPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

// WithBufferSize sets the outbound buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithEchoWindow sets how many recent ingested event ids are remembered
// so they are not forwarded back. It should exceed the bus queue capacity.
func WithEchoWindow(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.echoWindow = n
		}
	}
}

// WithOrigin sets the origin id instead of a generated one.
func WithOrigin(origin string) Option {
	return func(b *Bridge) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

type forwardSub struct {
	typ topic.Topic
	id  event.ListenerID
}

// Bridge relays events between a bus and Redis.
type Bridge struct {
	bus    *event.Bus
	client *redis.Client
	logger zerolog.Logger

	origin     string
	prefix     string
	bufferSize int
	echoWindow int
	out        chan Envelope

	// mu orders ingest publishes against forward listeners, so an ingested
	// id is recorded before any drain can see the event.
	mu        sync.Mutex
	forwarded map[topic.Topic]forwardSub
	ingested  *echoSet
	pubsubs   []*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	nForwarded atomic.Uint64
	nIngested  atomic.Uint64
	nDropped   atomic.Uint64
	nErrors    atomic.Uint64
}

// New creates a bridge for bus using a Redis client built from opts and
// starts its publisher.
func New(bus *event.Bus, opts *redis.Options, options ...Option) *Bridge {
	b := &Bridge{
		bus:        bus,
		client:     redis.NewClient(opts),
		logger:     zerolog.Nop(),
		origin:     uuid.NewString(),
		prefix:     DefaultChannelPrefix,
		bufferSize: DefaultBufferSize,
		echoWindow: DefaultEchoWindow,
		forwarded:  make(map[topic.Topic]forwardSub),
	}
	for _, opt := range options {
		opt(b)
	}
	b.ingested = newEchoSet(b.echoWindow)

	b.logger = b.logger.With().Str("component", "bridge").Str("origin", b.origin).Logger()
	b.out = make(chan Envelope, b.bufferSize)
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.wg.Add(1)
	go b.publishLoop()

	return b
}

// Origin returns the bridge's origin id.
func (b *Bridge) Origin() string {
	return b.origin
}

// Channel returns the Redis channel for events of type t.
func (b *Bridge) Channel(t topic.Topic) string {
	return b.prefix + string(t)
}

// Ping checks the Redis connection.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Forward relays local events of the given types to Redis. Types already
// forwarded are skipped.
func (b *Bridge) Forward(types ...topic.Topic) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if len(types) == 0 {
		return ErrNoTypes
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		if _, ok := b.forwarded[t]; ok {
			continue
		}
		id, err := b.bus.Subscribe(t, event.ListenerFunc(b.forward), event.WithPriority(event.PriorityLow))
		if err != nil {
			return fmt.Errorf("forward %q: %w", t, err)
		}
		b.forwarded[t] = forwardSub{typ: t, id: id}
	}
	return nil
}

// forward is the bus listener for forwarded types. It never blocks.
func (b *Bridge) forward(payload any, ev event.Event) (any, error) {
	b.mu.Lock()
	remote := b.ingested.take(ev.ID)
	b.mu.Unlock()
	if remote || b.closed.Load() {
		return nil, nil
	}

	env := Envelope{
		Origin:    b.origin,
		EventID:   ev.ID,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.nErrors.Add(1)
			return nil, fmt.Errorf("bridge: encoding payload: %w", err)
		}
		env.Payload = data
	}

	select {
	case b.out <- env:
	default:
		b.nDropped.Add(1)
		b.logger.Warn().Str("type", string(ev.Type)).Msg("bridge buffer full, event dropped")
	}
	return nil, nil
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case env := <-b.out:
			b.publish(b.ctx, env)
		case <-b.ctx.Done():
			b.drain()
			return
		}
	}
}

// drain publishes what is left in the buffer when the bridge closes.
func (b *Bridge) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		select {
		case env := <-b.out:
			b.publish(ctx, env)
		default:
			return
		}
	}
}

func (b *Bridge) publish(ctx context.Context, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.nErrors.Add(1)
		return
	}
	if err := b.client.Publish(ctx, b.Channel(env.Type), data).Err(); err != nil {
		b.nErrors.Add(1)
		b.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("bridge publish failed")
		return
	}
	b.nForwarded.Add(1)
}

// Ingest subscribes to the Redis channels of the given types and queues
// received events into the bus until ctx is done or the bridge closes.
// It returns once the subscriptions are confirmed.
func (b *Bridge) Ingest(ctx context.Context, types ...topic.Topic) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if len(types) == 0 {
		return ErrNoTypes
	}

	channels := make([]string, len(types))
	for i, t := range types {
		channels[i] = b.Channel(t)
	}

	ps := b.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return fmt.Errorf("bridge subscribe: %w", err)
		}
	}

	b.mu.Lock()
	b.pubsubs = append(b.pubsubs, ps)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.ingestLoop(ctx, ps)

	b.logger.Debug().Strs("channels", channels).Msg("bridge ingesting")
	return nil
}

func (b *Bridge) ingestLoop(ctx context.Context, ps *redis.PubSub) {
	defer b.wg.Done()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = ps.Close()
			return
		case <-b.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.ingest(msg)
		}
	}
}

func (b *Bridge) ingest(msg *redis.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.nErrors.Add(1)
		b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("bridge message not decodable")
		return
	}
	if env.Origin == b.origin {
		return
	}

	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			b.nErrors.Add(1)
			return
		}
	}

	b.mu.Lock()
	id, err := b.bus.Publish(env.Type, payload)
	if err == nil {
		if _, ok := b.forwarded[env.Type]; ok {
			b.ingested.add(id)
		}
	}
	b.mu.Unlock()

	if err != nil {
		b.nErrors.Add(1)
		b.logger.Debug().Err(err).Str("type", string(env.Type)).Msg("bridge ingest rejected")
		return
	}
	b.nIngested.Add(1)
}

// Stats returns relay counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	echoes := b.ingested.len()
	b.mu.Unlock()

	return Stats{
		Forwarded: b.nForwarded.Load(),
		Ingested:  b.nIngested.Load(),
		Dropped:   b.nDropped.Load(),
		Errors:    b.nErrors.Load(),
		Echoes:    echoes,
	}
}

// Close removes the forward listeners, stops ingesting, publishes any
// buffered envelopes and closes the Redis client.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	for _, sub := range b.forwarded {
		b.bus.Unsubscribe(sub.typ, sub.id)
	}
	b.forwarded = make(map[topic.Topic]forwardSub)
	b.ingested = newEchoSet(b.echoWindow)
	pubsubs := b.pubsubs
	b.pubsubs = nil
	b.mu.Unlock()

	b.cancel()
	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	b.wg.Wait()

	return b.client.Close()
}
