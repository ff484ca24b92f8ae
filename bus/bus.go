// Package bus is an in-process topic bus. It gives the plant the same delivery model it gets from a
// ROS node: each subscription owns a bounded queue and a dispatch goroutine, and a full queue drops
// its oldest message to make room for the newest.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/pcplant/logging"
	"go.viam.com/pcplant/utils"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Handler receives one message. Handlers of a single subscription are called sequentially.
type Handler func(msg interface{})

// Subscription is a live registration of a Handler on a topic.
type Subscription interface {
	ID() string
	Topic() string
	// Delivered counts messages handed to the handler.
	Delivered() uint64
	// Dropped counts messages discarded because the queue was full.
	Dropped() uint64
	Unsubscribe() error
}

// Bus routes published messages to the subscriptions of their topic.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*subscription
	workers *utils.Workers
	logger  logging.Logger
	closed  bool
}

// New returns an empty bus.
func New(logger logging.Logger) *Bus {
	return &Bus{
		subs:    make(map[string]map[string]*subscription),
		workers: utils.NewWorkers(context.Background()),
		logger:  logger,
	}
}

// Subscribe registers handler on topic with a queue of queueSize messages (at least one).
func (b *Bus) Subscribe(topic string, queueSize int, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, errors.New("cannot subscribe to an empty topic")
	}
	if handler == nil {
		return nil, errors.Errorf("nil handler for topic %s", topic)
	}
	if queueSize < 1 {
		queueSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &subscription{
		id:        uuid.NewString(),
		topic:     topic,
		bus:       b,
		handler:   handler,
		queueSize: queueSize,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    b.logger,
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscription)
	}
	b.subs[topic][sub.id] = sub
	b.workers.Go(sub.dispatch)

	b.logger.Debugw("subscribed", "topic", topic, "id", sub.id, "queue_size", queueSize)
	return sub, nil
}

// Publish enqueues msg on every subscription of topic. It never blocks on a slow handler.
func (b *Bus) Publish(topic string, msg interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs[topic] {
		sub.enqueue(msg)
	}
	return nil
}

// Topics returns the topics with at least one subscription.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.subs))
	for topic, subs := range b.subs {
		if len(subs) > 0 {
			topics = append(topics, topic)
		}
	}
	return topics
}

// Publisher returns a publisher bound to topic.
func (b *Bus) Publisher(topic string) *Publisher {
	return &Publisher{bus: b, topic: topic}
}

// Close stops every dispatch goroutine. Queued messages not yet handled are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.subs = make(map[string]map[string]*subscription)
	b.mu.Unlock()

	b.workers.Stop()
}

func (b *Bus) remove(sub *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[sub.topic]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.subs, sub.topic)
	}
	return true
}

// Publisher publishes to a single topic.
type Publisher struct {
	bus   *Bus
	topic string
}

// Topic returns the bound topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish publishes msg on the bound topic.
func (p *Publisher) Publish(msg interface{}) error {
	return p.bus.Publish(p.topic, msg)
}

type subscription struct {
	id        string
	topic     string
	bus       *Bus
	handler   Handler
	queueSize int
	logger    logging.Logger

	mu     sync.Mutex
	queue  []interface{}
	signal chan struct{}

	doneOnce sync.Once
	done     chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) Topic() string     { return s.topic }
func (s *subscription) Delivered() uint64 { return s.delivered.Load() }
func (s *subscription) Dropped() uint64   { return s.dropped.Load() }

func (s *subscription) Unsubscribe() error {
	if !s.bus.remove(s) {
		return errors.Errorf("subscription %s on %s is not active", s.id, s.topic)
	}
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

func (s *subscription) enqueue(msg interface{}) {
	s.mu.Lock()
	if len(s.queue) >= s.queueSize {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.dropped.Inc()
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) next() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	msg := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return msg, true
}

func (s *subscription) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			msg, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
			}
			s.deliver(msg)
		}
	}
}

func (s *subscription) deliver(msg interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("subscriber panicked", "topic", s.topic, "id", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.handler(msg)
	s.delivered.Inc()
}
