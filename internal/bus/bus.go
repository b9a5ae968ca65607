// Package bus is the typed publish/subscribe and request/reply transport all
// modules communicate through. Delivery is at-least-once from the consumer's
// point of view; ordering holds per publisher, never across publishers.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fincontrol/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const defaultQueueCapacity = 256

// Handler consumes one message. It must be idempotent: the same logical
// message can arrive more than once after a transport reconnect.
type Handler func(ctx context.Context, m Message)

// Option tunes a Bus.
type Option struct {
	QueueCapacity int
}

type subscriber struct {
	name    string
	msgType MessageType
	q       *queue
	handler Handler
}

// Bus fans messages out to per-subscriber bounded queues. A full subscriber
// queue drops the message for that subscriber only.
type Bus struct {
	mu      sync.RWMutex
	subs    map[MessageType][]*subscriber
	pending sync.Map
	wg      sync.WaitGroup

	queueCap int
	closed   atomic.Bool
	drops    atomic.Uint64
}

// New allocates a bus. Subscribers attach through Subscribe before or after
// the first publish.
func New(opt Option) *Bus {
	capacity := opt.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Bus{
		subs:     make(map[MessageType][]*subscriber),
		queueCap: capacity,
	}
}

// Subscribe registers a handler for every future message of the given type.
// The handler runs on its own goroutine until ctx is done or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, msgType MessageType, name string, handler Handler) error {
	if b == nil {
		return exception.ErrNilInstance
	}
	if handler == nil {
		return exception.ErrBusNilHandler
	}
	if !msgType.IsAvailable() {
		return exception.ErrBusUnknownMessageType
	}
	if b.closed.Load() {
		return errors.Wrap(exception.ErrTransportUnavailable, "subscribe")
	}

	sub := &subscriber{
		name:    name,
		msgType: msgType,
		q:       newQueue(b.queueCap),
		handler: handler,
	}

	b.mu.Lock()
	b.subs[msgType] = append(b.subs[msgType], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.q.run(ctx, func(m Message) {
			dispatch(ctx, sub, m)
		})
	}()

	return nil
}

func dispatch(ctx context.Context, sub *subscriber, m Message) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("bus: handler %s panicked on %s: %+v", sub.name, m.Type, r)
		}
	}()
	sub.handler(ctx, m)
}

// Publish delivers the message to all current subscribers of its type and
// returns once it is queued, not once it is handled. A closed bus returns a
// transport error; callers log and continue rather than block.
func (b *Bus) Publish(m Message) error {
	if b == nil {
		return exception.ErrNilInstance
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if b.closed.Load() {
		return errors.Wrap(exception.ErrTransportUnavailable, "publish").With("type", string(m.Type))
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	b.completePending(m)

	b.mu.RLock()
	subs := b.subs[m.Type]
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.q.tryPush(m); err != nil {
			b.drops.Add(1)
			logs.Warnf("bus: drop %s for subscriber %s: %v", m.Type, sub.name, err)
		}
	}
	return nil
}

// Request publishes the message and waits for a reply carrying the same
// correlation id. A missing reply within the timeout is treated as lost; the
// caller proceeds on failure without retrying.
func (b *Bus) Request(ctx context.Context, m Message, timeout time.Duration) (Message, error) {
	if b == nil {
		return Message{}, exception.ErrNilInstance
	}
	if m.CorrelationID == "" {
		m.CorrelationID = m.ID
	}

	replyCh := make(chan Message, 1)
	b.pending.Store(m.CorrelationID, replyCh)
	defer b.pending.Delete(m.CorrelationID)

	if err := b.Publish(m); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-timer.C:
		return Message{}, errors.Wrap(exception.ErrBusReplyTimeout, "request").With("type", string(m.Type))
	case reply := <-replyCh:
		return reply, nil
	}
}

func (b *Bus) completePending(m Message) {
	if m.CorrelationID == "" || m.CorrelationID == m.ID {
		return
	}
	if waiter, ok := b.pending.Load(m.CorrelationID); ok {
		select {
		case waiter.(chan Message) <- m:
		default:
		}
	}
}

// Drops returns the number of messages dropped on full subscriber queues.
func (b *Bus) Drops() uint64 {
	if b == nil {
		return 0
	}
	return b.drops.Load()
}

// Close stops accepting publishes and waits for in-flight handlers.
func (b *Bus) Close() {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.q.close()
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}
