package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"taskrails/internal/domain"
)

// DefaultCapacity is the per-subscriber backlog used when New is given a
// non-positive capacity.
const DefaultCapacity = 100

// Bus is an in-process, goroutine-safe broadcast bus. Each subscriber owns a
// bounded backlog; when it is full the oldest payload is dropped and the
// subscriber sees a gap marker before the next payload it receives.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*subscription
	nextID   atomic.Uint64
	capacity int
	logger   *slog.Logger
	closed   atomic.Bool
}

var _ domain.Broadcaster = (*Bus)(nil)

// New creates a bus whose subscribers each buffer up to capacity payloads.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*subscription),
		capacity: capacity,
		logger:   logger,
	}
}

// Publish fans payload out to every current subscriber. It never blocks on a
// slow subscriber.
func (b *Bus) Publish(payload string) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if dropped := s.push(payload); dropped {
			b.logger.Debug("eventbus: subscriber lagging, dropped oldest", "sub_id", s.id)
		}
	}
}

// Subscribe registers a new subscriber. Payloads published before the call
// are not delivered to it.
func (b *Bus) Subscribe() domain.Subscription {
	id := b.nextID.Add(1)
	s := &subscription{
		id:       id,
		bus:      b,
		capacity: b.capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if b.closed.Load() {
		s.closeOnce.Do(func() { close(s.done) })
		return s
	}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()
	return s
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription and turns further publishes into no-ops.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.closeOnce.Do(func() { close(s.done) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

type subscription struct {
	id       uint64
	bus      *Bus
	capacity int

	mu      sync.Mutex
	backlog []string
	missed  uint64

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// push appends payload, dropping the oldest entry when full. It reports
// whether a payload was dropped.
func (s *subscription) push(payload string) bool {
	s.mu.Lock()
	dropped := false
	if len(s.backlog) >= s.capacity {
		s.backlog = s.backlog[1:]
		s.missed++
		dropped = true
	}
	s.backlog = append(s.backlog, payload)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (s *subscription) Ready() <-chan struct{} { return s.ready }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Next() (domain.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.missed > 0 {
		missed := s.missed
		s.missed = 0
		return domain.Delivery{Missed: missed}, true
	}
	if len(s.backlog) == 0 {
		return domain.Delivery{}, false
	}
	payload := s.backlog[0]
	s.backlog[0] = ""
	s.backlog = s.backlog[1:]
	return domain.Delivery{Payload: payload}, true
}

func (s *subscription) Recv(ctx context.Context) (domain.Delivery, error) {
	for {
		if d, ok := s.Next(); ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return domain.Delivery{}, ctx.Err()
		case <-s.done:
			// Drain anything published before the close.
			if d, ok := s.Next(); ok {
				return d, nil
			}
			return domain.Delivery{}, domain.ErrBusClosed
		case <-s.ready:
		}
	}
}

func (s *subscription) Close() {
	s.bus.remove(s.id)
	s.closeOnce.Do(func() { close(s.done) })
}
