package domain

import "context"

// Delivery is one item taken from a broadcast subscription. Exactly one of
// Payload or Missed is meaningful: Missed > 0 is a gap marker telling the
// subscriber how many messages were dropped because it fell behind.
type Delivery struct {
	Payload string
	Missed  uint64
}

// IsGap reports whether the delivery is a gap marker.
func (d Delivery) IsGap() bool { return d.Missed > 0 }

// Publisher accepts pre-serialised broadcast payloads. Publish never blocks.
type Publisher interface {
	Publish(payload string)
}

// Subscription is a single consumer's view of the broadcast bus.
type Subscription interface {
	// Ready is signalled whenever new deliveries may be available.
	Ready() <-chan struct{}
	// Done is closed when the subscription ends.
	Done() <-chan struct{}
	// Next returns the next pending delivery without blocking.
	Next() (Delivery, bool)
	// Recv blocks until a delivery is available, ctx ends, or the
	// subscription is closed (ErrBusClosed).
	Recv(ctx context.Context) (Delivery, error)
	// Close unsubscribes. Safe to call more than once.
	Close()
}

// Broadcaster is the fan-out bus shared by producers and push transports.
type Broadcaster interface {
	Publisher
	Subscribe() Subscription
	SubscriberCount() int
}

// PublishNotification encodes n and publishes it. Encoding failures are
// returned; publishing itself cannot fail.
func PublishNotification(p Publisher, method string, params any) error {
	if p == nil {
		return nil
	}
	payload, err := NewNotification(method, params).Encode()
	if err != nil {
		return err
	}
	p.Publish(payload)
	return nil
}
