package satellite

import (
	"log/slog"
	"sync"
)

// Recipient receives broadcast payloads. Deliver must not block; returning
// false means the recipient is gone or cannot keep up.
type Recipient interface {
	Deliver(payload string) bool
	Close()
}

// Registry tracks connected satellites by connection id and fans payloads
// out to all of them.
type Registry struct {
	mu         sync.RWMutex
	recipients map[uint64]Recipient
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{recipients: make(map[uint64]Recipient), logger: logger}
}

// Add registers r under id, replacing any previous holder of id.
func (g *Registry) Add(id uint64, r Recipient) {
	g.mu.Lock()
	g.recipients[id] = r
	g.mu.Unlock()
}

// Remove drops id. Unknown ids are ignored.
func (g *Registry) Remove(id uint64) {
	g.mu.Lock()
	delete(g.recipients, id)
	g.mu.Unlock()
}

// Len returns the number of registered recipients.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.recipients)
}

// Broadcast offers payload to every recipient. Recipients that refuse it are
// removed and closed; the failure is not reported to the caller.
func (g *Registry) Broadcast(payload string) int {
	g.mu.RLock()
	var failed []uint64
	delivered := 0
	for id, r := range g.recipients {
		if r.Deliver(payload) {
			delivered++
		} else {
			failed = append(failed, id)
		}
	}
	g.mu.RUnlock()

	for _, id := range failed {
		g.mu.Lock()
		r, ok := g.recipients[id]
		delete(g.recipients, id)
		g.mu.Unlock()
		if ok {
			g.logger.Warn("satellite dropped: send failed", "conn_id", id)
			r.Close()
		}
	}
	return delivered
}

// CloseAll closes and removes every recipient.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	all := g.recipients
	g.recipients = make(map[uint64]Recipient)
	g.mu.Unlock()

	for _, r := range all {
		r.Close()
	}
}
