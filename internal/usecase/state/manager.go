// Package state holds the application's single operating state and
// announces every change on the broadcast bus.
package state

import (
	"log/slog"
	"sync"

	"taskrails/internal/domain"
)

// Manager owns the process-wide OperatingState cell.
type Manager struct {
	mu      sync.Mutex
	current domain.OperatingState
	bus     domain.Publisher
	logger  *slog.Logger
}

// NewManager creates a manager in StateIdle that announces changes on bus.
func NewManager(bus domain.Publisher, logger *slog.Logger) *Manager {
	return &Manager{current: domain.StateIdle, bus: bus, logger: logger}
}

// Get returns the live state.
func (m *Manager) Get() domain.OperatingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set replaces the live state and publishes notifications/identityChange.
// Any state may follow any other; only membership in the enumeration is
// required. The notification is published after the lock is released.
func (m *Manager) Set(next domain.OperatingState) error {
	if !next.Valid() {
		return domain.NewDomainError("StateManager.Set", domain.ErrInvalidState, next.String())
	}

	m.mu.Lock()
	prev := m.current
	m.current = next
	m.mu.Unlock()

	m.logger.Info("operating state changed", "from", prev.String(), "to", next.String())

	if err := domain.PublishNotification(m.bus, domain.MethodIdentityChange, domain.IdentityChange{Role: next.String()}); err != nil {
		m.logger.Error("identity change broadcast failed", "state", next.String(), "error", err)
	}
	return nil
}

// SetByName parses name case-insensitively and calls Set.
func (m *Manager) SetByName(name string) (domain.OperatingState, error) {
	next, err := domain.ParseOperatingState(name)
	if err != nil {
		return domain.StateIdle, err
	}
	return next, m.Set(next)
}
