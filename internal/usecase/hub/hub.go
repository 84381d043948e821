// Package hub implements the bidirectional command/result queue between the
// desktop application and an external agent.
//
// Commands and results live in two independent FIFO queues, each guarded by
// its own mutex. No operation ever holds both locks, so enqueueing a command
// never waits on a result report and vice versa.
package hub

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"taskrails/internal/domain"
)

// Default limits used when callers pass a non-positive limit.
const (
	DefaultPeekLimit    = 10
	DefaultResultsLimit = 50
)

// Hub is the command/result queue. The zero value is not usable; use New.
type Hub struct {
	cmdMu    sync.Mutex
	commands []domain.Command
	entropy  *ulid.MonotonicEntropy

	resMu   sync.Mutex
	results []domain.Result

	liveMu        sync.Mutex
	connected     bool
	lastHeartbeat time.Time

	peekLimit    int
	resultsLimit int

	bus    domain.Publisher
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithPublisher makes the hub announce every enqueued command on p.
func WithPublisher(p domain.Publisher) Option {
	return func(h *Hub) { h.bus = p }
}

// WithDefaultLimits sets the limits Peek and Results use when called with a
// non-positive limit. Non-positive values keep the package defaults.
func WithDefaultLimits(peek, results int) Option {
	return func(h *Hub) {
		if peek > 0 {
			h.peekLimit = peek
		}
		if results > 0 {
			h.resultsLimit = results
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New creates an empty, disconnected hub.
func New(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		entropy:      ulid.Monotonic(rand.Reader, 0),
		peekLimit:    DefaultPeekLimit,
		resultsLimit: DefaultResultsLimit,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enqueue appends a pending command to the tail of the command queue and
// returns its id.
func (h *Hub) Enqueue(action domain.CommandAction, payload any) (string, error) {
	return h.enqueue("cmd", action, payload)
}

// TaskDispatch describes a desktop task handed to the external agent.
type TaskDispatch struct {
	TaskID       string          `json:"task_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	AgentContext json.RawMessage `json:"agent_context,omitempty"`
}

// DispatchTask enqueues an execute_task command carrying t.
func (h *Hub) DispatchTask(t TaskDispatch) (string, error) {
	if strings.TrimSpace(t.TaskID) == "" {
		return "", domain.NewDomainError("Hub.DispatchTask", domain.ErrInvalidInput, "task_id is required")
	}
	payload := struct {
		TaskDispatch
		Timestamp time.Time `json:"timestamp"`
	}{TaskDispatch: t, Timestamp: h.now().UTC()}

	id, err := h.enqueue("task", domain.ActionExecuteTask, payload)
	if err != nil {
		return "", err
	}
	h.logger.Info("hub dispatched task", "command_id", id, "task_id", t.TaskID, "title", t.Title)
	return id, nil
}

func (h *Hub) enqueue(prefix string, action domain.CommandAction, payload any) (string, error) {
	if strings.TrimSpace(string(action)) == "" {
		return "", domain.NewDomainError("Hub.Enqueue", domain.ErrInvalidAction, "action is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", domain.NewDomainError("Hub.Enqueue", domain.ErrInvalidInput, err.Error())
	}

	now := h.now().UTC()

	h.cmdMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), h.entropy)
	if err != nil {
		h.cmdMu.Unlock()
		return "", fmt.Errorf("hub: generate command id: %w", err)
	}
	cmd := domain.Command{
		ID:        prefix + "-" + id.String(),
		Action:    action,
		Payload:   raw,
		CreatedAt: now,
		Status:    domain.CommandPending,
	}
	h.commands = append(h.commands, cmd)
	h.cmdMu.Unlock()

	h.logger.Debug("hub command enqueued", "command_id", cmd.ID, "action", string(action))
	if err := domain.PublishNotification(h.bus, domain.MethodCommandQueued, map[string]string{
		"id":     cmd.ID,
		"action": string(cmd.Action),
	}); err != nil {
		h.logger.Warn("hub: command notification failed", "command_id", cmd.ID, "error", err)
	}
	return cmd.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// Peek returns up to limit commands from the head of the queue without
// removing them.
func (h *Hub) Peek(limit int) []domain.Command {
	if limit <= 0 {
		limit = h.peekLimit
	}
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	n := min(limit, len(h.commands))
	out := make([]domain.Command, n)
	copy(out, h.commands[:n])
	return out
}

// Dequeue removes and returns the head command, marked dispatched. Claiming
// a command is the acknowledgement; there is no separate ack step.
func (h *Hub) Dequeue() (domain.Command, bool) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	if len(h.commands) == 0 {
		return domain.Command{}, false
	}
	cmd := h.commands[0]
	h.commands[0] = domain.Command{}
	h.commands = h.commands[1:]
	cmd.Status = domain.CommandDispatched
	return cmd, true
}

// ReportResult appends a result to the result queue. commandID is accepted
// as-is: it may name a command that was already dequeued or never existed.
func (h *Hub) ReportResult(commandID string, status domain.ResultStatus, output string, artifacts []string) (domain.Result, error) {
	if !status.Valid() {
		return domain.Result{}, domain.NewDomainError("Hub.ReportResult", domain.ErrInvalidResult, fmt.Sprintf("unknown status %q", status))
	}
	res := domain.Result{
		CommandID:   commandID,
		Status:      status,
		Output:      output,
		Artifacts:   artifacts,
		CompletedAt: h.now().UTC(),
	}

	h.resMu.Lock()
	h.results = append(h.results, res)
	h.resMu.Unlock()

	h.logger.Debug("hub result reported", "command_id", commandID, "status", string(status))
	return res, nil
}

// Results returns up to limit results, oldest first.
func (h *Hub) Results(limit int) []domain.Result {
	if limit <= 0 {
		limit = h.resultsLimit
	}
	h.resMu.Lock()
	defer h.resMu.Unlock()

	n := min(limit, len(h.results))
	out := make([]domain.Result, n)
	copy(out, h.results[:n])
	return out
}

// PruneResults drops the oldest results so that at most keep remain and
// returns how many were removed.
func (h *Hub) PruneResults(keep int) int {
	if keep < 0 {
		keep = 0
	}
	h.resMu.Lock()
	defer h.resMu.Unlock()

	excess := len(h.results) - keep
	if excess <= 0 {
		return 0
	}
	remaining := make([]domain.Result, keep)
	copy(remaining, h.results[excess:])
	h.results = remaining
	return excess
}

// SetConnected records the agent's liveness as reported by its heartbeat.
func (h *Hub) SetConnected(connected bool) {
	h.liveMu.Lock()
	h.connected = connected
	h.lastHeartbeat = h.now().UTC()
	h.liveMu.Unlock()
}

// ExpireHeartbeat clears the connected flag when the last heartbeat is older
// than ttl. It reports whether the flag changed.
func (h *Hub) ExpireHeartbeat(ttl time.Duration) bool {
	h.liveMu.Lock()
	defer h.liveMu.Unlock()

	if !h.connected || ttl <= 0 {
		return false
	}
	if h.now().Sub(h.lastHeartbeat) <= ttl {
		return false
	}
	h.connected = false
	return true
}

// Snapshot reads the liveness flag and both queue lengths. Each lock is taken
// on its own; the counts reflect the queues at the moment they are read.
func (h *Hub) Snapshot() domain.HubSnapshot {
	var snap domain.HubSnapshot

	h.liveMu.Lock()
	snap.Connected = h.connected
	if !h.lastHeartbeat.IsZero() {
		hb := h.lastHeartbeat
		snap.LastHeartbeat = &hb
	}
	h.liveMu.Unlock()

	h.cmdMu.Lock()
	snap.PendingCommands = len(h.commands)
	h.cmdMu.Unlock()

	h.resMu.Lock()
	snap.CompletedCommands = len(h.results)
	h.resMu.Unlock()

	return snap
}
