package domain

import (
	"encoding/json"
	"time"
)

// CommandAction tags what an external agent is asked to do. The set is open;
// the constants below are the actions the desktop side emits today.
type CommandAction string

const (
	ActionExecuteTask CommandAction = "execute_task"
	ActionReadFile    CommandAction = "read_file"
	ActionWriteFile   CommandAction = "write_file"
	ActionQueryStatus CommandAction = "query_status"
)

// CommandStatus is the lifecycle position of a queued command.
type CommandStatus string

const (
	CommandPending    CommandStatus = "pending"
	CommandDispatched CommandStatus = "dispatched"
	CommandCompleted  CommandStatus = "completed"
	CommandFailed     CommandStatus = "failed"
)

// Command is a unit of work queued for the external agent.
type Command struct {
	ID        string          `json:"id"`
	Action    CommandAction   `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Status    CommandStatus   `json:"status"`
}

// ResultStatus is the outcome reported by the external agent.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultPending ResultStatus = "pending"
)

// Valid reports whether s is one of the known result statuses.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultSuccess, ResultError, ResultPending:
		return true
	}
	return false
}

// Result is what the external agent reports back for a command. CommandID is
// not checked against the command queue.
type Result struct {
	CommandID   string       `json:"command_id"`
	Status      ResultStatus `json:"status"`
	Output      string       `json:"output"`
	Artifacts   []string     `json:"artifacts,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}

// HubSnapshot is a point-in-time view of the hub; never stored.
type HubSnapshot struct {
	Connected         bool       `json:"connected"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
	PendingCommands   int        `json:"pending_commands"`
	CompletedCommands int        `json:"completed_commands"`
}
