// Package dispatch routes JSON-RPC requests to the method table shared by
// every transport.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"taskrails/internal/domain"
	"taskrails/internal/infra/tracer"
)

// Method names. The aliases are accepted for older agents.
const (
	MethodInitialize   = "initialize"
	MethodToolsList    = "tools/list"
	MethodToolsCall    = "tools/call"
	aliasListTools     = "listTools"
	aliasCallTool      = "callTool"
	defaultServerName  = "taskrails"
	defaultInstruction = "TaskRails desktop control plane. Use get_context before acting and update_mission to report progress."
)

// StateReader exposes the live operating state.
type StateReader interface {
	Get() domain.OperatingState
}

// StatusCounter is optionally implemented by a task store that can break the
// task count down per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)
}

// Config holds the server identity reported by initialize.
type Config struct {
	Name    string
	Version string
}

// Dispatcher is transport-agnostic: it turns one Request into at most one
// Response and holds no per-connection state.
type Dispatcher struct {
	state   StateReader
	store   domain.TaskStore
	bus     domain.Publisher
	catalog *Catalog
	info    mcp.Implementation
	logger  *slog.Logger
}

// New creates a Dispatcher. bus may be nil.
func New(cfg Config, state StateReader, store domain.TaskStore, bus domain.Publisher, logger *slog.Logger) (*Dispatcher, error) {
	catalog, err := NewCatalog()
	if err != nil {
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = defaultServerName
	}
	return &Dispatcher{
		state:   state,
		store:   store,
		bus:     bus,
		catalog: catalog,
		info:    mcp.Implementation{Name: name, Version: cfg.Version},
		logger:  logger,
	}, nil
}

// Dispatch handles req and returns its response, or nil when req is a
// notification. Error responses carry the request's id.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.Request) *domain.Response {
	ctx, span := tracer.StartRPC(ctx, req)
	result, rpcErr := d.route(ctx, req)
	tracer.EndRPC(span, rpcErr)

	if rpcErr != nil {
		level := slog.LevelWarn
		if req.IsNotification() {
			level = slog.LevelDebug
		}
		d.logger.Log(ctx, level, "rpc call failed",
			"method", req.Method,
			"code", rpcErr.Code,
			"error", rpcErr.Message,
		)
	}

	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return domain.NewErrorResponse(req.ID, rpcErr)
	}
	return domain.NewResultResponse(req.ID, result)
}

// DispatchRaw decodes one raw message and dispatches it. Decode failures
// produce a parse-error response with the id recovered from the raw value.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte) *domain.Response {
	req, errResp := domain.DecodeRequest(data)
	if errResp != nil {
		d.logger.Warn("rpc parse error", "bytes", len(data))
		return errResp
	}
	return d.Dispatch(ctx, req)
}

func (d *Dispatcher) route(ctx context.Context, req domain.Request) (any, *domain.RPCError) {
	switch req.Method {
	case MethodInitialize:
		return d.initialize(), nil
	case MethodToolsList, aliasListTools:
		return toolsListResult{Tools: d.catalog.Tools()}, nil
	case MethodToolsCall, aliasCallTool:
		return d.callTool(ctx, req)
	default:
		return nil, domain.NewRPCError(domain.CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type serverCapabilities struct {
	Tools        *listChanged   `json:"tools,omitempty"`
	Experimental map[string]any `json:"experimental,omitempty"`
}

type listChanged struct {
	ListChanged bool `json:"listChanged"`
}

type toolsListResult struct {
	Tools []mcp.Tool `json:"tools"`
}

func (d *Dispatcher) initialize() initializeResult {
	return initializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities: serverCapabilities{
			Tools: &listChanged{ListChanged: false},
			Experimental: map[string]any{
				"notifications": []string{
					domain.MethodIdentityChange,
					domain.MethodCommandQueued,
					domain.MethodMissionUpdate,
				},
			},
		},
		ServerInfo:   d.info,
		Instructions: defaultInstruction,
	}
}

func (d *Dispatcher) callTool(ctx context.Context, req domain.Request) (any, *domain.RPCError) {
	if !req.HasParams() {
		return nil, domain.NewRPCError(domain.CodeInvalidParams, "Invalid params: missing params")
	}
	var call mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &call.Params); err != nil {
		return nil, domain.NewRPCError(domain.CodeInvalidParams, "Invalid params: "+err.Error())
	}
	name := strings.TrimSpace(call.Params.Name)
	if name == "" {
		return nil, domain.NewRPCError(domain.CodeInvalidParams, "Invalid params: missing tool name")
	}
	if !d.catalog.Has(name) {
		return nil, domain.NewRPCError(domain.CodeInvalidParams, "Unknown tool: "+name)
	}

	args := call.GetArguments()
	if call.Params.Arguments != nil && args == nil {
		return nil, domain.NewRPCError(domain.CodeInvalidParams, "Invalid params: arguments must be an object")
	}
	if err := d.catalog.Validate(name, args); err != nil {
		return nil, domain.NewRPCError(domain.CodeInvalidParams, fmt.Sprintf("Invalid arguments for %s: %v", name, err))
	}

	switch name {
	case ToolGetContext:
		return d.getContext(ctx)
	case ToolUpdateMission:
		return d.updateMission(ctx, call)
	}
	return nil, domain.NewRPCError(domain.CodeInvalidParams, "Unknown tool: "+name)
}

func (d *Dispatcher) getContext(ctx context.Context) (any, *domain.RPCError) {
	current := d.state.Get()
	count, err := d.store.CountTasks(ctx)
	if err != nil {
		return nil, domain.RPCErrorFrom(domain.WrapOp("get_context", err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Operating state: %s\nTasks: %d", current, count)
	if counter, ok := d.store.(StatusCounter); ok {
		if byStatus, err := counter.CountByStatus(ctx); err == nil {
			fmt.Fprintf(&b, " (todo %d, doing %d, done %d)",
				byStatus[domain.TaskTodo], byStatus[domain.TaskDoing], byStatus[domain.TaskDone])
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// MissionUpdate is the payload of notifications/missionUpdate.
type MissionUpdate struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (d *Dispatcher) updateMission(ctx context.Context, call mcp.CallToolRequest) (any, *domain.RPCError) {
	taskID := call.GetString("task_id", "")
	status := call.GetString("status", "")
	comment := call.GetString("comment", "")

	err := d.store.UpdateTaskStatus(ctx, taskID, domain.TaskStatus(status), comment)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("task %s not found", taskID)), nil
	case errors.Is(err, domain.ErrInvalidTaskStatus):
		d.logger.Warn("update_mission rejected", "task_id", taskID, "error", err)
		return nil, domain.NewRPCError(domain.CodeInvalidParams,
			fmt.Sprintf("invalid status %q: want %s, %s or %s", status, domain.TaskTodo, domain.TaskDoing, domain.TaskDone))
	default:
		return nil, domain.RPCErrorFrom(domain.WrapOp("update_mission", err))
	}

	if err := domain.PublishNotification(d.bus, domain.MethodMissionUpdate, MissionUpdate{TaskID: taskID, Status: status}); err != nil {
		d.logger.Warn("mission update broadcast failed", "task_id", taskID, "error", err)
	}
	d.logger.Info("mission updated", "task_id", taskID, "status", status)
	return mcp.NewToolResultText(fmt.Sprintf("Task %s moved to %s", taskID, status)), nil
}
