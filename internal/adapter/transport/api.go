package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"taskrails/internal/domain"
	"taskrails/internal/infra/middleware"
	"taskrails/internal/usecase/hub"
)

// StateController reads and changes the operating state.
type StateController interface {
	Get() domain.OperatingState
	SetByName(name string) (domain.OperatingState, error)
}

// CommandHub is the subset of the hub the admin API drives.
type CommandHub interface {
	Enqueue(action domain.CommandAction, payload any) (string, error)
	DispatchTask(t hub.TaskDispatch) (string, error)
	Peek(limit int) []domain.Command
	Dequeue() (domain.Command, bool)
	ReportResult(commandID string, status domain.ResultStatus, output string, artifacts []string) (domain.Result, error)
	Results(limit int) []domain.Result
	SetConnected(connected bool)
	Snapshot() domain.HubSnapshot
}

// APIDeps holds what the admin API reads and drives. Tasks and Bus may be nil.
type APIDeps struct {
	State   StateController
	Hub     CommandHub
	Tasks   domain.TaskReader
	Bus     domain.Broadcaster
	Version string
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Name          string             `json:"name"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	State         string             `json:"state"`
	Tasks         *int               `json:"tasks,omitempty"`
	Subscribers   int                `json:"subscribers"`
	Hub           domain.HubSnapshot `json:"hub"`
}

type roleBody struct {
	Role string `json:"role"`
}

type enqueueBody struct {
	Action  domain.CommandAction `json:"action"`
	Payload json.RawMessage      `json:"payload"`
}

type resultBody struct {
	CommandID string              `json:"command_id"`
	Status    domain.ResultStatus `json:"status"`
	Output    string              `json:"output"`
	Artifacts []string            `json:"artifacts"`
}

type heartbeatBody struct {
	Connected *bool `json:"connected"`
}

type idBody struct {
	ID string `json:"id"`
}

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

type adminAPI struct {
	deps    APIDeps
	started time.Time
	logger  *slog.Logger
}

// NewAdminAPI returns the desktop-side REST API, guarded by token.
func NewAdminAPI(deps APIDeps, token string, logger *slog.Logger) http.Handler {
	a := &adminAPI{deps: deps, started: time.Now(), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", a.status)
	mux.HandleFunc("GET /api/v1/state", a.getState)
	mux.HandleFunc("PUT /api/v1/state", a.putState)
	mux.HandleFunc("GET /api/v1/hub/commands", a.peekCommands)
	mux.HandleFunc("POST /api/v1/hub/commands", a.enqueueCommand)
	mux.HandleFunc("POST /api/v1/hub/commands/ack", a.ackCommand)
	mux.HandleFunc("POST /api/v1/hub/tasks", a.dispatchTask)
	mux.HandleFunc("GET /api/v1/hub/results", a.listResults)
	mux.HandleFunc("POST /api/v1/hub/results", a.reportResult)
	mux.HandleFunc("GET /api/v1/hub/state", a.hubState)
	mux.HandleFunc("POST /api/v1/hub/heartbeat", a.heartbeat)

	return middleware.BearerAuth(token)(mux)
}

func (a *adminAPI) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Name:          "taskrails",
		Version:       a.deps.Version,
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
		State:         a.deps.State.Get().String(),
		Hub:           a.deps.Hub.Snapshot(),
	}
	if a.deps.Tasks != nil {
		if n, err := a.deps.Tasks.CountTasks(r.Context()); err == nil {
			resp.Tasks = &n
		} else {
			a.logger.Warn("status: count tasks failed", "error", err)
		}
	}
	if a.deps.Bus != nil {
		resp.Subscribers = a.deps.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *adminAPI) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, roleBody{Role: a.deps.State.Get().String()})
}

func (a *adminAPI) putState(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if !decodeBody(w, r, &body) {
		return
	}
	next, err := a.deps.State.SetByName(body.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roleBody{Role: next.String()})
}

func (a *adminAPI) peekCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Hub.Peek(queryLimit(r)))
}

func (a *adminAPI) enqueueCommand(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if !decodeBody(w, r, &body) {
		return
	}
	id, err := a.deps.Hub.Enqueue(body.Action, body.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idBody{ID: id})
}

func (a *adminAPI) ackCommand(w http.ResponseWriter, _ *http.Request) {
	cmd, ok := a.deps.Hub.Dequeue()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (a *adminAPI) dispatchTask(w http.ResponseWriter, r *http.Request) {
	var body hub.TaskDispatch
	if !decodeBody(w, r, &body) {
		return
	}
	id, err := a.deps.Hub.DispatchTask(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idBody{ID: id})
}

func (a *adminAPI) listResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Hub.Results(queryLimit(r)))
}

func (a *adminAPI) reportResult(w http.ResponseWriter, r *http.Request) {
	var body resultBody
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := a.deps.Hub.ReportResult(body.CommandID, body.Status, body.Output, body.Artifacts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *adminAPI) hubState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Hub.Snapshot())
}

func (a *adminAPI) heartbeat(w http.ResponseWriter, r *http.Request) {
	var body heartbeatBody
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	connected := true
	if body.Connected != nil {
		connected = *body.Connected
	}
	a.deps.Hub.SetConnected(connected)
	writeJSON(w, http.StatusOK, a.deps.Hub.Snapshot())
}

// queryLimit parses ?limit=; anything unparsable yields 0, the hub default.
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: domain.CodeInvalidInput})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: domain.ErrorCodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
