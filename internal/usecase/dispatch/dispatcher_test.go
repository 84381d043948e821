package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrails/internal/domain"
	"taskrails/internal/usecase/eventbus"
	"taskrails/internal/usecase/state"
)

// memStore is an in-memory domain.TaskStore.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.TaskStatus
	comments map[string]string
	countErr error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{tasks: map[string]domain.TaskStatus{}, comments: map[string]string{}}
	for _, id := range ids {
		s.tasks[id] = domain.TaskTodo
	}
	return s
}

func (s *memStore) CountTasks(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks), s.countErr
}

func (s *memStore) UpdateTaskStatus(_ context.Context, id string, status domain.TaskStatus, comment string) error {
	if !status.Valid() {
		return domain.NewDomainError("memStore.UpdateTaskStatus", domain.ErrInvalidTaskStatus, string(status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return domain.NewDomainError("memStore.UpdateTaskStatus", domain.ErrTaskNotFound, id)
	}
	s.tasks[id] = status
	s.comments[id] = comment
	return nil
}

type fixture struct {
	d     *Dispatcher
	state *state.Manager
	store *memStore
	bus   *eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := eventbus.New(16, slog.Default())
	t.Cleanup(bus.Close)
	st := state.NewManager(bus, slog.Default())
	store := newMemStore("1", "2", "42")
	d, err := New(Config{Version: "test"}, st, store, bus, slog.Default())
	require.NoError(t, err)
	return &fixture{d: d, state: st, store: store, bus: bus}
}

func request(t *testing.T, id any, method string, params any) domain.Request {
	t.Helper()
	req := domain.Request{JSONRPC: "2.0", Method: method}
	if id != nil {
		raw, err := json.Marshal(id)
		require.NoError(t, err)
		req.ID = raw
	}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = raw
	}
	return req
}

func toolCall(name string, args map[string]any) map[string]any {
	p := map[string]any{"name": name}
	if args != nil {
		p["arguments"] = args
	}
	return p
}

func decodeToolResult(t *testing.T, resp *domain.Response) (string, bool) {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error, "unexpected error %+v", resp.Error)
	var res struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	return res.Content[0].Text, res.IsError
}

func TestResponseCarriesRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		method string
		params any
	}{
		{MethodInitialize, nil},
		{MethodToolsList, nil},
		{MethodToolsCall, toolCall(ToolGetContext, nil)},
		{MethodToolsCall, toolCall("bogus", nil)},
		{"does/not/exist", nil},
	}
	for i, tc := range cases {
		for _, id := range []any{i + 1, fmt.Sprintf("req-%d", i)} {
			t.Run(fmt.Sprintf("%s/%v", tc.method, id), func(t *testing.T) {
				req := request(t, id, tc.method, tc.params)
				resp := f.d.Dispatch(ctx, req)
				require.NotNil(t, resp)
				assert.Equal(t, "2.0", resp.JSONRPC)
				assert.JSONEq(t, string(req.ID), string(resp.ID))
				assert.True(t, (resp.Error == nil) != (resp.Result == nil), "exactly one of result/error")
			})
		}
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, method := range []string{MethodInitialize, MethodToolsList, "notifications/initialized", "unknown"} {
		assert.Nil(t, f.d.Dispatch(ctx, request(t, nil, method, nil)), method)
	}

	nullID := domain.Request{JSONRPC: "2.0", Method: MethodToolsList, ID: json.RawMessage("null")}
	assert.Nil(t, f.d.Dispatch(ctx, nullID))
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	resp := f.d.Dispatch(context.Background(), request(t, 1, MethodInitialize, map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "agent", "version": "1"},
	}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var res struct {
		ProtocolVersion string             `json:"protocolVersion"`
		ServerInfo      mcp.Implementation `json:"serverInfo"`
		Capabilities    map[string]any     `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, res.ProtocolVersion)
	assert.Equal(t, "taskrails", res.ServerInfo.Name)
	assert.Equal(t, "test", res.ServerInfo.Version)
	assert.Contains(t, res.Capabilities, "tools")
}

func TestToolsListAndAlias(t *testing.T) {
	f := newFixture(t)

	for _, method := range []string{MethodToolsList, "listTools"} {
		resp := f.d.Dispatch(context.Background(), request(t, 1, method, nil))
		require.NotNil(t, resp)
		require.Nil(t, resp.Error, method)

		var res struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Annotations struct {
					ReadOnly    *bool `json:"readOnlyHint"`
					Destructive *bool `json:"destructiveHint"`
				} `json:"annotations"`
				InputSchema struct {
					Type       string                     `json:"type"`
					Properties map[string]json.RawMessage `json:"properties"`
					Required   []string                   `json:"required"`
				} `json:"inputSchema"`
			} `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		require.Len(t, res.Tools, 2)

		assert.Equal(t, ToolGetContext, res.Tools[0].Name)
		assert.Equal(t, "object", res.Tools[0].InputSchema.Type)
		assert.Empty(t, res.Tools[0].InputSchema.Required)
		if ann := res.Tools[0].Annotations; assert.NotNil(t, ann.ReadOnly) && assert.NotNil(t, ann.Destructive) {
			assert.True(t, *ann.ReadOnly, "get_context only reads")
			assert.False(t, *ann.Destructive)
		}

		mission := res.Tools[1]
		assert.Equal(t, ToolUpdateMission, mission.Name)
		assert.NotEmpty(t, mission.Description)
		assert.ElementsMatch(t, []string{"task_id", "status"}, mission.InputSchema.Required)
		assert.Contains(t, mission.InputSchema.Properties, "comment")
		if ann := mission.Annotations; assert.NotNil(t, ann.ReadOnly) && assert.NotNil(t, ann.Destructive) {
			assert.False(t, *ann.ReadOnly)
			assert.False(t, *ann.Destructive)
		}
	}
}

func TestUnknownToolEchoesName(t *testing.T) {
	f := newFixture(t)

	for _, method := range []string{MethodToolsCall, "callTool"} {
		resp := f.d.Dispatch(context.Background(), request(t, 7, method, toolCall("bogus", nil)))
		require.NotNil(t, resp)
		require.NotNil(t, resp.Error)
		assert.Equal(t, domain.CodeInvalidParams, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "bogus")
		assert.JSONEq(t, "7", string(resp.ID))
	}
}

func TestToolsCallParamErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]domain.Request{
		"missing params":   request(t, 1, MethodToolsCall, nil),
		"null params":      {JSONRPC: "2.0", Method: MethodToolsCall, ID: json.RawMessage("1"), Params: json.RawMessage("null")},
		"missing name":     request(t, 1, MethodToolsCall, map[string]any{"arguments": map[string]any{}}),
		"params not obj":   request(t, 1, MethodToolsCall, []int{1, 2}),
		"args not object":  request(t, 1, MethodToolsCall, map[string]any{"name": ToolGetContext, "arguments": "x"}),
		"missing required": request(t, 1, MethodToolsCall, toolCall(ToolUpdateMission, map[string]any{"task_id": "42"})),
		"wrong type":       request(t, 1, MethodToolsCall, toolCall(ToolUpdateMission, map[string]any{"task_id": 42, "status": "done"})),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			resp := f.d.Dispatch(ctx, req)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, domain.CodeInvalidParams, resp.Error.Code)
		})
	}
}

func TestUnknownMethodEchoesName(t *testing.T) {
	f := newFixture(t)
	for _, method := range []string{"resources/list", "tools/lists", "ping"} {
		resp := f.d.Dispatch(context.Background(), request(t, "abc", method, nil))
		require.NotNil(t, resp)
		require.NotNil(t, resp.Error)
		assert.Equal(t, domain.CodeMethodNotFound, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, method)
	}
}

func TestGetContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.state.Set(domain.StateArchitect))

	text, isErr := decodeToolResult(t, f.d.Dispatch(context.Background(), request(t, 1, MethodToolsCall, toolCall(ToolGetContext, nil))))
	assert.False(t, isErr)
	assert.Contains(t, text, "Architect")
	assert.Contains(t, text, "Tasks: 3")
}

func TestGetContextStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.countErr = fmt.Errorf("db down: %w", domain.ErrStoreUnavailable)

	resp := f.d.Dispatch(context.Background(), request(t, 1, MethodToolsCall, toolCall(ToolGetContext, nil)))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeInternalError, resp.Error.Code)
}

func TestToolsCallMissingArgumentNamesIt(t *testing.T) {
	f := newFixture(t)
	resp := f.d.DispatchRaw(context.Background(),
		[]byte(`{"id":11,"method":"tools/call","params":{"name":"update_mission","arguments":{"task_id":"1"}}}`))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "Invalid arguments for update_mission: Required property 'status' is missing", resp.Error.Message)
	assert.JSONEq(t, "11", string(resp.ID))
}

func TestUpdateMission(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe()
	defer sub.Close()

	resp := f.d.Dispatch(context.Background(), request(t, 1, MethodToolsCall, toolCall(ToolUpdateMission, map[string]any{
		"task_id": "42",
		"status":  "doing",
		"comment": "started",
	})))
	text, isErr := decodeToolResult(t, resp)
	assert.False(t, isErr)
	assert.Contains(t, text, "42")
	assert.Equal(t, domain.TaskDoing, f.store.tasks["42"])
	assert.Equal(t, "started", f.store.comments["42"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","method":"notifications/missionUpdate","params":{"task_id":"42","status":"doing"}}`,
		d.Payload)
}

func TestUpdateMissionStatusIsValidatedByStore(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe()
	defer sub.Close()

	resp := f.d.Dispatch(context.Background(), request(t, 1, MethodToolsCall, toolCall(ToolUpdateMission, map[string]any{
		"task_id": "42",
		"status":  "blocked",
	})))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, `invalid status "blocked": want todo, doing or done`, resp.Error.Message)
	assert.Nil(t, resp.Error.Data)
	assert.Equal(t, domain.TaskTodo, f.store.tasks["42"])

	_, ok := sub.Next()
	assert.False(t, ok, "failed update must not broadcast")
}

func TestUpdateMissionUnknownTask(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(context.Background(), request(t, 1, MethodToolsCall, toolCall(ToolUpdateMission, map[string]any{
		"task_id": "999",
		"status":  "done",
	})))
	text, isErr := decodeToolResult(t, resp)
	assert.True(t, isErr)
	assert.Contains(t, text, "999")
}

func TestDispatchRawParseErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		input  string
		wantID string
	}{
		{"garbage", `not json`, "null"},
		{"missing method", `{"jsonrpc":"2.0","id":5}`, "5"},
		{"method wrong type", `{"method":12,"id":"x"}`, `"x"`},
		{"array", `[1,2,3]`, "null"},
		{"scalar", `42`, "null"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.d.DispatchRaw(ctx, []byte(tc.input))
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, domain.CodeParseError, resp.Error.Code)
			assert.JSONEq(t, tc.wantID, string(resp.ID))
		})
	}
}

func TestDispatchRawWithoutJSONRPCField(t *testing.T) {
	f := newFixture(t)
	resp := f.d.DispatchRaw(context.Background(), []byte(`{"method":"tools/call","params":{"name":"bogus"},"id":7}`))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeInvalidParams, resp.Error.Code)
	assert.JSONEq(t, "7", string(resp.ID))
}

func TestCatalogValidate(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	assert.Equal(t, []string{ToolGetContext, ToolUpdateMission}, c.Names())
	assert.NoError(t, c.Validate(ToolGetContext, nil))
	assert.NoError(t, c.Validate(ToolUpdateMission, map[string]any{"task_id": "1", "status": "anything"}))

	err = c.Validate(ToolUpdateMission, map[string]any{"status": "done"})
	require.Error(t, err)
	assert.Equal(t, "Required property 'task_id' is missing", err.Error())

	err = c.Validate(ToolUpdateMission, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'task_id'")
	assert.Contains(t, err.Error(), "'status'")
	assert.NotContains(t, err.Error(), "null")

	err = c.Validate(ToolUpdateMission, map[string]any{"task_id": 5, "status": "done"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "task_id: "), err.Error())
	assert.Contains(t, err.Error(), "string")
	assert.NotContains(t, err.Error(), "evaluation failed")

	assert.Error(t, c.Validate("bogus", nil))
}

func TestConcurrentDispatch(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := f.d.Dispatch(context.Background(), request(t, i, MethodToolsCall, toolCall(ToolGetContext, nil)))
			if assert.NotNil(t, resp) {
				assert.JSONEq(t, fmt.Sprint(i), string(resp.ID))
			}
		}(i)
	}
	wg.Wait()
}
