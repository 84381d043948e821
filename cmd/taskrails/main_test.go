package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrails/internal/domain"
)

// isolate points the config at a fresh workspace with quiet logs and
// returns the config path (which does not exist; defaults apply).
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKRAILS_WORKSPACE", dir)
	t.Setenv("TASKRAILS_LOGGER_LEVEL", "error")
	return filepath.Join(dir, "taskrails.yaml")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "taskrails dev\n", out)
}

func TestStdioCmd(t *testing.T) {
	cfgPath := isolate(t)

	input := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"bogus"}}` + "\n" +
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"get_context"}}` + "\n"
	out, err := execute(t, input, "--config", cfgPath, "stdio")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var bogus domain.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &bogus))
	assert.JSONEq(t, `7`, string(bogus.ID))
	require.NotNil(t, bogus.Error)
	assert.Equal(t, domain.CodeInvalidParams, bogus.Error.Code)
	assert.Contains(t, bogus.Error.Message, "bogus")

	var ctxResp domain.Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ctxResp))
	assert.Nil(t, ctxResp.Error)
	assert.Contains(t, string(ctxResp.Result), "Operating state: Idle")
}

func TestTaskCmds(t *testing.T) {
	cfgPath := isolate(t)

	out, err := execute(t, "", "--config", cfgPath, "task", "add", "Write docs", "--id", "T-1")
	require.NoError(t, err)
	assert.Equal(t, "T-1\n", out)

	out, err = execute(t, "", "--config", cfgPath, "task", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "T-1")
	assert.Contains(t, out, "todo")
	assert.Contains(t, out, "Write docs")

	out, err = execute(t, "", "--config", cfgPath, "task", "list", "--status", "done")
	require.NoError(t, err)
	assert.NotContains(t, out, "T-1")
}

func TestClientCmdsWithoutServer(t *testing.T) {
	cfgPath := isolate(t)

	_, err := execute(t, "", "--config", cfgPath, "role", "get")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is taskrails serve running?")
}

func TestServeWithClientCmds(t *testing.T) {
	cfgPath := isolate(t)
	t.Setenv("TASKRAILS_STREAM_ADDR", "127.0.0.1:"+strconv.Itoa(freePort(t)))
	t.Setenv("TASKRAILS_SATELLITE_PORT", "0")

	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan servers, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, cfgPath, appOptions{logWriter: io.Discard}, func(s servers) { readyCh <- s })
	}()

	var srv servers
	select {
	case srv = <-readyCh:
	case err := <-errCh:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not become ready")
	}
	require.NotNil(t, srv.satellite)
	assert.NotEmpty(t, srv.token)

	out, err := execute(t, "", "--config", cfgPath, "role", "set", "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "Reviewer\n", out)

	out, err = execute(t, "", "--config", cfgPath, "role", "get")
	require.NoError(t, err)
	assert.Equal(t, "Reviewer\n", out)

	_, err = execute(t, "", "--config", cfgPath, "role", "set", "Pilot")
	assert.Error(t, err)

	out, err = execute(t, "", "--config", cfgPath, "hub", "enqueue", "read_file", `{"path":"a.txt"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cmd-"), out)

	out, err = execute(t, "", "--config", cfgPath, "hub", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending:")
	assert.Contains(t, out, "1")

	_, err = execute(t, "", "--config", cfgPath, "hub", "enqueue", "read_file", `{bad`)
	assert.Error(t, err)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
