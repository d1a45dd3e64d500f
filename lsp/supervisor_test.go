package lsp_test

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interviewlab/lsp-gateway/lsp"
	"interviewlab/lsp-gateway/lsp/lsptest"
)

func TestMain(m *testing.M) {
	lsptest.RunIfRequested()
	m.Run()
}

func startSupervisor(t *testing.T) *lsp.Supervisor {
	t.Helper()

	sup := lsp.NewSupervisor(lsptest.ServerCommand())
	require.NoError(t, sup.Start())
	t.Cleanup(func() { _ = sup.Stop() })

	return sup
}

func TestSupervisorRequestResponse(t *testing.T) {
	sup := startSupervisor(t)

	resp, err := sup.Request("initialize", map[string]any{"processId": nil}, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp.ID)
	assert.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "capabilities")
}

func TestSupervisorStartFailureMissingBinary(t *testing.T) {
	sup := lsp.NewSupervisor([]string{"/nonexistent/language-server"})
	err := sup.Start()
	require.Error(t, err)
	assert.False(t, sup.Alive())
}

func TestSupervisorStartFailureEarlyExit(t *testing.T) {
	sup := lsp.NewSupervisor([]string{"false"})
	err := sup.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
	assert.False(t, sup.Alive())
}

// Concurrent requests each get back exactly the response for their own
// id; ids never collide.
func TestSupervisorConcurrentRequests(t *testing.T) {
	sup := startSupervisor(t)

	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			params := map[string]any{"worker": i}
			resp, err := sup.Request("test/echo", params, 5*time.Second)
			if !assert.NoError(t, err, "worker %d", i) {
				return
			}

			var echoed struct {
				Worker int `json:"worker"`
			}
			if assert.NoError(t, json.Unmarshal(resp.Result, &echoed)) {
				assert.Equal(t, i, echoed.Worker)
			}
		}(i)
	}
	wg.Wait()
}

// A timed-out request fails alone; requests in flight on other ids are
// untouched.
func TestSupervisorTimeoutIsolation(t *testing.T) {
	sup := startSupervisor(t)

	done := make(chan error, 1)
	go func() {
		_, err := sup.Request("test/echo", map[string]any{"slow": false}, 5*time.Second)
		done <- err
	}()

	_, err := sup.Request("test/ignore", nil, 200*time.Millisecond)
	require.ErrorIs(t, err, lsp.ErrRequestTimeout)

	require.NoError(t, <-done)

	// The supervisor keeps serving after a timeout.
	_, err = sup.Request("test/echo", nil, 5*time.Second)
	assert.NoError(t, err)
}

func TestSupervisorNotificationSink(t *testing.T) {
	sup := lsp.NewSupervisor(lsptest.ServerCommand())

	notifications := make(chan *lsp.Message, 8)
	sup.SetNotificationSink(func(msg *lsp.Message) {
		notifications <- msg
	})

	require.NoError(t, sup.Start())
	t.Cleanup(func() { _ = sup.Stop() })

	resp, err := sup.Request("test/emit", map[string]any{"x": 1}, 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)

	select {
	case msg := <-notifications:
		assert.Equal(t, "window/logMessage", msg.Method)
		assert.Nil(t, msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never reached the sink")
	}
}

func TestSupervisorForwardRequestKeepsClientID(t *testing.T) {
	sup := startSupervisor(t)

	id := lsp.StringID("client-abc")
	body := []byte(`{"jsonrpc":"2.0","id":"client-abc","method":"test/echo","params":{"n":1}}`)

	resp, err := sup.ForwardRequest(body, id, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp.ID)
	assert.Equal(t, id, *resp.ID)
}

func TestSupervisorForwardRequestDuplicateID(t *testing.T) {
	sup := startSupervisor(t)

	id := lsp.NumberID(77)
	first := []byte(`{"jsonrpc":"2.0","id":77,"method":"test/ignore","params":{}}`)
	second := []byte(`{"jsonrpc":"2.0","id":77,"method":"test/echo","params":{}}`)

	firstDone := make(chan error, 1)
	go func() {
		_, err := sup.ForwardRequest(first, id, 2*time.Second)
		firstDone <- err
	}()

	// Let the first registration land.
	time.Sleep(100 * time.Millisecond)

	_, err := sup.ForwardRequest(second, id, time.Second)
	require.ErrorIs(t, err, lsp.ErrDuplicateID)

	require.ErrorIs(t, <-firstDone, lsp.ErrRequestTimeout)
}

func TestSupervisorExitHookFiresOnServerDeath(t *testing.T) {
	sup := lsp.NewSupervisor(lsptest.ServerCommand())

	exited := make(chan struct{})
	sup.SetOnExit(func() { close(exited) })

	require.NoError(t, sup.Start())
	t.Cleanup(func() { _ = sup.Stop() })

	_, err := sup.Request("test/die", nil, 5*time.Second)
	require.ErrorIs(t, err, lsp.ErrServerTerminated)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("exit hook never fired")
	}
}

func TestSupervisorExitHookSkippedOnStop(t *testing.T) {
	sup := lsp.NewSupervisor(lsptest.ServerCommand())

	var fired atomic.Bool
	sup.SetOnExit(func() { fired.Store(true) })

	require.NoError(t, sup.Start())
	require.NoError(t, sup.Stop())

	// Give the reader task time to observe EOF.
	time.Sleep(200 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSupervisorServerDeathFailsPending(t *testing.T) {
	sup := startSupervisor(t)

	_, err := sup.Request("test/die", nil, 5*time.Second)
	require.ErrorIs(t, err, lsp.ErrServerTerminated)

	assert.Eventually(t, func() bool { return !sup.Alive() }, 2*time.Second, 10*time.Millisecond)

	_, err = sup.Request("test/echo", nil, time.Second)
	assert.ErrorIs(t, err, lsp.ErrNotRunning)
}

func TestSupervisorStopIdempotent(t *testing.T) {
	sup := lsp.NewSupervisor(lsptest.ServerCommand())
	require.NoError(t, sup.Start())
	assert.True(t, sup.Alive())

	require.NoError(t, sup.Stop())
	assert.False(t, sup.Alive())

	// Stop again; nothing to do.
	require.NoError(t, sup.Stop())

	_, err := sup.Request("test/echo", nil, time.Second)
	assert.ErrorIs(t, err, lsp.ErrNotRunning)
}

func TestSupervisorSendAfterStop(t *testing.T) {
	sup := lsp.NewSupervisor(lsptest.ServerCommand())
	require.NoError(t, sup.Start())
	require.NoError(t, sup.Stop())

	assert.ErrorIs(t, sup.Notify("textDocument/didSave", nil), lsp.ErrNotRunning)
	assert.ErrorIs(t, sup.SendRaw([]byte(`{"jsonrpc":"2.0","method":"x"}`)), lsp.ErrNotRunning)
}

func TestSupervisorEmptyCommand(t *testing.T) {
	sup := lsp.NewSupervisor(nil)
	err := sup.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty language server command")
}
