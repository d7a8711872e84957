package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/orchestrator"
	"github.com/harun/agentapi/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runCall struct {
	query   string
	variant string
	opts    orchestrator.RunOptions
}

// fakeRunner answers every run with result and replays transitions to observers.
type fakeRunner struct {
	mu          sync.Mutex
	calls       []runCall
	result      orchestrator.RunResult
	transitions []agent.Transition
	block       chan struct{}
	panicWith   interface{}
}

func (f *fakeRunner) Run(ctx context.Context, query, variant string, opts orchestrator.RunOptions, observers ...agent.TransitionFunc) orchestrator.RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{query: query, variant: variant, opts: opts})
	f.mu.Unlock()

	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.block != nil {
		<-f.block
	}
	for _, t := range f.transitions {
		for _, observe := range observers {
			observe(t)
		}
	}
	return f.result
}

func (f *fakeRunner) lastCall() runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestServer(t *testing.T, runner Runner, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Port:           3000,
		Runner:         runner,
		MetricsEnabled: true,
		Logger:         zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{Port: 0, Runner: &fakeRunner{}})
	assert.ErrorContains(t, err, "invalid port")

	_, err = NewServer(Config{Port: 3000})
	assert.ErrorContains(t, err, "runner is required")
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, nil).Handler()

	rec := doJSON(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ok", "message": "Agent API is running"}, decode(t, rec))
	assert.NotEmpty(t, rec.Header().Get(traceHeader))
}

func TestRunEndpoint(t *testing.T) {
	t.Run("should return the run result", func(t *testing.T) {
		runner := &fakeRunner{result: orchestrator.RunResult{Output: "1200", Success: true}}
		h := newTestServer(t, runner, nil).Handler()

		rec := doJSON(t, h, http.MethodPost, "/api/agent/run",
			`{"query":"Calculate 25 * 48","agentType":"advanced","options":{"modelName":"gpt-4","temperature":0.2,"sessionId":"s1"}}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]interface{}{"output": "1200", "success": true}, decode(t, rec))

		call := runner.lastCall()
		assert.Equal(t, "Calculate 25 * 48", call.query)
		assert.Equal(t, "advanced", call.variant)
		assert.Equal(t, "gpt-4", call.opts.Model())
		require.NotNil(t, call.opts.Temperature)
		assert.Equal(t, 0.2, *call.opts.Temperature)
		assert.Equal(t, "s1", call.opts.SessionID)
	})

	t.Run("should keep agent failures at 200", func(t *testing.T) {
		runner := &fakeRunner{result: orchestrator.RunResult{
			Output:  orchestrator.ErrorPrefix + "missing credentials",
			Success: false,
			Error:   "missing credentials",
		}}
		rec := doJSON(t, newTestServer(t, runner, nil).Handler(), http.MethodPost, "/api/agent/run", `{"query":"hi"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "missing credentials", body["error"])
	})

	t.Run("should reject a missing query", func(t *testing.T) {
		runner := &fakeRunner{}
		h := newTestServer(t, runner, nil).Handler()

		for _, body := range []string{`{}`, `{"query":"   "}`, ``} {
			rec := doJSON(t, h, http.MethodPost, "/api/agent/run", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]interface{}{"success": false, "error": "Query is required"}, decode(t, rec))
		}
		assert.Equal(t, 0, runner.callCount())
	})

	t.Run("should reject malformed json", func(t *testing.T) {
		rec := doJSON(t, newTestServer(t, &fakeRunner{}, nil).Handler(), http.MethodPost, "/api/agent/run", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decode(t, rec)["error"])
	})

	t.Run("should turn adapter panics into 500", func(t *testing.T) {
		runner := &fakeRunner{panicWith: "boom"}
		rec := doJSON(t, newTestServer(t, runner, nil).Handler(), http.MethodPost, "/api/agent/run", `{"query":"hi"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, map[string]interface{}{"success": false, "error": "Server error: boom"}, decode(t, rec))
	})

	t.Run("should reject other methods", func(t *testing.T) {
		rec := doJSON(t, newTestServer(t, &fakeRunner{}, nil).Handler(), http.MethodGet, "/api/agent/run", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestToolEndpoint(t *testing.T) {
	t.Run("should echo the tool call", func(t *testing.T) {
		runner := &fakeRunner{result: orchestrator.RunResult{Output: "72°F and sunny", Success: true}}
		h := newTestServer(t, runner, nil).Handler()

		rec := doJSON(t, h, http.MethodPost, "/api/agent/tool",
			`{"name":"runAgent","arguments":{"query":"weather in Paris","agentType":"basic"}}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "72°F and sunny", body["output"])
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "runAgent", body["toolName"])
		assert.Equal(t, map[string]interface{}{"query": "weather in Paris", "agentType": "basic"}, body["toolArgs"])
		assert.Equal(t, "basic", runner.lastCall().variant)
	})

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown tool", `{"name":"deleteEverything","arguments":{"query":"x"}}`, "Unknown tool: deleteEverything"},
		{"missing query", `{"name":"runAgent","arguments":{"agentType":"basic"}}`, "Query parameter is required"},
		{"missing arguments", `{"name":"runAgent"}`, "Query parameter is required"},
		{"malformed arguments", `{"name":"runAgent","arguments":"oops"}`, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			rec := doJSON(t, newTestServer(t, runner, nil).Handler(), http.MethodPost, "/api/agent/tool", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]interface{}{"success": false, "error": tt.wantErr}, decode(t, rec))
			assert.Equal(t, 0, runner.callCount())
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("should mint and delete sessions", func(t *testing.T) {
		sessions := session.NewManager(session.ManagerConfig{Lifetime: session.LifetimePerSession})
		h := newTestServer(t, &fakeRunner{}, func(c *Config) { c.Sessions = sessions }).Handler()

		rec := doJSON(t, h, http.MethodPost, "/api/agent/session", "")
		require.Equal(t, http.StatusCreated, rec.Code)
		id, _ := decode(t, rec)["sessionId"].(string)
		require.NotEmpty(t, id)
		assert.Equal(t, []string{id}, sessions.List())

		rec = doJSON(t, h, http.MethodDelete, "/api/agent/session/"+id, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 0, sessions.Count())

		rec = doJSON(t, h, http.MethodDelete, "/api/agent/session/"+id, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should not find ids that were never minted", func(t *testing.T) {
		journal, err := session.NewFileJournal(t.TempDir())
		require.NoError(t, err)
		sessions := session.NewManager(session.ManagerConfig{Lifetime: session.LifetimePerSession, Journal: journal})
		h := newTestServer(t, &fakeRunner{}, func(c *Config) { c.Sessions = sessions }).Handler()

		rec := doJSON(t, h, http.MethodDelete, "/api/agent/session/never-minted", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should report journal failures as server errors", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "journal")
		journal, err := session.NewFileJournal(dir)
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(dir))
		require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0600))

		sessions := session.NewManager(session.ManagerConfig{Lifetime: session.LifetimePerSession, Journal: journal})
		h := newTestServer(t, &fakeRunner{}, func(c *Config) { c.Sessions = sessions }).Handler()

		rec := doJSON(t, h, http.MethodDelete, "/api/agent/session/abc", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("should conflict under per-request lifetime", func(t *testing.T) {
		sessions := session.NewManager(session.ManagerConfig{Lifetime: session.LifetimePerRequest})
		h := newTestServer(t, &fakeRunner{}, func(c *Config) { c.Sessions = sessions }).Handler()

		rec := doJSON(t, h, http.MethodPost, "/api/agent/session", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("should conflict without a session manager", func(t *testing.T) {
		rec := doJSON(t, newTestServer(t, &fakeRunner{}, nil).Handler(), http.MethodDelete, "/api/agent/session/abc", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	t.Run("should allow any origin by default", func(t *testing.T) {
		h := newTestServer(t, &fakeRunner{}, nil).Handler()

		req := httptest.NewRequest(http.MethodOptions, "/api/agent/run", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("should echo listed origins only", func(t *testing.T) {
		h := newTestServer(t, &fakeRunner{}, func(c *Config) {
			c.CORSOrigins = []string{"https://app.example.com"}
		}).Handler()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimit(t *testing.T) {
	runner := &fakeRunner{result: orchestrator.RunResult{Output: "ok", Success: true}}
	h := newTestServer(t, runner, func(c *Config) { c.RateLimitPerMinute = 2 }).Handler()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/agent/run", `{"query":"hi"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/agent/run", `{"query":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, runner.callCount())

	t.Run("should not limit health checks", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, nil).Handler()
	doJSON(t, h, http.MethodGet, "/health", "")

	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentapi_http_requests_total")

	t.Run("should be absent when disabled", func(t *testing.T) {
		h := newTestServer(t, &fakeRunner{}, func(c *Config) { c.MetricsEnabled = false }).Handler()
		rec := doJSON(t, h, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStream(t *testing.T) {
	runner := &fakeRunner{
		result: orchestrator.RunResult{Output: "1200", Success: true, Iterations: 1},
		transitions: []agent.Transition{
			{FromName: "start", ToName: "thinking"},
			{FromName: "thinking", ToName: "finished", Output: "1200"},
		},
	}
	ts := httptest.NewServer(newTestServer(t, runner, nil).Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/agent/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(RunRequest{Query: "Calculate 25 * 48"}))

	var events []StreamEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt StreamEvent
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		events = append(events, evt)
	}

	require.Len(t, events, 3)
	assert.Equal(t, EventTransition, events[0].Event)
	assert.Equal(t, "thinking", events[0].Transition.ToName)
	assert.Equal(t, "finished", events[1].Transition.ToName)
	assert.Equal(t, EventResult, events[2].Event)
	require.NotNil(t, events[2].Data)
	assert.Equal(t, "1200", events[2].Data.Output)
	assert.Equal(t, "Calculate 25 * 48", runner.lastCall().query)

	t.Run("should report a missing query", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(RunRequest{}))
		var evt StreamEvent
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, EventError, evt.Event)
		assert.Equal(t, "Query is required", evt.Error)
	})
}

func TestShutdown(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), result: orchestrator.RunResult{Output: "done", Success: true}}
	s := newTestServer(t, runner, nil)
	h := s.Handler()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doJSON(t, h, http.MethodPost, "/api/agent/run", `{"query":"slow"}`)
	}()
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- s.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool {
		rec := doJSON(t, h, http.MethodGet, "/health", "")
		return rec.Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned before the in-flight run finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(runner.block)
	assert.Equal(t, http.StatusOK, (<-done).Code)
	assert.NoError(t, <-shutdownDone)
}

func TestStartAndShutdown(t *testing.T) {
	s, err := NewServer(Config{Host: "127.0.0.1", Port: freePort(t), Runner: &fakeRunner{}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func freePort(t *testing.T) int {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.Listener.Addr().(*net.TCPAddr)
	ts.Close()
	return addr.Port
}
