package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsRegistration(t *testing.T) {
	t.Run("should be safe to register repeatedly", func(t *testing.T) {
		assert.NotPanics(t, func() {
			EnsureRegistered()
			EnsureRegistered()
		})
	})
}

func TestRecorders(t *testing.T) {
	t.Run("should expose agent and tool series after recording", func(t *testing.T) {
		RecordAgentRun("basic", 10*time.Millisecond, true)
		RecordToolExecution("calculator", time.Millisecond, false)
		RecordEngineCall("openai", 20*time.Millisecond, true)
		RecordLoopEnd("basic", "finished", 2)

		body := scrape(t)
		assert.Contains(t, body, `agentapi_agent_runs_total{status="success",variant="basic"}`)
		assert.Contains(t, body, `agentapi_tool_executions_total{status="error",tool="calculator"}`)
		assert.Contains(t, body, `agentapi_engine_calls_total{provider="openai",status="success"}`)
		assert.Contains(t, body, `agentapi_loop_terminal_total{reason="finished"}`)
	})

	t.Run("should track gauges", func(t *testing.T) {
		SetActiveSessions(3)
		SetQueueDepth("session-a", 2)

		body := scrape(t)
		assert.Contains(t, body, "agentapi_active_sessions 3")
		assert.Contains(t, body, `agentapi_queue_depth{lane="session-a"} 2`)

		DeleteQueueLane("session-a")
		assert.NotContains(t, scrape(t), `lane="session-a"`)
	})

	t.Run("should count http requests by route", func(t *testing.T) {
		RecordHTTPRequest("/health", http.StatusOK)
		assert.Contains(t, scrape(t), `agentapi_http_requests_total{path="/health",status="200"}`)
	})
}
