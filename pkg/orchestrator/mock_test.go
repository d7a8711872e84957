package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/agentapi/pkg/agent"
)

// scriptedProvider replays responses in order and records every request.
// The last response repeats once the script runs out.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*agent.LLMResponse
	requests  []agent.LLMRequest

	delay     time.Duration
	active    int32
	maxActive int32
}

func (s *scriptedProvider) Call(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error) {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		m := atomic.LoadInt32(&s.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&s.maxActive, m, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, request)
	i := len(s.requests) - 1
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func (s *scriptedProvider) Provider() string {
	return agent.ProviderOpenAI
}

func (s *scriptedProvider) lastRequest() agent.LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

// staticCreator hands out the same provider for every profile.
type staticCreator struct {
	provider agent.LLMProvider
	profiles []agent.AuthProfile
}

func (c *staticCreator) NewProvider(profile agent.AuthProfile) (agent.LLMProvider, error) {
	c.profiles = append(c.profiles, profile)
	return c.provider, nil
}

func toolCall(name, input string) *agent.LLMResponse {
	return &agent.LLMResponse{ToolCalls: []agent.ToolCall{{Name: name, Parameters: map[string]interface{}{"input": input}}}}
}

func answer(text string) *agent.LLMResponse {
	return &agent.LLMResponse{Content: text}
}
