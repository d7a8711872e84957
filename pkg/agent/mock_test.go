package agent

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*LLMResponse)
	return resp, args.Error(1)
}

func (m *mockProvider) Provider() string {
	return "mock"
}

// scriptedProvider replays responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	requests  []LLMRequest
}

func (s *scriptedProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, request)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func (s *scriptedProvider) Provider() string {
	return "scripted"
}

func (s *scriptedProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func toolCallResponse(name, input string) *LLMResponse {
	return &LLMResponse{ToolCalls: []ToolCall{{ID: "call-" + name, Name: name, Parameters: map[string]interface{}{"input": input}}}}
}

func answer(text string) *LLMResponse {
	return &LLMResponse{Content: text, Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}}
}
