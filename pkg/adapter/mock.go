package adapter

import (
	"context"
	"fmt"
	"sync"
)

// MockReply is one scripted outcome of a MockAdapter call.
type MockReply struct {
	Content string
	Err     error
}

// MockAdapter returns deterministic responses for local runs and tests.
// Scripted replies are consumed first, in order; after that the adapter
// answers from the prompt map or echoes the prompt after a default prefix.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	script          []MockReply
	prompts         []string
	Usage           Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// Enqueue appends scripted replies.
func (a *MockAdapter) Enqueue(replies ...MockReply) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, replies...)
	return a
}

// Prompts returns every prompt the adapter has received, in call order.
func (a *MockAdapter) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns the next scripted reply or a deterministic response for
// the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, callError(a.Name(), "call cancelled", 0, err)
	}
	if model == "" {
		model = "mock-1"
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)

	content := ""
	if len(a.script) > 0 {
		reply := a.script[0]
		a.script = a.script[1:]
		if reply.Err != nil {
			return nil, reply.Err
		}
		content = reply.Content
	} else if response, ok := a.responses[prompt]; ok {
		content = response
	} else {
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	}

	if content == "" {
		return nil, emptyResponse(a.Name(), "scripted reply is empty")
	}
	return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
}
