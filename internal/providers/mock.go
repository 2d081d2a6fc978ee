package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string

	// ResponseFunc, when set, computes the response per request and
	// takes precedence over Responses/ResponseText.
	ResponseFunc func(req *GenerateRequest) (string, error)

	// Responses are returned in order, then ResponseText repeats.
	Responses []string

	mu           sync.Mutex
	responseIdx  int
	requests     []*GenerateRequest
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string { return MockClientName }

// Generate returns the configured response.
func (c *MockClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	count := c.requestCount.Add(1)

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Latency):
		}
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.ShouldFail {
		return nil, fmt.Errorf("mock failure")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return nil, fmt.Errorf("mock failure after %d requests", c.FailAfter)
	}

	text := c.ResponseText
	if c.ResponseFunc != nil {
		var err error
		text, err = c.ResponseFunc(req)
		if err != nil {
			return nil, err
		}
	} else {
		c.mu.Lock()
		if c.responseIdx < len(c.Responses) {
			text = c.Responses[c.responseIdx]
			c.responseIdx++
		}
		c.mu.Unlock()
	}

	return &GenerateResult{
		Text:      text,
		Provider:  MockClientName,
		ModelUsed: "mock-model",
	}, nil
}

// RequestCount returns the number of Generate calls so far.
func (c *MockClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Requests returns a copy of all recorded requests.
func (c *MockClient) Requests() []*GenerateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*GenerateRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ LLMClient = (*MockClient)(nil)
