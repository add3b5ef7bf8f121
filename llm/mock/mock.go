// Package mock provides deterministic llm.Client and llm.Embedder
// implementations for tests and offline runs.
package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"souschef/llm"
)

var ErrExhausted = errors.New("mock: no more responses available")

// Step is one scripted reply.
type Step struct {
	Response llm.Response
	Err      error
}

// Client replays scripted steps in order and records every request.
type Client struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

func NewClient(steps ...Step) *Client {
	return &Client{steps: steps}
}

// Reply is shorthand for a step carrying only text.
func Reply(content string) Step {
	return Step{Response: llm.Response{Content: content, StopReason: "stop"}}
}

// Calls is shorthand for a step requesting tool calls.
func Calls(calls ...llm.ToolCall) Step {
	return Step{Response: llm.Response{ToolCalls: calls, StopReason: "tool_calls"}}
}

func Fail(err error) Step {
	return Step{Err: err}
}

func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return llm.Response{}, ErrExhausted
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	return step.Response, step.Err
}

// Requests returns the requests seen so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Func adapts a function to llm.Client.
type Func func(ctx context.Context, req llm.Request) (llm.Response, error)

func (f Func) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f(ctx, req)
}

// Embedder hashes lowercase word tokens into a fixed number of buckets and
// L2-normalizes the result, so identical texts embed identically and texts
// sharing most words score a high cosine similarity.
type Embedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func NewEmbedder() *Embedder {
	return &Embedder{Dim: 256}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 256
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, dim)
	}
	return out, nil
}

func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
