package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// MockStep is one scripted reply of a Mock.
type MockStep struct {
	Response *Response
	Err      error
}

// Mock is a scripted Provider for tests. Each Complete call consumes the
// next step; when the script runs out, Fallback is used if set.
type Mock struct {
	mu       sync.Mutex
	steps    []MockStep
	requests []Request

	// Fallback answers calls once the script is exhausted.
	Fallback func(ctx context.Context, req Request) (*Response, error)
	// Dims is the size of vectors returned by Embed (default 256).
	Dims int
	// EmbedErr, when set, is returned by every Embed call.
	EmbedErr error
}

// NewMock creates a Mock that plays steps in order.
func NewMock(steps ...MockStep) *Mock {
	return &Mock{steps: steps}
}

// Reply is shorthand for a final-answer step.
func Reply(text string) MockStep {
	return MockStep{Response: &Response{Text: text, StopReason: StopEndTurn}}
}

// Call is shorthand for a step that requests one tool call.
func Call(id, name string, args map[string]any) MockStep {
	return MockStep{Response: &Response{
		ToolCalls:  []ToolCall{{ID: id, Name: name, Arguments: args}},
		StopReason: StopToolUse,
	}}
}

// Fail is shorthand for a step that returns err.
func Fail(err error) MockStep {
	return MockStep{Err: err}
}

// Push appends steps to the script.
func (m *Mock) Push(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Complete implements Completer.
func (m *Mock) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, cloneRequest(req))
	var step *MockStep
	if len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		step = &s
	}
	fallback := m.Fallback
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step == nil {
		if fallback != nil {
			return fallback(ctx, req)
		}
		return nil, fmt.Errorf("llm: mock: no scripted response for call %d", m.Calls())
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Embed implements Embedder with a deterministic bag-of-words hash, so texts
// sharing words land close together.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dims := m.Dims
	if dims <= 0 {
		dims = 256
	}
	return HashEmbed(text, dims), nil
}

// Requests returns a copy of every request received.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns how many Complete calls were made.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// HashEmbed maps text to a normalized vector of the given size by hashing
// lower-cased words into buckets.
func HashEmbed(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

func cloneRequest(req Request) Request {
	out := req
	out.Messages = append([]Message(nil), req.Messages...)
	out.Tools = append([]Tool(nil), req.Tools...)
	return out
}
