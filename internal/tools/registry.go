// Package tools is the catalog of functions the chat reasoner may call and
// the executor that runs them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/logging"
	"go.uber.org/zap"
)

// ErrAlreadyRegistered is returned when a tool name is taken.
var ErrAlreadyRegistered = errors.New("tool already registered")

// Handler executes one tool call. The returned map is sent back to the
// reasoner as the tool result.
type Handler func(ctx context.Context, args Args) (map[string]any, error)

// Tool is one callable function.
type Tool struct {
	Name        string
	Description string
	Parameters  *llm.Schema
	// Requires names the integration capability the tool reads. The tool is
	// only offered while that capability is connected.
	Requires string
	Handler  Handler
}

func (t *Tool) validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("name is required")
	case t.Handler == nil:
		return fmt.Errorf("%s: handler is required", t.Name)
	}
	return nil
}

// Registry holds the tools and executes calls against them. It is safe for
// concurrent use.
type Registry struct {
	suite  *integration.Suite
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry. suite decides which
// integration-backed tools are available; it may be nil.
func NewRegistry(suite *integration.Suite, logger *zap.Logger) *Registry {
	return &Registry{
		suite:  suite,
		logger: logging.OrNop(logger).Named("tools"),
		tools:  make(map[string]*Tool),
	}
}

// Register adds a tool.
func (r *Registry) Register(t *Tool) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("tools: register: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: %w: %s", ErrAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister registers tools and panics on error.
func (r *Registry) MustRegister(list ...*Tool) {
	for _, t := range list {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) available(t *Tool) bool {
	return t.Requires == "" || r.suite.Connected(t.Requires)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns the declarations of the tools available right now,
// sorted by name.
func (r *Registry) Catalog() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if !r.available(t) {
			continue
		}
		params := t.Parameters
		if params == nil {
			params = llm.Object(nil)
		}
		out = append(out, llm.Tool{Name: t.Name, Description: t.Description, Parameters: params})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one call. Every failure, including an unknown or
// disconnected tool, a missing argument and a panicking handler, is
// reported as fault.ErrToolExecution.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (result map[string]any, err error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tools: %w: unknown tool %q", fault.ErrToolExecution, call.Name)
	}
	if !r.available(t) {
		return nil, fmt.Errorf("tools: %w: %s requires %s, which is not connected", fault.ErrToolExecution, t.Name, t.Requires)
	}
	args := Args(call.Arguments)
	if t.Parameters != nil {
		for _, req := range t.Parameters.Required {
			if args.String(req) == "" {
				return nil, fmt.Errorf("tools: %w: %s: %s is required", fault.ErrToolExecution, t.Name, req)
			}
		}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("tools: %w: %s panicked: %v", fault.ErrToolExecution, t.Name, p)
		}
		r.logger.Debug("tool executed",
			zap.String("tool", t.Name), zap.Duration("took", time.Since(start)), zap.Error(err))
	}()

	result, err = t.Handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tools: %w: %s: %w", fault.ErrToolExecution, t.Name, err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}
