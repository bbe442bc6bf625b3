// Package llm defines the reasoning-service contract used by the chat
// orchestrator and the agents, plus its Gemini implementation.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Completer produces either a final answer or tool invocation requests.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider is a reasoning service that can both complete and embed.
type Provider interface {
	Completer
	Embedder
}

// Request is one call to the reasoning service.
type Request struct {
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// Message is one conversation entry. Assistant messages may carry the tool
// calls the model asked for; tool messages carry their results.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Tool declares a callable function to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  *Schema
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult is the outcome of a ToolCall, fed back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content map[string]any
	IsError bool
}

// StopReason says why the model stopped producing output.
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopToolUse  StopReason = "tool_use"
	StopMaxToken StopReason = "max_tokens"
)

// Response is the model's reply.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// WantsTools reports whether the model asked for tool execution.
func (r *Response) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Schema is the JSON-schema subset used for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Object builds an object schema.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// String builds a string property.
func String(desc string, enum ...string) *Schema {
	return &Schema{Type: "string", Description: desc, Enum: enum}
}

// Integer builds an integer property.
func Integer(desc string) *Schema {
	return &Schema{Type: "integer", Description: desc}
}

// Boolean builds a boolean property.
func Boolean(desc string) *Schema {
	return &Schema{Type: "boolean", Description: desc}
}

// ProviderError is a failed call to the reasoning service.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Text builds a single-user-message request, for agents that only need a
// plain completion.
func Text(system, prompt string, maxTokens int) Request {
	return Request{
		System:    system,
		Messages:  []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	}
}

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("no reasoning provider configured")

// Disabled is the Completer used when reasoning.provider is "none". Every
// call fails, so chat turns report an upstream error instead of hanging.
type Disabled struct{}

// Complete implements Completer.
func (Disabled) Complete(context.Context, Request) (*Response, error) {
	return nil, &ProviderError{Provider: "none", Op: "complete", Err: ErrNotConfigured}
}
