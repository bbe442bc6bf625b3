package llm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Default Gemini models.
const (
	DefaultGenAIModel          = "gemini-2.5-flash"
	DefaultGenAIEmbeddingModel = "gemini-embedding-001"
)

// GenAI is a Provider backed by Google Gemini.
type GenAI struct {
	client     *genai.Client
	model      string
	embedModel string
	maxTokens  int
	dims       int32
}

// GenAIOpts holds parameters for creating a GenAI provider.
type GenAIOpts struct {
	APIKey         string
	Model          string // defaults to DefaultGenAIModel
	EmbeddingModel string // defaults to DefaultGenAIEmbeddingModel
	MaxTokens      int
	Dimensions     int // embedding size; 0 keeps the model default
}

// NewGenAI creates a Gemini-backed provider.
func NewGenAI(ctx context.Context, opts GenAIOpts) (*GenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: genai: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: genai: create client: %w", err)
	}
	g := &GenAI{
		client:     client,
		model:      opts.Model,
		embedModel: opts.EmbeddingModel,
		maxTokens:  opts.MaxTokens,
		dims:       int32(opts.Dimensions),
	}
	if g.model == "" {
		g.model = DefaultGenAIModel
	}
	if g.embedModel == "" {
		g.embedModel = DefaultGenAIEmbeddingModel
	}
	return g, nil
}

// Complete implements Completer.
func (g *GenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, toContents(req.Messages), cfg)
	if err != nil {
		return nil, &ProviderError{Provider: "genai", Op: "generate", Err: err}
	}
	return fromGenAIResponse(resp), nil
}

// Embed implements Embedder.
func (g *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if g.dims > 0 {
		cfg.OutputDimensionality = &g.dims
	}
	result, err := g.client.Models.EmbedContent(ctx, g.embedModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, &ProviderError{Provider: "genai", Op: "embed", Err: err}
	}
	if len(result.Embeddings) == 0 {
		return nil, &ProviderError{Provider: "genai", Op: "embed", Err: fmt.Errorf("no embeddings returned")}
	}
	return result.Embeddings[0].Values, nil
}

func toContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.ToolCalls {
				p := genai.NewPartFromFunctionCall(call.Name, call.Arguments)
				p.FunctionCall.ID = call.ID
				parts = append(parts, p)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case RoleTool:
			parts := make([]*genai.Part, 0, len(m.ToolResults))
			for _, res := range m.ToolResults {
				p := genai.NewPartFromFunctionResponse(res.Name, res.Content)
				p.FunctionResponse.ID = res.CallID
				parts = append(parts, p)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}

func toFunctionDeclarations(tools []Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenAISchema(t.Parameters),
		})
	}
	return decls
}

func toGenAISchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       toGenAISchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenAISchema(p)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func fromGenAIResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{StopReason: StopEndTurn}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	cand := resp.Candidates[0]
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        id,
				Name:      p.FunctionCall.Name,
				Arguments: p.FunctionCall.Args,
			})
		case p.Text != "" && !p.Thought:
			out.Text += p.Text
		}
	}
	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = StopToolUse
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = StopMaxToken
	}
	return out
}
