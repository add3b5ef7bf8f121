// Package openai talks to OpenAI-compatible chat APIs (OpenAI, Groq, a local
// Ollama /v1 endpoint) through langchaingo.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"souschef/llm"
)

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"

	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OllamaBaseURL = "http://localhost:11434/v1"

	defaultModelID     = "gpt-4o-mini"
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)

type chatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type embeddingModel interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

type Options struct {
	Provider          string
	ModelID           string
	EmbeddingModel    string
	APIKey            string
	BaseURL           string
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute int
}

// Client implements llm.Client and llm.Embedder.
type Client struct {
	chat    chatModel
	embed   embeddingModel
	opts    Options
	limiter *rate.Limiter
}

// New builds a client for the configured provider. Groq and Ollama get
// their OpenAI-compatible base URL unless one is given explicitly.
func New(opts Options) (*Client, error) {
	opts = withDefaults(opts)

	lcOpts := []lcopenai.Option{
		lcopenai.WithToken(opts.APIKey),
		lcopenai.WithModel(opts.ModelID),
	}
	if opts.EmbeddingModel != "" {
		lcOpts = append(lcOpts, lcopenai.WithEmbeddingModel(opts.EmbeddingModel))
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		switch opts.Provider {
		case ProviderGroq:
			baseURL = GroqBaseURL
		case ProviderOllama:
			baseURL = OllamaBaseURL
		}
	}
	// Ollama ignores the token but the client requires one.
	if opts.APIKey == "" && opts.Provider == ProviderOllama {
		lcOpts[0] = lcopenai.WithToken("ollama")
	}
	if baseURL != "" {
		lcOpts = append(lcOpts, lcopenai.WithBaseURL(baseURL))
	}

	model, err := lcopenai.New(lcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", opts.Provider, err)
	}
	return newClient(model, model, opts), nil
}

func newClient(chat chatModel, embed embeddingModel, opts Options) *Client {
	opts = withDefaults(opts)
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60)
	}
	return &Client{
		chat:    chat,
		embed:   embed,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func withDefaults(opts Options) Options {
	if opts.Provider == "" {
		opts.Provider = ProviderOpenAI
	}
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	return opts
}

func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return llm.Response{}, fmt.Errorf("rate limiter: %w", err)
	}

	messages, err := toMessageContent(req.Messages)
	if err != nil {
		return llm.Response{}, err
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(pick(req.Temperature, c.opts.Temperature)),
		llms.WithMaxTokens(int(pick(float64(req.MaxTokens), float64(c.opts.MaxTokens)))),
	}
	if len(req.Tools) > 0 {
		tools, err := toTools(req.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		callOpts = append(callOpts, llms.WithTools(tools))
	}
	if req.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := c.chat.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		slog.Error("LLM_CLIENT: generate failed", "provider", c.opts.Provider, "model", c.opts.ModelID, "error", err)
		return llm.Response{}, fmt.Errorf("%s generate: %w", c.opts.Provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}

	choice := resp.Choices[0]
	out := llm.Response{
		Content:    choice.Content,
		StopReason: choice.StopReason,
		Usage: llm.Usage{
			InputTokens:  intInfo(choice.GenerationInfo, "PromptTokens"),
			OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
		},
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		input := map[string]any{}
		if tc.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &input); err != nil {
				slog.Warn("LLM_CLIENT: tool arguments are not a JSON object", "tool", tc.FunctionCall.Name, "error", err)
				input = map[string]any{}
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Input: input})
	}

	slog.Info("LLM_CLIENT: generate succeeded",
		"provider", c.opts.Provider,
		"stop_reason", out.StopReason,
		"tool_calls", len(out.ToolCalls),
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)
	return out, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	vecs, err := c.embed.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", c.opts.Provider, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%s embed: got %d vectors for %d texts", c.opts.Provider, len(vecs), len(texts))
	}
	return vecs, nil
}

func toMessageContent(msgs []llm.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case llm.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case llm.RoleAssistant:
			var parts []llms.ContentPart
			if m.Content != "" {
				parts = append(parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					return nil, fmt.Errorf("marshal tool call %s: %w", tc.Name, err)
				}
				parts = append(parts, llms.ToolCall{
					ID:           tc.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case llm.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{ToolCallID: m.ToolCallID, Name: m.ToolName, Content: m.Content},
				},
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func toTools(specs []llm.ToolSpec) ([]llms.Tool, error) {
	tools := make([]llms.Tool, 0, len(specs))
	for _, s := range specs {
		params, err := llm.SchemaMap(s.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", s.Name, err)
		}
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

func pick(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
