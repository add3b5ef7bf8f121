// Package bedrock implements llm.Client on the AWS Bedrock Converse API and
// llm.Embedder on Titan text embeddings.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"souschef/llm"
)

const (
	// defaultModelID is an inference profile ID, not a foundation model ID.
	defaultModelID          = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"
	defaultEmbeddingModelID = "amazon.titan-embed-text-v2:0"
	defaultMaxTokens        = 1024
	defaultTemperature      = 0.2
	defaultTopP             = 0.9

	jsonInstruction = "Respond with a single JSON object and nothing else."
)

type runtimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	InvokeModel(context.Context, *bedrockruntime.InvokeModelInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Options struct {
	ModelID          string
	EmbeddingModelID string
	MaxTokens        int32
	Temperature      float32
	TopP             float32
}

type Client struct {
	brc  runtimeClient
	opts Options
}

func New(brc runtimeClient, opts Options) *Client {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.EmbeddingModelID == "" {
		opts.EmbeddingModelID = defaultEmbeddingModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &Client{brc: brc, opts: opts}
}

func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	in, err := c.converseInput(req)
	if err != nil {
		return llm.Response{}, err
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: bedrock converse failed", "model", c.opts.ModelID, "error", err)
		return llm.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}

	resp := llm.Response{StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	slog.Info("LLM_CLIENT: bedrock converse succeeded",
		"stop_reason", out.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		return llm.Response{}, fmt.Errorf("model hit MaxTokens limit (%d)", c.opts.MaxTokens)
	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		return llm.Response{}, fmt.Errorf("model response blocked by Bedrock safety filters")
	}

	resp.Content = textFromOutput(out)
	resp.ToolCalls = toolCallsFromOutput(out)
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return llm.Response{}, llm.ErrEmptyResponse
	}
	return resp, nil
}

func (c *Client) converseInput(req llm.Request) (*bedrockruntime.ConverseInput, error) {
	var sys []types.SystemContentBlock
	var msgs []types.Message

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			sys = append(sys, &types.SystemContentBlockMemberText{Value: m.Content})

		case llm.RoleUser:
			msgs = appendBlocks(msgs, types.ConversationRoleUser, &types.ContentBlockMemberText{Value: m.Content})

		case llm.RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				}})
			}
			msgs = appendBlocks(msgs, types.ConversationRoleAssistant, blocks...)

		case llm.RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"text": m.Content}
			}
			// Tool results travel in a user turn.
			msgs = appendBlocks(msgs, types.ConversationRoleUser, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Status:    types.ToolResultStatusSuccess,
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberJson{Value: document.NewLazyDocument(result)},
				},
			}})

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	if req.JSON {
		sys = append(sys, &types.SystemContentBlockMemberText{Value: jsonInstruction})
	}

	maxTokens := c.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}
	temperature := c.opts.Temperature
	if req.Temperature > 0 {
		temperature = float32(req.Temperature)
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.opts.ModelID),
		System:   sys,
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
	}

	if len(req.Tools) > 0 {
		var tools []types.Tool
		for _, t := range req.Tools {
			spec, err := buildToolSpec(t)
			if err != nil {
				return nil, err
			}
			tools = append(tools, &types.ToolMemberToolSpec{Value: spec})
		}
		in.ToolConfig = &types.ToolConfiguration{Tools: tools, ToolChoice: &types.ToolChoiceMemberAuto{}}
	}
	return in, nil
}

// appendBlocks merges consecutive same-role turns since Converse requires
// roles to alternate.
func appendBlocks(msgs []types.Message, role types.ConversationRole, blocks ...types.ContentBlock) []types.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}
	return append(msgs, types.Message{Role: role, Content: blocks})
}

func buildToolSpec(t llm.ToolSpec) (types.ToolSpecification, error) {
	schema, err := llm.SchemaMap(t.InputSchema)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("tool %s: %w", t.Name, err)
	}
	return types.ToolSpecification{
		Name:        aws.String(t.Name),
		Description: aws.String(t.Description),
		InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
	}, nil
}

// textFromOutput prefers the last text block that is a JSON object and
// otherwise joins all text blocks.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return ""
	}

	var texts []string
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	for i := len(texts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(texts[i])
		if len(s) > 1 && s[0] == '{' && s[len(s)-1] == '}' {
			return s
		}
	}
	return strings.Join(texts, "\n")
}

func toolCallsFromOutput(out *bedrockruntime.ConverseOutput) []llm.ToolCall {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return nil
	}

	var calls []llm.ToolCall
	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok {
			continue
		}
		input := map[string]any{}
		if tu.Value.Input != nil {
			if err := tu.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
				input = map[string]any{}
			}
		}
		calls = append(calls, llm.ToolCall{
			ID:    aws.ToString(tu.Value.ToolUseId),
			Name:  aws.ToString(tu.Value.Name),
			Input: normalizeInput(input).(map[string]any),
		})
	}
	return calls
}

// normalizeInput decodes stringified JSON arrays and objects that some
// models emit for structured arguments.
func normalizeInput(val any) any {
	switch v := val.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded any
			if json.Unmarshal([]byte(trimmed), &decoded) == nil {
				return normalizeInput(decoded)
			}
		}
		return v
	case []any:
		for i := range v {
			v[i] = normalizeInput(v[i])
		}
		return v
	case map[string]any:
		for key, inner := range v {
			v[key] = normalizeInput(inner)
		}
		return v
	default:
		return v
	}
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls the Titan embedding model once per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(titanRequest{InputText: text})
		if err != nil {
			return nil, err
		}
		out, err := c.brc.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(c.opts.EmbeddingModelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock embed: %w", err)
		}
		var resp titanResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return nil, fmt.Errorf("decode titan embedding: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, llm.ErrEmptyResponse
		}
		vecs = append(vecs, resp.Embedding)
	}
	return vecs, nil
}
