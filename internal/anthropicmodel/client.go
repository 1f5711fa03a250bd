// Package anthropicmodel implements gepa.TaskModel and gepa.ReflectionModel
// against the Anthropic Messages API: the host-supplied collaborator the
// core optimization loop treats as an opaque black box.
package anthropicmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	gepa "github.com/scale3labs/gepa-optimizer"
)

// maxAgenticSteps bounds the client's own generate/tool-result loop,
// independent of (and looser than) gepa.Generator.MaxSteps, which truncates
// the recorded trajectory afterward.
const maxAgenticSteps = 10

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string // optional override of the default Anthropic endpoint

	// MaxTokens bounds a single generation call. Zero means 4096.
	MaxTokens int

	// EnablePromptCaching attaches an ephemeral cache breakpoint to the
	// system prompt and the last tool definition, mirroring the teacher's
	// prompt-caching support.
	EnablePromptCaching bool
	// CacheTTL is "5m" (default) or "1h".
	CacheTTL string

	// CallTimeout bounds a single model call. Zero means no timeout beyond
	// whatever the caller's context already carries.
	CallTimeout time.Duration
}

func (c Config) maxTokens() int64 {
	if c.MaxTokens <= 0 {
		return 4096
	}
	return int64(c.MaxTokens)
}

// Client drives trajectory generation, judging, and prompt rewriting through
// the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	cfg    Config
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// cacheControl returns an ephemeral cache-control param and true when prompt
// caching is enabled.
func (c *Client) cacheControl() (anthropic.CacheControlEphemeralParam, bool) {
	if !c.cfg.EnablePromptCaching {
		return anthropic.CacheControlEphemeralParam{}, false
	}
	cc := anthropic.NewCacheControlEphemeralParam()
	if c.cfg.CacheTTL == "1h" {
		cc.TTL = "1h"
	}
	return cc, true
}

func (c *Client) systemBlock(system string) anthropic.TextBlockParam {
	block := anthropic.TextBlockParam{Text: system}
	if cc, ok := c.cacheControl(); ok {
		block.CacheControl = cc
	}
	return block
}

// convertTools converts tool specs to the SDK's tool-union shape, attaching
// a cache breakpoint to the last tool definition when caching is enabled,
// exactly as the teacher does for its MCP tool list.
func (c *Client) convertTools(tools []gepa.ToolSpec) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	params := make([]anthropic.ToolParam, len(tools))
	for i, t := range tools {
		params[i] = anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: toolInputSchema(t.InputSchema),
		}
	}
	if cc, ok := c.cacheControl(); ok {
		params[len(params)-1].CacheControl = cc
	}
	out := make([]anthropic.ToolUnionParam, len(params))
	for i := range params {
		out[i] = anthropic.ToolUnionParam{OfTool: &params[i]}
	}
	return out
}

func convertMessages(messages []gepa.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case gepa.RoleUser, gepa.RoleSystem:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		case gepa.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text())))
		case gepa.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range m.Content {
				if part.Kind == gepa.ContentToolResult {
					blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolCallID, part.ToolOutput, false))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return out
}

// TextGenerate drives a multi-step agentic exchange: stream a turn, execute
// any requested tools via their own ToolSpec.Execute, feed the results back,
// and repeat until the model stops requesting tools or maxAgenticSteps is
// reached.
func (c *Client) TextGenerate(ctx context.Context, modelID string, system string, messages []gepa.Message, tools []gepa.ToolSpec) (gepa.TextGenResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	toolParams := c.convertTools(tools)
	byName := make(map[string]gepa.ToolSpec, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	sdkMessages := convertMessages(messages)
	result := gepa.TextGenResult{}

	for step := 0; step < maxAgenticSteps; step++ {
		stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(modelID),
			MaxTokens: c.cfg.maxTokens(),
			System:    []anthropic.TextBlockParam{c.systemBlock(system)},
			Messages:  sdkMessages,
			Tools:     toolParams,
		})

		message := anthropic.Message{}
		var text strings.Builder
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				return result, fmt.Errorf("accumulate stream event: %w", err)
			}
			if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				text.WriteString(evt.Delta.Text)
			}
		}
		if err := stream.Err(); err != nil {
			return result, fmt.Errorf("streaming generation: %w", err)
		}

		sdkMessages = append(sdkMessages, message.ToParam())

		genStep := gepa.TextGenStep{}
		for _, block := range message.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				genStep.Text += tb.Text
			}
		}
		if genStep.Text == "" {
			genStep.Text = text.String()
		}

		if message.StopReason != anthropic.StopReasonToolUse {
			result.Steps = append(result.Steps, genStep)
			result.Text = genStep.Text
			return result, nil
		}

		var toolResultBlocks []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			tu, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			inputJSON, err := json.Marshal(tu.Input)
			if err != nil {
				inputJSON = json.RawMessage("{}")
			}
			genStep.ToolCalls = append(genStep.ToolCalls, gepa.ToolCallPart{ID: tu.ID, Name: tu.Name, Input: inputJSON})

			output, isError := c.executeTool(ctx, byName, tu, inputJSON)
			genStep.ToolResults = append(genStep.ToolResults, gepa.ToolResultPart{ToolCallID: tu.ID, Output: output})
			toolResultBlocks = append(toolResultBlocks, anthropic.NewToolResultBlock(tu.ID, output, isError))
		}
		result.Steps = append(result.Steps, genStep)

		if len(toolResultBlocks) == 0 {
			result.Text = genStep.Text
			return result, nil
		}
		sdkMessages = append(sdkMessages, anthropic.NewUserMessage(toolResultBlocks...))
	}

	log.Warn().Str("model", modelID).Int("steps", maxAgenticSteps).Msg("agentic loop hit step cap without a final turn")
	return result, nil
}

func (c *Client) executeTool(ctx context.Context, specs map[string]gepa.ToolSpec, tu anthropic.ToolUseBlock, inputJSON json.RawMessage) (string, bool) {
	spec, ok := specs[tu.Name]
	if !ok || spec.Execute == nil {
		return fmt.Sprintf("no executor registered for tool %q", tu.Name), true
	}
	output, err := spec.Execute(ctx, inputJSON)
	if err != nil {
		return err.Error(), true
	}
	return output, false
}

// StructuredGenerate forces a single synthetic tool call shaped by schema
// and returns its arguments verbatim as the structured result. If the model
// ignores the forced tool choice and answers in prose instead (observed
// occasionally with smaller models), it falls back to extracting JSON out of
// the text response rather than failing outright.
func (c *Client) StructuredGenerate(ctx context.Context, modelID string, system string, messages []gepa.Message, schema gepa.Schema) (json.RawMessage, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tool := structuredOutputTool(schema)
	toolChoice := anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: structuredOutputToolName},
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: c.cfg.maxTokens(),
		System:    []anthropic.TextBlockParam{c.systemBlock(system + "\n\n" + renderSchemaAsPromptHint(schema))},
		Messages:   convertMessages(messages),
		Tools:      []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: toolChoice,
	})
	if err != nil {
		return nil, fmt.Errorf("structured generation call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok && tu.Name == structuredOutputToolName {
			inputJSON, err := json.Marshal(tu.Input)
			if err != nil {
				return nil, fmt.Errorf("marshal structured tool input: %w", err)
			}
			return inputJSON, nil
		}
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	if extracted, err := extractStructuredJSON(text.String()); err == nil {
		return extracted, nil
	}

	return nil, fmt.Errorf("model did not call %s", structuredOutputToolName)
}

// reflectionSystemPrompt frames the reflection model's role for both judging
// and rewriting calls.
const reflectionSystemPrompt = "You are an expert evaluator and prompt engineer assisting with iterative prompt improvement."

// Judge scores a generated trajectory against a sample using a forced
// structured tool call shaped by gepa.JudgeSchema(req.Dimensions).
func (c *Client) Judge(ctx context.Context, modelID string, req gepa.JudgeRequest) (gepa.JudgeResult, error) {
	schema := gepa.JudgeSchema(req.Dimensions)
	prompt := gepa.BuildPrompt(req)

	raw, err := c.StructuredGenerate(ctx, modelID, reflectionSystemPrompt, []gepa.Message{
		{Role: gepa.RoleUser, Content: []gepa.Content{gepa.TextContent(prompt)}},
	}, schema)
	if err != nil {
		return gepa.JudgeResult{}, err
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return gepa.JudgeResult{}, fmt.Errorf("decode judge result: %w", err)
	}

	result := gepa.JudgeResult{Metrics: make(gepa.MetricScores)}
	for name := range req.Dimensions {
		if v, ok := decoded[name]; ok {
			if f, ok := v.(float64); ok {
				result.Metrics[name] = f
			}
		}
	}
	if s, ok := decoded["detailed_feedback"].(string); ok {
		result.DetailedFeedback = s
	}
	if s, ok := decoded["suggested_improvements"].(string); ok {
		result.SuggestedImprovements = s
	}
	return result, nil
}

// Rewrite asks the reflection model to produce an improved prompt from a
// meta-prompt built by gepa.Rewriter.Rewrite. The response is plain text, so
// it runs through the same markdown-fence stripping the teacher uses for
// loosely-structured model output, even though the payload here is the
// prompt itself rather than JSON. Prose around the prompt is not removed.
func (c *Client) Rewrite(ctx context.Context, modelID string, metaPrompt string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: c.cfg.maxTokens(),
		System:    []anthropic.TextBlockParam{c.systemBlock(reflectionSystemPrompt)},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(metaPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("rewrite call: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("rewrite call returned no content")
	}

	tb, ok := resp.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return "", fmt.Errorf("rewrite call returned non-text content")
	}

	return strings.TrimSpace(stripMarkdownFences(tb.Text)), nil
}

// extractStructuredJSON is the fallback textual path StructuredGenerate uses
// when the model answers in prose instead of calling the forced tool: it
// coerces the plain-text response into JSON, failing if none is valid.
func extractStructuredJSON(text string) (json.RawMessage, error) {
	extracted, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	if !isValidJSON(extracted) {
		return nil, fmt.Errorf("no valid JSON found in model response")
	}
	return json.RawMessage(extracted), nil
}
