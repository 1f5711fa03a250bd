package gepa

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrorMarker is the well-known assistant text recorded when trajectory
// generation fails. Per §4.1 this is a successful return, not an error: the
// failure surfaces later as a low judge score.
const ErrorMarker = "[Error generating response]"

// ToolSpec describes a tool the host exposes to the task model in text mode.
// The core never executes tools itself; it only forwards specs to the task
// model and records whatever tool-call/tool-result turns come back.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema Schema

	// Execute, if set, lets a concrete TaskModel implementation actually
	// invoke the tool when the model requests it. The core never calls this
	// itself; only a TaskModel implementation (e.g. internal/anthropicmodel)
	// does, exactly as the host's agent runtime would.
	Execute func(ctx context.Context, input json.RawMessage) (string, error)
}

// Schema is a minimal, provider-agnostic description of a structured-output
// contract: field names, types, and which fields are dimension scores. A
// concrete TaskModel/ReflectionModel implementation maps this onto its
// provider's structured-output feature (e.g. a forced tool call).
type Schema struct {
	Title       string
	Description string
	Fields      []SchemaField
}

// SchemaField describes one field of a Schema.
type SchemaField struct {
	Name        string
	Type        string // "number", "string", "boolean", "integer"
	Description string
	Minimum     *float64
	Maximum     *float64
	Required    bool
}

// TextGenResult is the task model's response to a text-mode generation
// request: zero or more agentic steps, each optionally carrying tool calls
// and tool results, plus the final assistant text.
type TextGenResult struct {
	Steps []TextGenStep
	Text  string
}

// TextGenStep is one step of a multi-step agentic exchange.
type TextGenStep struct {
	ToolCalls   []ToolCallPart
	ToolResults []ToolResultPart
	Text        string
}

// ToolCallPart is a single tool invocation requested by the model.
type ToolCallPart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart is a single tool result fed back to the model.
type ToolResultPart struct {
	ToolCallID string
	Output     string
}

// TaskModel executes a candidate prompt against a sample's user input. It is
// the host-supplied collaborator described in §6; the core treats it as an
// opaque black box, including whatever tool execution it performs
// internally.
type TaskModel interface {
	TextGenerate(ctx context.Context, modelID string, system string, messages []Message, tools []ToolSpec) (TextGenResult, error)
	StructuredGenerate(ctx context.Context, modelID string, system string, messages []Message, schema Schema) (json.RawMessage, error)
}

// Trajectory is what executing a candidate prompt against a sample's user
// turn produced.
type Trajectory struct {
	ID        string
	Timestamp time.Time
	Messages  []Message
}

// Generator produces Trajectories from (sample, prompt, task model, mode).
type Generator struct {
	// MaxSteps bounds the number of assistant/tool cycles recorded from a
	// text-mode generation. Zero means the §4.1 default of 5.
	MaxSteps int
}

func (g Generator) maxSteps() int {
	if g.MaxSteps <= 0 {
		return 5
	}
	return g.MaxSteps
}

// Generate runs prompt against sample's user input via model in the given
// mode and returns a Trajectory. It never returns an error: any provider
// failure, schema violation, or timeout is recorded as the well-known error
// marker on the final assistant turn, per §4.1.
func (g Generator) Generate(ctx context.Context, sample Sample, prompt string, modelID string, model TaskModel, mode Mode, tools []ToolSpec, schema Schema) Trajectory {
	traj := Trajectory{
		ID:        sample.ID,
		Timestamp: time.Now(),
	}

	userMsg, ok := firstUserMessage(sample)
	if !ok {
		log.Warn().Str("sample", sample.ID).Msg("sample has no user message; generating empty trajectory")
		traj.Messages = []Message{{Role: RoleAssistant, Content: []Content{TextContent(ErrorMarker)}}}
		return traj
	}
	traj.Messages = append(traj.Messages, userMsg)

	switch mode {
	case ModeStructured:
		raw, err := model.StructuredGenerate(ctx, modelID, prompt, []Message{userMsg}, schema)
		if err != nil {
			log.Warn().Err(err).Str("sample", sample.ID).Msg("structured generation failed")
			traj.Messages = append(traj.Messages, errorTurn())
			return traj
		}
		traj.Messages = append(traj.Messages, Message{
			Role:    RoleAssistant,
			Content: []Content{TextContent(string(raw))},
		})
		return traj
	default:
		result, err := model.TextGenerate(ctx, modelID, prompt, []Message{userMsg}, tools)
		if err != nil {
			log.Warn().Err(err).Str("sample", sample.ID).Msg("text generation failed")
			traj.Messages = append(traj.Messages, errorTurn())
			return traj
		}

		steps := result.Steps
		if max := g.maxSteps(); len(steps) > max {
			steps = steps[:max]
		}

		for _, step := range steps {
			if len(step.ToolCalls) > 0 {
				var callContent []Content
				for _, tc := range step.ToolCalls {
					callContent = append(callContent, ToolCallContent(tc.ID, tc.Name, tc.Input))
				}
				traj.Messages = append(traj.Messages, Message{Role: RoleAssistant, Content: callContent})

				for _, tr := range step.ToolResults {
					traj.Messages = append(traj.Messages, Message{
						Role:    RoleTool,
						Content: []Content{ToolResultContent(tr.ToolCallID, tr.Output)},
					})
				}
			}
			if step.Text != "" {
				traj.Messages = append(traj.Messages, Message{Role: RoleAssistant, Content: []Content{TextContent(step.Text)}})
			}
		}

		if !hasAssistantTurn(traj.Messages) {
			finalText := result.Text
			if finalText == "" {
				finalText = ErrorMarker
			}
			traj.Messages = append(traj.Messages, Message{Role: RoleAssistant, Content: []Content{TextContent(finalText)}})
		}
		return traj
	}
}

func errorTurn() Message {
	return Message{Role: RoleAssistant, Content: []Content{TextContent(ErrorMarker)}}
}

func hasAssistantTurn(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleAssistant {
			return true
		}
	}
	return false
}

func firstUserMessage(sample Sample) (Message, bool) {
	for _, m := range sample.Messages {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return Message{}, false
}
