package gepa

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTaskModel struct {
	textResult TextGenResult
	textErr    error

	structuredRaw json.RawMessage
	structuredErr error
}

func (f fakeTaskModel) TextGenerate(ctx context.Context, modelID, system string, messages []Message, tools []ToolSpec) (TextGenResult, error) {
	return f.textResult, f.textErr
}

func (f fakeTaskModel) StructuredGenerate(ctx context.Context, modelID, system string, messages []Message, schema Schema) (json.RawMessage, error) {
	return f.structuredRaw, f.structuredErr
}

func userSample(id string) Sample {
	return Sample{ID: id, Messages: []Message{{Role: RoleUser, Content: []Content{TextContent("hello")}}}}
}

func TestGenerateTextMode(t *testing.T) {
	model := fakeTaskModel{textResult: TextGenResult{
		Steps: []TextGenStep{{Text: "final answer"}},
		Text:  "final answer",
	}}

	g := Generator{}
	traj := g.Generate(context.Background(), userSample("s1"), "prompt", "model-x", model, ModeText, nil, Schema{})

	require.Len(t, traj.Messages, 2)
	require.Equal(t, RoleUser, traj.Messages[0].Role)
	require.Equal(t, RoleAssistant, traj.Messages[1].Role)
	require.Equal(t, "final answer", traj.Messages[1].Text())
}

func TestGenerateTextModeWithToolCalls(t *testing.T) {
	model := fakeTaskModel{textResult: TextGenResult{
		Steps: []TextGenStep{
			{
				ToolCalls:   []ToolCallPart{{ID: "call-1", Name: "search", Input: json.RawMessage(`{}`)}},
				ToolResults: []ToolResultPart{{ToolCallID: "call-1", Output: "result"}},
			},
			{Text: "done"},
		},
		Text: "done",
	}}

	g := Generator{}
	traj := g.Generate(context.Background(), userSample("s1"), "prompt", "model-x", model, ModeText, nil, Schema{})

	// user, tool-call, tool-result, assistant text
	require.Len(t, traj.Messages, 4)
	require.Equal(t, RoleAssistant, traj.Messages[1].Role)
	require.Equal(t, ContentToolCall, traj.Messages[1].Content[0].Kind)
	require.Equal(t, RoleTool, traj.Messages[2].Role)
	require.Equal(t, "call-1", traj.Messages[2].Content[0].ToolCallID)
	require.Equal(t, traj.Messages[1].Content[0].ToolCallID, traj.Messages[2].Content[0].ToolCallID)
	require.Equal(t, "done", traj.Messages[3].Text())
}

func TestGenerateTextModeFailureYieldsErrorMarker(t *testing.T) {
	model := fakeTaskModel{textErr: errors.New("provider down")}

	g := Generator{}
	traj := g.Generate(context.Background(), userSample("s1"), "prompt", "model-x", model, ModeText, nil, Schema{})

	require.Len(t, traj.Messages, 2)
	require.Equal(t, ErrorMarker, traj.Messages[1].Text())
}

func TestGenerateStructuredMode(t *testing.T) {
	model := fakeTaskModel{structuredRaw: json.RawMessage(`{"accuracy":0.9}`)}

	g := Generator{}
	traj := g.Generate(context.Background(), userSample("s1"), "prompt", "model-x", model, ModeStructured, nil, Schema{})

	require.Len(t, traj.Messages, 2)
	require.JSONEq(t, `{"accuracy":0.9}`, traj.Messages[1].Text())
}

func TestGenerateStructuredModeFailureYieldsErrorMarker(t *testing.T) {
	model := fakeTaskModel{structuredErr: errors.New("schema violation")}

	g := Generator{}
	traj := g.Generate(context.Background(), userSample("s1"), "prompt", "model-x", model, ModeStructured, nil, Schema{})

	require.Equal(t, ErrorMarker, traj.Messages[len(traj.Messages)-1].Text())
}

func TestGenerateStepCap(t *testing.T) {
	steps := make([]TextGenStep, 10)
	for i := range steps {
		steps[i] = TextGenStep{Text: "step"}
	}
	model := fakeTaskModel{textResult: TextGenResult{Steps: steps, Text: "step"}}

	g := Generator{MaxSteps: 2}
	traj := g.Generate(context.Background(), userSample("s1"), "prompt", "model-x", model, ModeText, nil, Schema{})

	// user + 2 assistant steps (each a text-only turn)
	require.Len(t, traj.Messages, 3)
}

func TestGenerateNoUserMessage(t *testing.T) {
	model := fakeTaskModel{}
	g := Generator{}
	sample := Sample{ID: "s-nouser", Messages: []Message{{Role: RoleSystem, Content: []Content{TextContent("hi")}}}}

	traj := g.Generate(context.Background(), sample, "prompt", "model-x", model, ModeText, nil, Schema{})
	require.Len(t, traj.Messages, 1)
	require.Equal(t, ErrorMarker, traj.Messages[0].Text())
}
