package anthropicmodel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	gepa "github.com/scale3labs/gepa-optimizer"
)

// toolInputSchema converts a gepa.Schema into the Anthropic tool-use input
// schema shape, going through a plain map and a marshal/unmarshal round trip
// so the SDK's own JSON tags stay authoritative.
func toolInputSchema(schema gepa.Schema) anthropic.ToolInputSchemaParam {
	properties := make(map[string]any, len(schema.Fields))
	var required []string
	for _, f := range schema.Fields {
		prop := map[string]any{"type": jsonSchemaType(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if f.Minimum != nil {
			prop["minimum"] = *f.Minimum
		}
		if f.Maximum != nil {
			prop["maximum"] = *f.Maximum
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	raw := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return anthropic.ToolInputSchemaParam{Properties: properties}
	}

	var inputSchema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(data, &inputSchema); err != nil {
		return anthropic.ToolInputSchemaParam{Properties: properties}
	}
	return inputSchema
}

func jsonSchemaType(t string) string {
	switch t {
	case "number", "string", "boolean", "integer":
		return t
	default:
		return "string"
	}
}

// structuredOutputToolName is the synthetic tool the client forces the model
// to call when StructuredGenerate is asked for a schema-shaped result.
const structuredOutputToolName = "emit_structured_result"

func structuredOutputTool(schema gepa.Schema) anthropic.ToolParam {
	description := schema.Description
	if description == "" {
		description = fmt.Sprintf("Return %s as structured arguments.", schema.Title)
	}
	return anthropic.ToolParam{
		Name:        structuredOutputToolName,
		Description: anthropic.String(description),
		InputSchema: toolInputSchema(schema),
	}
}

// renderSchemaAsPromptHint renders schema as a human-readable field list.
// StructuredGenerate appends it to the system prompt next to the forced tool,
// so a model that answers in prose instead still sees the expected fields.
func renderSchemaAsPromptHint(schema gepa.Schema) string {
	fields := append([]gepa.SchemaField(nil), schema.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a single JSON object named %q with exactly these fields:\n", schema.Title)
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.Type, f.Description)
	}
	return b.String()
}
