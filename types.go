// Package gepa implements the prompt-optimization core: a Genetic-Pareto
// (GEPA) variant that iteratively rewrites a system prompt using LLM-as-judge
// scoring and a per-sample Pareto frontier.
package gepa

import (
	"encoding/json"
	"fmt"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ContentKind tags the variant held by a Content value.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentToolCall   ContentKind = "tool-call"
	ContentToolResult ContentKind = "tool-result"
)

// Content is a tagged-variant message part. Exactly one of the fields
// matching Kind is meaningful; the others are zero. This replaces the
// dynamically-typed union of strings and part-sequences found in the
// source implementation with a fixed-shape Go type.
type Content struct {
	Kind ContentKind

	// Text holds the text for ContentText parts.
	Text string

	// ToolCallID identifies a tool invocation. Set for ContentToolCall and
	// ContentToolResult; a ContentToolResult's ToolCallID must match a
	// ContentToolCall appearing earlier in the same message sequence.
	ToolCallID string

	// ToolName is the invoked tool's name, set for ContentToolCall.
	ToolName string

	// ToolInput is the tool call's arguments as raw JSON, set for
	// ContentToolCall.
	ToolInput json.RawMessage

	// ToolOutput is the tool's result rendered as text, set for
	// ContentToolResult.
	ToolOutput string
}

// TextContent builds a ContentText part.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// ToolCallContent builds a ContentToolCall part.
func ToolCallContent(id, name string, input json.RawMessage) Content {
	return Content{Kind: ContentToolCall, ToolCallID: id, ToolName: name, ToolInput: input}
}

// ToolResultContent builds a ContentToolResult part.
func ToolResultContent(id, output string) Content {
	return Content{Kind: ContentToolResult, ToolCallID: id, ToolOutput: output}
}

// Message is one turn in a Sample or Trajectory conversation.
type Message struct {
	Role    Role
	Content []Content
}

// Text concatenates all ContentText parts of the message. Most user/system
// turns carry a single text part; this is a convenience for that case.
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if c.Kind == ContentText {
			out += c.Text
		}
	}
	return out
}

// Rating is the polarity of human feedback attached to a Sample.
type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
)

// Feedback is optional human signal attached to a Sample.
type Feedback struct {
	Rating  Rating
	Comment string
}

// Sample is an immutable recorded conversation used as optimization signal.
// Samples are loaded once at run start and never mutated.
type Sample struct {
	ID       string
	Messages []Message
	Feedback *Feedback
}

// ValidateSample enforces the §3 invariant that a sample must contain at
// least one user message. Samples failing this check must be skipped by the
// caller with a logged warning, not passed into the pipeline.
func ValidateSample(s Sample) error {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return nil
		}
	}
	return fmt.Errorf("sample %q: no message with role user", s.ID)
}

// Dimension describes one scoring axis the Metric Judge evaluates.
type Dimension struct {
	Description string
	Weight      float64
}

// Dimensions maps a dimension name to its configuration.
type Dimensions map[string]Dimension

// DefaultDimensions returns the built-in fallback used when the active
// dimension set would otherwise be empty: a single "accuracy" dimension
// with weight 1.
func DefaultDimensions() Dimensions {
	return Dimensions{"accuracy": {Description: "Overall correctness of the response.", Weight: 1}}
}

// ActiveDimensions computes the intersection of selected dimension names and
// the configured set, falling back to DefaultDimensions when that
// intersection is empty (§3, the degenerate-metric law in §8).
func ActiveDimensions(configured Dimensions, selected []string) Dimensions {
	active := make(Dimensions, len(selected))
	for _, name := range selected {
		if dim, ok := configured[name]; ok {
			active[name] = dim
		}
	}
	if len(active) == 0 {
		return DefaultDimensions()
	}
	return active
}

// MetricScores maps a dimension name to a score in [0, 1]. A dimension
// absent from the map is treated as not evaluated, not as zero.
type MetricScores map[string]float64

// OverallScore computes the weighted mean of the dimensions present in
// scores, weighted by dims. Dimensions configured but absent from scores are
// excluded from both the numerator and denominator (§3, §9). An empty
// intersection yields 0.
func OverallScore(scores MetricScores, dims Dimensions) float64 {
	var weightedSum, weightTotal float64
	for name, weight := range dims {
		score, ok := scores[name]
		if !ok {
			continue
		}
		weightedSum += score * weight.Weight
		weightTotal += weight.Weight
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// clampUnit clamps v into [0, 1].
func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// PromptCandidate is a prompt text plus its batch-aggregated scores and
// provenance within a run.
type PromptCandidate struct {
	ID                    string
	Prompt                string
	Metrics               MetricScores
	OverallScore          float64
	Parents               []string
	DiscoveredAtIteration int
}

// SeedCandidateID is the reserved id of the first candidate in a run.
const SeedCandidateID = "seed"

// CandidateID formats the id of a candidate discovered at the given
// iteration, per §3 ("candidate-<iteration>").
func CandidateID(iteration int) string {
	return fmt.Sprintf("candidate-%d", iteration)
}

// Mode selects how the Trajectory Generator drives the task model.
type Mode string

const (
	ModeText       Mode = "text"
	ModeStructured Mode = "structured"
)
