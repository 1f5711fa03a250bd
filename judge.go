package gepa

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// JudgeConfig carries the configurable instruction/comparison strings §4.2
// requires in the judge prompt.
type JudgeConfig struct {
	PositiveFeedbackInstruction string
	NegativeFeedbackInstruction string
	ComparisonPositive          string
	ComparisonNegative          string
}

// ApplyDefaults fills unset instruction strings with the defaults implied by
// §4.2's polarity semantics.
func (c *JudgeConfig) ApplyDefaults() *JudgeConfig {
	if c.PositiveFeedbackInstruction == "" {
		c.PositiveFeedbackInstruction = "The sample's assistant turns are a reference answer the human rated positively. Reward the generated trajectory for matching its approach and quality."
	}
	if c.NegativeFeedbackInstruction == "" {
		c.NegativeFeedbackInstruction = "The sample's assistant turns are an anti-example the human rated negatively. Reward the generated trajectory for avoiding its mistakes, not for resembling it."
	}
	if c.ComparisonPositive == "" {
		c.ComparisonPositive = "Score higher the more closely the generated trajectory matches the reference in substance."
	}
	if c.ComparisonNegative == "" {
		c.ComparisonNegative = "Score higher the more the generated trajectory diverges from the anti-example's flaws."
	}
	return c
}

// JudgeRequest bundles everything the §4.2 judge prompt must include.
type JudgeRequest struct {
	Dimensions Dimensions
	Sample     Sample
	Trajectory Trajectory
	Config     JudgeConfig
}

// JudgeResult is the structured output of one scoring call, before
// clamping/defaulting is applied by Judge.Score.
type JudgeResult struct {
	Metrics               MetricScores
	DetailedFeedback      string
	SuggestedImprovements string
}

// ReflectionModel is the host-supplied collaborator that scores trajectories
// and rewrites prompts (§6's object_generate / text_generate contracts, as
// used by the judge and the rewriter respectively).
type ReflectionModel interface {
	Judge(ctx context.Context, modelID string, req JudgeRequest) (JudgeResult, error)
	Rewrite(ctx context.Context, modelID string, metaPrompt string) (string, error)
}

// Judge scores a single (sample, generated trajectory) pair on the active
// dimensions.
type Judge struct{}

// Score invokes model to grade traj against sample's feedback polarity. It
// never returns an error: on any judge failure it returns the §4.2 fallback
// (empty metrics, overall 0, marker feedback), so a single flaky judge call
// never aborts the batch.
func (Judge) Score(ctx context.Context, modelID string, sample Sample, traj Trajectory, model ReflectionModel, dims Dimensions, cfg JudgeConfig) JudgeResult {
	cfg.ApplyDefaults()

	req := JudgeRequest{
		Dimensions: dims,
		Sample:     sample,
		Trajectory: traj,
		Config:     cfg,
	}

	result, err := model.Judge(ctx, modelID, req)
	if err != nil {
		log.Warn().Err(err).Str("sample", sample.ID).Msg("judge failed")
		return JudgeResult{
			Metrics:          MetricScores{},
			DetailedFeedback: fmt.Sprintf("[judge failed: %v]", err),
		}
	}

	clamped := make(MetricScores, len(result.Metrics))
	for name, value := range result.Metrics {
		if _, ok := dims[name]; !ok {
			continue
		}
		clamped[name] = clampUnit(value)
	}
	result.Metrics = clamped
	return result
}

// BuildPrompt renders the §4.2 judge prompt: dimension list, polarity
// framing, and the verbatim message histories of sample and trajectory. A
// concrete ReflectionModel implementation uses this (or its own equivalent
// rendering) as the user content of the structured judging call.
func BuildPrompt(req JudgeRequest) string {
	var b strings.Builder

	fmt.Fprintln(&b, "You are grading an AI assistant's response against a set of weighted dimensions.")
	fmt.Fprintln(&b, "\nDimensions:")
	names := make([]string, 0, len(req.Dimensions))
	for name := range req.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dim := req.Dimensions[name]
		fmt.Fprintf(&b, "- %s (weight %.2f): %s\n", name, dim.Weight, dim.Description)
	}

	rating := RatingPositive
	comment := ""
	if req.Sample.Feedback != nil {
		rating = req.Sample.Feedback.Rating
		comment = req.Sample.Feedback.Comment
	}

	fmt.Fprintln(&b, "\nFeedback polarity:")
	if rating == RatingNegative {
		fmt.Fprintln(&b, req.Config.NegativeFeedbackInstruction)
		fmt.Fprintln(&b, req.Config.ComparisonNegative)
	} else {
		fmt.Fprintln(&b, req.Config.PositiveFeedbackInstruction)
		fmt.Fprintln(&b, req.Config.ComparisonPositive)
	}
	if comment != "" {
		fmt.Fprintf(&b, "Human comment: %s\n", comment)
	}

	fmt.Fprintln(&b, "\nSample conversation (verbatim):")
	renderMessages(&b, req.Sample.Messages)

	fmt.Fprintln(&b, "\nGenerated trajectory (verbatim):")
	renderMessages(&b, req.Trajectory.Messages)

	return b.String()
}

func renderMessages(b *strings.Builder, messages []Message) {
	for _, m := range messages {
		fmt.Fprintf(b, "[%s]\n", m.Role)
		for _, c := range m.Content {
			switch c.Kind {
			case ContentText:
				fmt.Fprintln(b, c.Text)
			case ContentToolCall:
				fmt.Fprintf(b, "tool-call %s(%s) id=%s\n", c.ToolName, string(c.ToolInput), c.ToolCallID)
			case ContentToolResult:
				fmt.Fprintf(b, "tool-result id=%s: %s\n", c.ToolCallID, c.ToolOutput)
			}
		}
	}
}

// JudgeSchema builds the per-run Schema for a structured judging call: one
// numeric field in [0,1] per active dimension, plus the two textual fields
// §4.2 requires.
func JudgeSchema(dims Dimensions) Schema {
	zero, one := 0.0, 1.0
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]SchemaField, 0, len(names)+2)
	for _, name := range names {
		fields = append(fields, SchemaField{
			Name:        name,
			Type:        "number",
			Description: dims[name].Description,
			Minimum:     &zero,
			Maximum:     &one,
			Required:    true,
		})
	}
	fields = append(fields,
		SchemaField{Name: "detailed_feedback", Type: "string", Required: true, Description: "A concrete critique of the generated trajectory."},
		SchemaField{Name: "suggested_improvements", Type: "string", Required: true, Description: "Actionable suggestions for improving the prompt."},
	)

	return Schema{
		Title:       "judge_result",
		Description: "Structured multi-dimension judging output.",
		Fields:      fields,
	}
}
