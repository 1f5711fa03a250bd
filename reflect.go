package gepa

import (
	"context"
	"fmt"
	"strings"
)

// feedbackDelimiter is the literal separator §4.4 requires between joined
// feedback/suggestion strings.
const feedbackDelimiter = "\n\n---\n\n"

// Rewriter synthesizes an improved prompt from a parent prompt and the
// feedback/suggestion bundles a Batch Evaluator produced for it.
type Rewriter struct{}

// Rewrite builds the §4.4 meta-prompt and asks model to rewrite current. On
// any model error it returns current unchanged along with the error, so the
// caller can emit reflection_failed and let acceptance testing naturally
// reject the unchanged candidate.
func (Rewriter) Rewrite(ctx context.Context, modelID string, current string, feedbacks, suggestions []string, model ReflectionModel) (string, error) {
	metaPrompt := buildMetaPrompt(current, feedbacks, suggestions)

	rewritten, err := model.Rewrite(ctx, modelID, metaPrompt)
	if err != nil {
		return current, fmt.Errorf("reflection rewrite failed: %w", err)
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return current, fmt.Errorf("reflection rewrite returned empty prompt")
	}
	return rewritten, nil
}

func buildMetaPrompt(current string, feedbacks, suggestions []string) string {
	joinedFeedback := strings.Join(nonEmpty(feedbacks), feedbackDelimiter)
	joinedSuggestions := strings.Join(nonEmpty(suggestions), feedbackDelimiter)

	var b strings.Builder
	fmt.Fprintln(&b, "You are improving a system prompt used to drive an LLM agent.")
	fmt.Fprintln(&b, "Address the most critical issues raised across the samples below.")
	fmt.Fprintln(&b, "Preserve what already works well in the current prompt; do not rewrite from scratch.")
	fmt.Fprintln(&b, "Return only the improved prompt text. No preamble, no explanation, no markdown fences.")

	fmt.Fprintln(&b, "\nCurrent prompt:")
	fmt.Fprintln(&b, current)

	fmt.Fprintln(&b, "\nPer-sample feedback:")
	fmt.Fprintln(&b, joinedFeedback)

	fmt.Fprintln(&b, "\nPer-sample suggested improvements:")
	fmt.Fprintln(&b, joinedSuggestions)

	return b.String()
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}
