package gepa

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedReflectionModel returns a fixed score per sample id, failing for
// ids listed in failFor.
type scriptedReflectionModel struct {
	scoreFor map[string]float64
	failFor  map[string]bool
}

func (s scriptedReflectionModel) Judge(ctx context.Context, modelID string, req JudgeRequest) (JudgeResult, error) {
	id := req.Trajectory.ID
	if s.failFor[id] {
		return JudgeResult{}, errors.New("judge exploded")
	}
	return JudgeResult{Metrics: MetricScores{"accuracy": s.scoreFor[id]}}, nil
}

func (s scriptedReflectionModel) Rewrite(ctx context.Context, modelID string, metaPrompt string) (string, error) {
	return "", errors.New("unused")
}

func TestEvaluatorAggregatesOverBatch(t *testing.T) {
	samples := []Sample{userSample("a"), userSample("b"), userSample("c")}
	task := fakeTaskModel{textResult: TextGenResult{Text: "ok", Steps: []TextGenStep{{Text: "ok"}}}}
	reflection := scriptedReflectionModel{scoreFor: map[string]float64{"a": 0.2, "b": 0.4, "c": 0.6}}
	dims := Dimensions{"accuracy": {Weight: 1}}

	eval := Evaluator{Generator: Generator{}, Judge: Judge{}}
	result := eval.Evaluate(context.Background(), samples, "prompt", "task-model", task, "reflection-model", reflection, dims, ModeText, nil, JudgeConfig{}, nil)

	require.InDelta(t, 0.4, result.OverallScore, 1e-9)
	require.InDelta(t, 0.4, result.Metrics["accuracy"], 1e-9)
	require.Equal(t, []float64{0.2, 0.4, 0.6}, result.PerSample)
	require.Len(t, result.Feedbacks, 3)
	require.Len(t, result.Suggestions, 3)
}

func TestEvaluatorJudgeFailureMidBatchStillAggregates(t *testing.T) {
	samples := []Sample{userSample("a"), userSample("b"), userSample("c")}
	task := fakeTaskModel{textResult: TextGenResult{Text: "ok", Steps: []TextGenStep{{Text: "ok"}}}}
	reflection := scriptedReflectionModel{
		scoreFor: map[string]float64{"a": 0.8, "c": 0.4},
		failFor:  map[string]bool{"b": true},
	}
	dims := Dimensions{"accuracy": {Weight: 1}}

	eval := Evaluator{Generator: Generator{}, Judge: Judge{}}
	result := eval.Evaluate(context.Background(), samples, "prompt", "task-model", task, "reflection-model", reflection, dims, ModeText, nil, JudgeConfig{}, nil)

	// b contributes overall 0 (judge failure), included in the mean per
	// the design's judge-failure-vs-invalid-sample distinction.
	require.InDelta(t, (0.8+0+0.4)/3, result.OverallScore, 1e-9)
	require.Contains(t, result.Feedbacks[1], "judge failed")
}

func TestEvaluatorSkipsInvalidSamples(t *testing.T) {
	invalid := Sample{ID: "bad", Messages: []Message{{Role: RoleAssistant, Content: []Content{TextContent("x")}}}}
	samples := []Sample{userSample("a"), invalid}
	task := fakeTaskModel{textResult: TextGenResult{Text: "ok", Steps: []TextGenStep{{Text: "ok"}}}}
	reflection := scriptedReflectionModel{scoreFor: map[string]float64{"a": 0.5}}
	dims := Dimensions{"accuracy": {Weight: 1}}

	eval := Evaluator{Generator: Generator{}, Judge: Judge{}}
	result := eval.Evaluate(context.Background(), samples, "prompt", "task-model", task, "reflection-model", reflection, dims, ModeText, nil, JudgeConfig{}, nil)

	// only the valid sample contributes; invalid sample's slot stays zero/empty.
	require.InDelta(t, 0.5, result.OverallScore, 1e-9)
}

func TestEvaluatorEmptyBatch(t *testing.T) {
	eval := Evaluator{}
	result := eval.Evaluate(context.Background(), nil, "prompt", "task-model", fakeTaskModel{}, "reflection-model", scriptedReflectionModel{}, Dimensions{"accuracy": {Weight: 1}}, ModeText, nil, JudgeConfig{}, nil)

	require.Equal(t, 0.0, result.OverallScore)
	require.Empty(t, result.Metrics)
}

func TestEvaluatorRespectsMaxParallel(t *testing.T) {
	// Not a strict concurrency assertion (flaky under race detectors), just
	// confirms a MaxParallel of 1 still yields correct aggregation.
	samples := []Sample{userSample("a"), userSample("b")}
	task := fakeTaskModel{textResult: TextGenResult{Text: "ok", Steps: []TextGenStep{{Text: "ok"}}}}
	reflection := scriptedReflectionModel{scoreFor: map[string]float64{"a": 1.0, "b": 0.0}}
	dims := Dimensions{"accuracy": {Weight: 1}}

	eval := Evaluator{MaxParallel: 1}
	result := eval.Evaluate(context.Background(), samples, "prompt", "task-model", task, "reflection-model", reflection, dims, ModeText, nil, JudgeConfig{}, nil)

	require.InDelta(t, 0.5, result.OverallScore, 1e-9)
}
