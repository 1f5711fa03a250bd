package gepa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedRun is a TaskModel + ReflectionModel pair whose trajectory is
// simply the prompt text, and whose judge score is a function of that text,
// letting tests script prompt -> score maps deterministically.
type scriptedRun struct {
	scores map[string]float64

	mu      sync.Mutex
	calls   int
	failOn  map[int]bool
	fixedRewrite string
}

func (s *scriptedRun) TextGenerate(ctx context.Context, modelID, system string, messages []Message, tools []ToolSpec) (TextGenResult, error) {
	return TextGenResult{Steps: []TextGenStep{{Text: system}}, Text: system}, nil
}

func (s *scriptedRun) StructuredGenerate(ctx context.Context, modelID, system string, messages []Message, schema Schema) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (s *scriptedRun) Judge(ctx context.Context, modelID string, req JudgeRequest) (JudgeResult, error) {
	text := lastAssistantText(req.Trajectory)
	return JudgeResult{Metrics: MetricScores{"accuracy": s.scores[text]}}, nil
}

func (s *scriptedRun) Rewrite(ctx context.Context, modelID string, metaPrompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if s.failOn[n] {
		return "", errors.New("reflection exploded")
	}
	if s.fixedRewrite != "" {
		return s.fixedRewrite, nil
	}
	return fmt.Sprintf("REWRITE_%d", n), nil
}

func lastAssistantText(traj Trajectory) string {
	for i := len(traj.Messages) - 1; i >= 0; i-- {
		if traj.Messages[i].Role == RoleAssistant {
			return traj.Messages[i].Text()
		}
	}
	return ""
}

func threeSamples() []Sample {
	return []Sample{userSample("s1"), userSample("s2"), userSample("s3")}
}

func newRun() Run {
	return Run{Evaluator: Evaluator{Generator: Generator{}, Judge: Judge{}}, Rewriter: Rewriter{}}
}

func TestRunInvalidRequestMissingModelsRejected(t *testing.T) {
	sink := &SliceSink{}
	result := newRun().Execute(context.Background(), threeSamples(), "seed", Dimensions{"accuracy": {Weight: 1}}, OptimizeRequest{}, &scriptedRun{}, &scriptedRun{}, sink)

	require.Empty(t, result.Candidates)
	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Kind)
	require.Equal(t, "invalid_request", events[0].Reason)
}

func TestRunNoSamples(t *testing.T) {
	sink := &SliceSink{}
	result := newRun().Execute(context.Background(), nil, "seed", Dimensions{"accuracy": {Weight: 1}}, OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r"}, &scriptedRun{}, &scriptedRun{}, sink)

	require.Empty(t, result.Candidates)
	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Kind)
	require.Equal(t, "no_samples", events[0].Reason)
}

func TestRunStructuredModeWithoutSchema(t *testing.T) {
	sink := &SliceSink{}
	req := OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r", UseStructuredOutput: true}
	result := newRun().Execute(context.Background(), threeSamples(), "seed", Dimensions{"accuracy": {Weight: 1}}, req, &scriptedRun{}, &scriptedRun{}, sink)

	require.Empty(t, result.Candidates)
	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Kind)
	require.Equal(t, "missing_schema", events[0].Reason)
}

func TestRunHappyPathAcceptsStrictImprovements(t *testing.T) {
	seedPrompt := "seed prompt text"
	model := &scriptedRun{scores: map[string]float64{
		seedPrompt:  0.4,
		"REWRITE_1": 0.6,
		"REWRITE_2": 0.7,
		"REWRITE_3": 0.8,
	}}

	sink := &SliceSink{}
	req := OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r", BatchSize: 2, NumRollouts: toPtr(3)}
	result := newRun().Execute(context.Background(), threeSamples(), seedPrompt, Dimensions{"accuracy": {Weight: 1}}, req, model, model, sink)

	require.Len(t, result.Candidates, 4)
	require.InDelta(t, 0.8, result.BestScore, 1e-9)
	require.Equal(t, "REWRITE_3", result.FinalPrompt)

	accepted := 0
	for _, e := range sink.Events() {
		if e.Kind == EventIterationAccepted {
			accepted++
		}
	}
	require.Equal(t, 3, accepted)
}

func TestRunReflectionFailureRejectsThatIteration(t *testing.T) {
	seedPrompt := "seed prompt text"
	model := &scriptedRun{
		scores: map[string]float64{
			seedPrompt:  0.4,
			"REWRITE_1": 0.6,
			"REWRITE_3": 0.8,
		},
		failOn: map[int]bool{2: true},
	}

	sink := &SliceSink{}
	req := OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r", BatchSize: 2, NumRollouts: toPtr(3)}
	result := newRun().Execute(context.Background(), threeSamples(), seedPrompt, Dimensions{"accuracy": {Weight: 1}}, req, model, model, sink)

	require.Len(t, result.Candidates, 3)
	require.InDelta(t, 0.8, result.BestScore, 1e-9)
	require.Equal(t, "REWRITE_3", result.FinalPrompt)

	var reflectionFailed, accepted, rejected int
	for _, e := range sink.Events() {
		switch e.Kind {
		case EventReflectionFailed:
			reflectionFailed++
			require.Equal(t, 2, e.Iteration)
		case EventIterationAccepted:
			accepted++
		case EventIterationRejected:
			rejected++
		}
	}
	require.Equal(t, 1, reflectionFailed)
	require.Equal(t, 2, accepted)
	require.Equal(t, 1, rejected)
}

func TestRunSeedPreservationLawZeroRollouts(t *testing.T) {
	seedPrompt := "seed prompt text"
	model := &scriptedRun{scores: map[string]float64{seedPrompt: 0.55}}

	sink := &SliceSink{}
	req := OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r", BatchSize: 2, NumRollouts: toPtr(0)}
	result := newRun().Execute(context.Background(), threeSamples(), seedPrompt, Dimensions{"accuracy": {Weight: 1}}, req, model, model, sink)

	require.Len(t, result.Candidates, 1)
	require.Equal(t, SeedCandidateID, result.Candidates[0].ID)
	require.Equal(t, seedPrompt, result.FinalPrompt)
	require.InDelta(t, 0.55, result.BestScore, 1e-9)
}

func TestRunMonotonicityLawNoStrictImprovementNeverAccepts(t *testing.T) {
	seedPrompt := "seed prompt text"
	// Every prompt the model ever sees (seed or any rewrite) scores the same
	// fixed value, so no iteration is ever a strict improvement.
	model := &fixedScoreModel{score: 0.5}

	sink := &SliceSink{}
	req := OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r", BatchSize: 2, NumRollouts: toPtr(5)}
	result := newRun().Execute(context.Background(), threeSamples(), seedPrompt, Dimensions{"accuracy": {Weight: 1}}, req, model, model, sink)

	require.Len(t, result.Candidates, 1)
	require.Equal(t, seedPrompt, result.FinalPrompt)

	for _, e := range sink.Events() {
		require.NotEqual(t, EventIterationAccepted, e.Kind)
	}
}

// fixedScoreModel always scores 0.5 and returns a distinct rewritten prompt
// each call, so acceptance is exercised purely by score comparison.
type fixedScoreModel struct {
	score float64
	mu    sync.Mutex
	calls int
}

func (f *fixedScoreModel) TextGenerate(ctx context.Context, modelID, system string, messages []Message, tools []ToolSpec) (TextGenResult, error) {
	return TextGenResult{Steps: []TextGenStep{{Text: system}}, Text: system}, nil
}

func (f *fixedScoreModel) StructuredGenerate(ctx context.Context, modelID, system string, messages []Message, schema Schema) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fixedScoreModel) Judge(ctx context.Context, modelID string, req JudgeRequest) (JudgeResult, error) {
	return JudgeResult{Metrics: MetricScores{"accuracy": f.score}}, nil
}

func (f *fixedScoreModel) Rewrite(ctx context.Context, modelID string, metaPrompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return fmt.Sprintf("REWRITE_%d", n), nil
}

func TestRunCancellationLaw(t *testing.T) {
	seedPrompt := "seed prompt text"
	model := &scriptedRun{scores: map[string]float64{
		seedPrompt:  0.4,
		"REWRITE_1": 0.6,
		"REWRITE_2": 0.7,
		"REWRITE_3": 0.8,
	}}

	signal := &cancelSignal{}
	inner := &SliceSink{}
	sink := &cancelOnAcceptSink{inner: inner, signal: signal, triggerIteration: 1}

	req := OptimizeRequest{OptimizationModel: "t", ReflectionModel: "r", BatchSize: 2, NumRollouts: toPtr(3)}
	run := newRun()
	run.Cancelled = signal.isSet
	result := run.Execute(context.Background(), threeSamples(), seedPrompt, Dimensions{"accuracy": {Weight: 1}}, req, model, model, sink)

	// Cancellation tripped right after iteration 1's acceptance, so only
	// iterations 0 (seed) and 1 ever added a candidate.
	require.Len(t, result.Candidates, 2)
	require.Equal(t, "REWRITE_1", result.FinalPrompt)

	foundComplete := false
	for _, e := range inner.Events() {
		if e.Kind == EventComplete {
			foundComplete = true
		}
	}
	require.True(t, foundComplete)
}

type cancelSignal struct {
	mu        sync.Mutex
	triggered bool
}

func (c *cancelSignal) trip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggered = true
}

func (c *cancelSignal) isSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

// cancelOnAcceptSink forwards every event to inner, and trips signal once it
// observes the accepted event for triggerIteration, simulating an external
// cancellation request arriving right after that iteration completes.
type cancelOnAcceptSink struct {
	inner            EventSink
	signal           *cancelSignal
	triggerIteration int
}

func (s *cancelOnAcceptSink) Emit(e Event) {
	s.inner.Emit(e)
	if e.Kind == EventIterationAccepted && e.Iteration == s.triggerIteration {
		s.signal.trip()
	}
}
