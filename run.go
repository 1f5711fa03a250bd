package gepa

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var optimizeRequestValidator = validator.New()

// OptimizeRequest carries the configuration knobs enumerated in spec.md §6.
type OptimizeRequest struct {
	OptimizationModel string `validate:"required"`
	ReflectionModel   string `validate:"required"`
	BatchSize         int    `validate:"gte=1"`
	// NumRollouts is a pointer so an explicit 0 (§8 seed-preservation law:
	// zero rollouts, final candidate equals the seed) is distinguishable
	// from "unset, use the §6 default of 10".
	NumRollouts         *int `validate:"omitempty,gte=0"`
	SelectedMetrics     []string
	UseStructuredOutput bool

	MaxParallel        int
	MaxSteps           int
	Selector           SelectorKind
	CallTimeoutSeconds int

	JudgeConfig    JudgeConfig
	Tools          []ToolSpec
	ResponseSchema *Schema
}

// SelectorKind names a pluggable parent-selection strategy (§4.5, §6).
type SelectorKind string

const (
	SelectorCurrentBest SelectorKind = "current_best"
	SelectorPareto      SelectorKind = "pareto"
)

// ApplyDefaults fills zero-valued optional knobs with the defaults spec.md
// §6 enumerates.
func (r *OptimizeRequest) ApplyDefaults() *OptimizeRequest {
	if r.BatchSize <= 0 {
		r.BatchSize = 3
	}
	if r.NumRollouts == nil {
		r.NumRollouts = toPtr(10)
	}
	if r.MaxParallel <= 0 {
		r.MaxParallel = 4
	}
	if r.MaxSteps <= 0 {
		r.MaxSteps = 5
	}
	if r.Selector == "" {
		r.Selector = SelectorCurrentBest
	}
	if r.CallTimeoutSeconds <= 0 {
		r.CallTimeoutSeconds = 60
	}
	return r
}

func (r OptimizeRequest) selector() Selector {
	if r.Selector == SelectorPareto {
		return ParetoSelector{}
	}
	return CurrentBestSelector{}
}

func (r OptimizeRequest) mode() Mode {
	if r.UseStructuredOutput {
		return ModeStructured
	}
	return ModeText
}

// numRollouts returns the configured iteration budget. Call only after
// ApplyDefaults, which guarantees NumRollouts is non-nil.
func (r OptimizeRequest) numRollouts() int {
	if r.NumRollouts == nil {
		return 0
	}
	return *r.NumRollouts
}

// validate checks the struct tags above against a fully-defaulted request,
// so a programmatically-constructed OptimizeRequest gets the same
// fatal-configuration-error treatment (§7) as a YAML/JSON run config does.
func (r OptimizeRequest) validate() error {
	return optimizeRequestValidator.Struct(r)
}

func toPtr[T any](v T) *T {
	return &v
}

// RunResult is what Run.Execute returns on completion (§4.6 step 4).
type RunResult struct {
	FinalPrompt string
	BestScore   float64
	Candidates  []PromptCandidate
}

// Run orchestrates the optimization algorithm described in §4.6: seed
// evaluation, iterative rewrite-and-accept, and event emission. A Run is
// single-use; call Execute once per optimization.
type Run struct {
	Evaluator Evaluator
	Rewriter  Rewriter

	// Cancelled, if set, is polled before each iteration (§5). It is in
	// addition to ctx cancellation, which the evaluator also honors
	// between generation and judging within a sample.
	Cancelled func() bool
}

// Execute runs the full optimization loop and returns the best candidate
// found, having emitted progress events to sink throughout.
func (run Run) Execute(ctx context.Context, samples []Sample, seedPrompt string, dims Dimensions, req OptimizeRequest, task TaskModel, reflection ReflectionModel, sink EventSink) RunResult {
	req.ApplyDefaults()

	if err := req.validate(); err != nil {
		sink.Emit(Event{Kind: EventError, Reason: "invalid_request", Message: err.Error()})
		return RunResult{}
	}

	if len(samples) == 0 {
		sink.Emit(Event{Kind: EventError, Reason: "no_samples", Message: "no samples provided"})
		return RunResult{}
	}
	if req.UseStructuredOutput && req.ResponseSchema == nil {
		sink.Emit(Event{Kind: EventError, Reason: "missing_schema", Message: "structured output requested without a response schema"})
		return RunResult{}
	}

	active := ActiveDimensions(dims, req.SelectedMetrics)
	activeNames := dimensionNames(active)

	valid := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if err := ValidateSample(s); err != nil {
			log.Warn().Err(err).Msg("skipping invalid sample")
			continue
		}
		valid = append(valid, s)
	}
	if len(valid) == 0 {
		sink.Emit(Event{Kind: EventError, Reason: "no_samples", Message: "no samples with a user message"})
		return RunResult{}
	}

	sink.Emit(Event{Kind: EventStart, Message: fmt.Sprintf("starting optimization with %d sample(s)", len(valid))})

	frontier := NewFrontier(req.BatchSize)
	var candidates []PromptCandidate

	// Seed evaluation.
	seedBatch := drawBatch(valid, req.BatchSize)
	seedResult := run.evaluateBatch(ctx, seedBatch, seedPrompt, req, task, reflection, active, sink, 0)

	seed := PromptCandidate{
		ID:                    SeedCandidateID,
		Prompt:                seedPrompt,
		Metrics:               seedResult.Metrics,
		OverallScore:          seedResult.OverallScore,
		DiscoveredAtIteration: 0,
	}
	candidates = append(candidates, seed)
	frontier.Observe(seed.ID, seedResult.PerSample)
	frontier.UpdateFrontier(seed, activeNames)

	bestOverall := seed.OverallScore
	bestCandidateID := seed.ID

	sink.Emit(Event{
		Kind:            EventSeedEvaluated,
		BatchScore:      seedResult.OverallScore,
		BestScore:       bestOverall,
		Metrics:         seedResult.Metrics,
		CandidatePrompt: seedPrompt,
		Message:         "seed prompt evaluated",
	})

	selector := req.selector()

	for iteration := 1; iteration <= req.numRollouts(); iteration++ {
		if run.cancelled(ctx) {
			break
		}

		sink.Emit(Event{Kind: EventIterationStart, Iteration: iteration, Message: "starting iteration"})

		stop := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					sink.Emit(Event{Kind: EventIterationError, Iteration: iteration, Message: fmt.Sprintf("recovered panic: %v", r)})
				}
			}()

			parentID := selector.Select(candidates, frontier)
			parent := findCandidate(candidates, parentID)

			batch := drawBatch(valid, req.BatchSize)

			parentEval := run.evaluateBatch(ctx, batch, parent.Prompt, req, task, reflection, active, sink, iteration)
			if run.cancelled(ctx) {
				stop = true
				return
			}

			improvedPrompt, err := run.Rewriter.Rewrite(ctx, req.ReflectionModel, parent.Prompt, parentEval.Feedbacks, parentEval.Suggestions, reflection)
			if err != nil {
				sink.Emit(Event{Kind: EventReflectionFailed, Iteration: iteration, Message: err.Error()})
			}

			improvedEval := run.evaluateBatch(ctx, batch, improvedPrompt, req, task, reflection, active, sink, iteration)
			if run.cancelled(ctx) {
				stop = true
				return
			}

			if improvedEval.OverallScore > parentEval.OverallScore {
				candidate := PromptCandidate{
					ID:                    CandidateID(iteration),
					Prompt:                improvedPrompt,
					Metrics:               improvedEval.Metrics,
					OverallScore:          improvedEval.OverallScore,
					Parents:               []string{parent.ID},
					DiscoveredAtIteration: iteration,
				}
				candidates = append(candidates, candidate)
				frontier.Observe(candidate.ID, improvedEval.PerSample)
				frontier.UpdateFrontier(candidate, activeNames)

				if improvedEval.OverallScore > bestOverall {
					bestOverall = improvedEval.OverallScore
					bestCandidateID = candidate.ID
				}

				sink.Emit(Event{
					Kind:            EventIterationAccepted,
					Iteration:       iteration,
					BatchScore:      parentEval.OverallScore,
					ImprovedScore:   improvedEval.OverallScore,
					BestScore:       bestOverall,
					Metrics:         improvedEval.Metrics,
					CandidatePrompt: improvedPrompt,
					Message:         "candidate accepted",
				})
			} else {
				sink.Emit(Event{
					Kind:          EventIterationRejected,
					Iteration:     iteration,
					BatchScore:    parentEval.OverallScore,
					ImprovedScore: improvedEval.OverallScore,
					BestScore:     bestOverall,
					Message:       "candidate rejected: no strict improvement",
				})
			}
		}()

		if stop {
			break
		}
	}

	best := findCandidate(candidates, bestCandidateID)

	sink.Emit(Event{
		Kind:           EventComplete,
		FinalPrompt:    best.Prompt,
		BestScore:      bestOverall,
		CollectionSize: len(candidates),
		Candidates:     candidates,
		Message:        "optimization complete",
	})

	return RunResult{
		FinalPrompt: best.Prompt,
		BestScore:   bestOverall,
		Candidates:  candidates,
	}
}

func (run Run) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return run.Cancelled != nil && run.Cancelled()
}

func (run Run) evaluateBatch(ctx context.Context, batch []Sample, prompt string, req OptimizeRequest, task TaskModel, reflection ReflectionModel, dims Dimensions, sink EventSink, iteration int) BatchResult {
	generator := run.Evaluator.Generator
	generator.MaxSteps = req.MaxSteps
	evaluator := run.Evaluator
	evaluator.Generator = generator
	evaluator.MaxParallel = req.MaxParallel
	if req.ResponseSchema != nil {
		evaluator.ResponseSchema = *req.ResponseSchema
	}

	result := evaluator.Evaluate(ctx, batch, prompt, req.OptimizationModel, task, req.ReflectionModel, reflection, dims, req.mode(), req.Tools, req.JudgeConfig, func() bool { return run.cancelled(ctx) })

	for i, sample := range batch {
		if i >= len(result.PerSample) {
			break
		}
		sink.Emit(Event{Kind: EventSampleGenerated, Iteration: iteration, Message: sample.ID})
		sink.Emit(Event{Kind: EventSampleJudged, Iteration: iteration, Message: sample.ID, Metrics: result.Metrics})
	}

	return result
}

func findCandidate(candidates []PromptCandidate, id string) PromptCandidate {
	for _, c := range candidates {
		if c.ID == id {
			return c
		}
	}
	return PromptCandidate{}
}

func dimensionNames(dims Dimensions) []string {
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	return names
}

// drawBatch samples n items from pool uniformly with replacement (§4.6,
// §9's resolved open question).
func drawBatch(pool []Sample, n int) []Sample {
	batch := make([]Sample, n)
	for i := 0; i < n; i++ {
		batch[i] = pool[rand.IntN(len(pool))]
	}
	return batch
}
