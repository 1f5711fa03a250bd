package gepa

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// BatchResult is the aggregated outcome of evaluating a prompt against a
// batch of samples (§4.3).
type BatchResult struct {
	Metrics      MetricScores
	OverallScore float64
	Feedbacks    []string
	Suggestions  []string

	// PerSample holds each sample's overall score in batch order, used by
	// the Pareto Frontier's Observe step.
	PerSample []float64
}

// Evaluator evaluates a prompt against a multi-sample batch and aggregates
// per-dimension and overall scores, bounding intra-batch concurrency.
type Evaluator struct {
	// MaxParallel bounds concurrent (generate, judge) pairs. Zero means the
	// §6 default of 4.
	MaxParallel int

	Generator Generator
	Judge     Judge

	// ResponseSchema is the external JSON schema structured-mode generation
	// requires (§4.1). Unused in text mode.
	ResponseSchema Schema
}

func (e Evaluator) maxParallel() int {
	if e.MaxParallel <= 0 {
		return 4
	}
	return e.MaxParallel
}

// sampleResult is the outcome of evaluating one sample, assembled
// concurrently but reduced back into batch order.
type sampleResult struct {
	metrics      MetricScores
	overallScore float64
	feedback     string
	suggestion   string
}

// Evaluate runs Generate then Judge for every sample in batch, bounded by
// MaxParallel, and aggregates the results. cancel, if non-nil, is polled
// between generation and judging for each sample per the §5 cancellation
// contract; a cancelled sample contributes no result.
func (e Evaluator) Evaluate(ctx context.Context, batch []Sample, prompt string, taskModelID string, task TaskModel, reflectionModelID string, reflection ReflectionModel, dims Dimensions, mode Mode, tools []ToolSpec, judgeCfg JudgeConfig, cancelled func() bool) BatchResult {
	if len(batch) == 0 {
		return BatchResult{Metrics: MetricScores{}, OverallScore: 0}
	}

	results := make([]*sampleResult, len(batch))

	sem := make(chan struct{}, e.maxParallel())
	var wg sync.WaitGroup

	for i, sample := range batch {
		if err := ValidateSample(sample); err != nil {
			log.Warn().Err(err).Msg("skipping invalid sample")
			continue
		}

		wg.Add(1)
		go func(idx int, s Sample) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			traj := e.Generator.Generate(ctx, s, prompt, taskModelID, task, mode, tools, e.ResponseSchema)

			if cancelled != nil && cancelled() {
				return
			}

			judged := e.Judge.Score(ctx, reflectionModelID, s, traj, reflection, dims, judgeCfg)
			overall := OverallScore(judged.Metrics, dims)

			results[idx] = &sampleResult{
				metrics:      judged.Metrics,
				overallScore: overall,
				feedback:     judged.DetailedFeedback,
				suggestion:   judged.SuggestedImprovements,
			}
		}(i, sample)
	}

	wg.Wait()

	return aggregate(results, dims)
}

func aggregate(results []*sampleResult, dims Dimensions) BatchResult {
	feedbacks := make([]string, len(results))
	suggestions := make([]string, len(results))
	perSample := make([]float64, len(results))

	sums := make(map[string]float64, len(dims))
	counts := make(map[string]int, len(dims))
	var overallSum float64
	var overallCount int

	for i, r := range results {
		if r == nil {
			continue
		}
		feedbacks[i] = r.feedback
		suggestions[i] = r.suggestion
		perSample[i] = r.overallScore

		for name, value := range r.metrics {
			sums[name] += value
			counts[name]++
		}
		overallSum += r.overallScore
		overallCount++
	}

	metrics := make(MetricScores, len(sums))
	for name, sum := range sums {
		if counts[name] > 0 {
			metrics[name] = sum / float64(counts[name])
		}
	}

	var overall float64
	if overallCount > 0 {
		overall = overallSum / float64(overallCount)
	}

	return BatchResult{
		Metrics:      metrics,
		OverallScore: overall,
		Feedbacks:    feedbacks,
		Suggestions:  suggestions,
		PerSample:    perSample,
	}
}
