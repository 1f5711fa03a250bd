package gepa

import "math/rand/v2"

// Frontier maintains per-sample best tracking and the non-dominated
// candidate set for an N-sample validation set (§3, §4.5).
type Frontier struct {
	n              int
	best           []float64
	bestCandidates [][]string

	members []PromptCandidate
}

// NewFrontier creates a Frontier sized for n validation samples.
func NewFrontier(n int) *Frontier {
	return &Frontier{
		n:              n,
		best:           make([]float64, n),
		bestCandidates: make([][]string, n),
	}
}

// Observe records candidateID's per-sample overall scores against the
// running best[i]. best[i] only ever increases; ties accumulate into
// bestCandidates[i] rather than replacing it.
func (f *Frontier) Observe(candidateID string, perSampleOverall []float64) {
	for i, score := range perSampleOverall {
		if i >= f.n {
			break
		}
		switch {
		case score > f.best[i]:
			f.best[i] = score
			f.bestCandidates[i] = []string{candidateID}
		case score == f.best[i]:
			f.bestCandidates[i] = append(f.bestCandidates[i], candidateID)
		}
	}
}

// Best returns the current best[i] values, for inspection/testing.
func (f *Frontier) Best() []float64 {
	out := make([]float64, len(f.best))
	copy(out, f.best)
	return out
}

// BestCandidates returns the ids tied at best[i].
func (f *Frontier) BestCandidates(i int) []string {
	return append([]string(nil), f.bestCandidates[i]...)
}

// Dominates reports whether a dominates b over dims: a.metrics[d] >=
// b.metrics[d] for every d in dims, with strict inequality for at least one.
func Dominates(a, b MetricScores, dims []string) bool {
	strictlyBetter := false
	for _, d := range dims {
		av, bv := a[d], b[d]
		if av < bv {
			return false
		}
		if av > bv {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// UpdateFrontier removes any existing member dominated by candidate, and
// includes candidate iff no existing member dominates it. After this call,
// no two frontier members dominate each other under activeDims.
func (f *Frontier) UpdateFrontier(candidate PromptCandidate, activeDims []string) {
	survivors := make([]PromptCandidate, 0, len(f.members))
	dominated := false

	for _, existing := range f.members {
		switch {
		case Dominates(candidate.Metrics, existing.Metrics, activeDims):
			// existing is dropped.
		case Dominates(existing.Metrics, candidate.Metrics, activeDims):
			dominated = true
			survivors = append(survivors, existing)
		default:
			survivors = append(survivors, existing)
		}
	}

	if !dominated {
		survivors = append(survivors, candidate)
	}
	f.members = survivors
}

// Members returns the current frontier membership.
func (f *Frontier) Members() []PromptCandidate {
	return append([]PromptCandidate(nil), f.members...)
}

// Selector picks the next parent candidate to iterate from.
type Selector interface {
	Select(candidates []PromptCandidate, frontier *Frontier) string
}

// CurrentBestSelector returns the candidate with the highest OverallScore
// among all candidates ever added. This is the §4.5/§6 default.
type CurrentBestSelector struct{}

func (CurrentBestSelector) Select(candidates []PromptCandidate, _ *Frontier) string {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.OverallScore > best.OverallScore {
			best = c
		}
	}
	return best.ID
}

// ParetoSelector uniformly samples from the union of all bestCandidates[i]
// tracked by the frontier.
type ParetoSelector struct {
	Rand *rand.Rand
}

func (s ParetoSelector) Select(candidates []PromptCandidate, frontier *Frontier) string {
	seen := make(map[string]struct{})
	var pool []string
	for i := 0; i < frontier.n; i++ {
		for _, id := range frontier.bestCandidates[i] {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				pool = append(pool, id)
			}
		}
	}
	if len(pool) == 0 {
		return CurrentBestSelector{}.Select(candidates, frontier)
	}
	if s.Rand == nil {
		return pool[rand.IntN(len(pool))]
	}
	return pool[s.Rand.IntN(len(pool))]
}
