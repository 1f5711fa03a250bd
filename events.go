package gepa

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// EventKind identifies the eleven progress event kinds the Optimization Loop
// emits (§4.7).
type EventKind string

const (
	EventStart             EventKind = "start"
	EventSeedEvaluated     EventKind = "seed_evaluated"
	EventIterationStart    EventKind = "iteration_start"
	EventSampleGenerated   EventKind = "sample_generated"
	EventSampleJudged      EventKind = "sample_judged"
	EventIterationAccepted EventKind = "iteration_accepted"
	EventIterationRejected EventKind = "iteration_rejected"
	EventIterationError    EventKind = "iteration_error"
	EventReflectionFailed  EventKind = "reflection_failed"
	EventComplete          EventKind = "complete"
	EventError             EventKind = "error"
)

// Event is one record in the progress stream. Fields not meaningful for a
// given Kind are left at their zero value.
type Event struct {
	Kind      EventKind
	Iteration int
	Message   string

	// Populated on acceptance/rejection events.
	BatchScore      float64
	ImprovedScore   float64
	BestScore       float64
	Metrics         MetricScores
	CandidatePrompt string

	// Populated on complete.
	FinalPrompt    string
	CollectionSize int
	Candidates     []PromptCandidate

	// Reason is populated on error, using a short machine-readable tag
	// (e.g. "no_samples", "missing_schema").
	Reason string
}

// EventSink receives progress events in call order. Implementations must not
// assume asynchronous delivery beyond the order of Emit calls (§4.7, §5).
type EventSink interface {
	Emit(Event)
}

// SliceSink collects events in memory, primarily useful in tests.
type SliceSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *SliceSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns the events collected so far, in emission order.
func (s *SliceSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// ChannelSink forwards events onto a buffered channel for a host's own
// transport (SSE, websocket, etc.) to drain. Wire framing is a host concern
// (spec.md §6); this sink stops at the channel.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size. Emit
// blocks once the buffer is full, so a host must keep draining Events().
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Emit(e Event) {
	c.ch <- e
}

// Events returns the channel events are delivered on. Close is the host's
// responsibility once the producing Run.Execute call returns.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// Close releases the underlying channel. Call only after the producing
// Run.Execute has returned.
func (c *ChannelSink) Close() {
	close(c.ch)
}

// JSONLSink appends one JSON object per line to w, matching the shape a host
// would otherwise hand-roll for persistence (cf. the teacher's
// writeTraces). Emit is safe for concurrent use.
type JSONLSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewJSONLSink wraps w in a buffered JSONL writer.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: bufio.NewWriter(w)}
}

// OpenJSONLSink opens (creating/truncating) path and wraps it in a
// JSONLSink. The caller must call Close when done.
func OpenJSONLSink(path string) (*JSONLSink, *os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return NewJSONLSink(f), f, nil
}

func (j *JSONLSink) Emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = j.w.Write(data)
	_, _ = j.w.WriteString("\n")
	_ = j.w.Flush()
}
