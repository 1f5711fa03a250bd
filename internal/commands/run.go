package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	gepa "github.com/scale3labs/gepa-optimizer"
	"github.com/scale3labs/gepa-optimizer/internal/config"
	"github.com/scale3labs/gepa-optimizer/internal/help"
	"github.com/scale3labs/gepa-optimizer/internal/reporting"
)

// RunCmd runs a prompt optimization from a config file.
type RunCmd struct {
	Config     string `arg:"" help:"Path to a run configuration file (YAML or JSON)." type:"path"`
	Verbose    bool   `short:"v" help:"Show a per-iteration breakdown in the final report."`
	EventLog   string `help:"Override the config's event_log_file, writing a JSONL progress log to this path."`
	NoProgress bool   `help:"Suppress live progress lines while the run is in flight."`
}

// Run executes the optimization run described by the config file.
func (r *RunCmd) Run(globals *Globals) error {
	cfg, err := config.LoadRunConfig(r.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	seedPromptBytes, err := os.ReadFile(cfg.SeedPromptFile)
	if err != nil {
		return fmt.Errorf("failed to read seed prompt: %w", err)
	}

	samples, err := config.LoadSamples(cfg.SamplesFile)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}

	req := cfg.ToOptimizeRequest()
	client := globals.newClient(cfg.MaxTokens, req.CallTimeoutSeconds, cfg.EnablePromptCaching, cfg.CacheTTL)

	sinks := []gepa.EventSink{&liveSink{quiet: globals.Quiet || r.NoProgress}}
	collector := &gepa.SliceSink{}
	sinks = append(sinks, collector)

	eventLogPath := cfg.EventLogFile
	if r.EventLog != "" {
		eventLogPath = r.EventLog
	}
	if eventLogPath != "" {
		jsonlSink, f, err := gepa.OpenJSONLSink(eventLogPath)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		defer func() { _ = f.Close() }()
		sinks = append(sinks, jsonlSink)
	}

	run := gepa.Run{
		Evaluator: gepa.Evaluator{Generator: gepa.Generator{}, Judge: gepa.Judge{}},
		Rewriter:  gepa.Rewriter{},
	}

	result := run.Execute(context.Background(), samples, string(seedPromptBytes), cfg.ResolveDimensions(), req, client, client, fanOutSink(sinks))

	return reporting.PrintStyledReport(result, collector.Events(), r.Verbose)
}

// fanOutSink combines multiple sinks into one, delivering each event to all
// of them in the order given.
func fanOutSink(sinks []gepa.EventSink) gepa.EventSink {
	return &multiSink{sinks: sinks}
}

type multiSink struct {
	mu    sync.Mutex
	sinks []gepa.EventSink
}

func (m *multiSink) Emit(e gepa.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		s.Emit(e)
	}
}

// liveSink prints a terse progress line per event unless quiet is set.
type liveSink struct {
	quiet  bool
	styles help.Styles
	once   sync.Once
}

func (l *liveSink) Emit(e gepa.Event) {
	if l.quiet {
		return
	}
	l.once.Do(func() { l.styles = help.DefaultStyles() })

	switch e.Kind {
	case gepa.EventStart, gepa.EventSeedEvaluated, gepa.EventComplete, gepa.EventError:
		fmt.Println(l.styles.FormatEventLine(string(e.Kind), e.Message))
	case gepa.EventIterationAccepted:
		fmt.Println(l.styles.FormatEventLine(string(e.Kind), fmt.Sprintf("iteration %d accepted (score %.3f)", e.Iteration, e.ImprovedScore)))
	case gepa.EventIterationRejected:
		fmt.Println(l.styles.FormatEventLine(string(e.Kind), fmt.Sprintf("iteration %d rejected (score %.3f)", e.Iteration, e.ImprovedScore)))
	case gepa.EventIterationError, gepa.EventReflectionFailed:
		fmt.Println(l.styles.FormatEventLine(string(e.Kind), fmt.Sprintf("iteration %d: %s", e.Iteration, e.Message)))
	}
}
