package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	gepa "github.com/scale3labs/gepa-optimizer"
	"github.com/scale3labs/gepa-optimizer/internal/reporting"
)

// ReportCmd renders a previously recorded JSONL event log as a styled
// report, without re-running the optimization.
type ReportCmd struct {
	EventLogFiles []string `arg:"" help:"Path(s) to JSONL event logs produced by the run command." type:"existingfile"`
	Verbose       bool     `short:"v" help:"Show a per-iteration breakdown."`
}

// Run executes the report command.
func (r *ReportCmd) Run(globals *Globals) error {
	var events []gepa.Event
	var result gepa.RunResult

	for _, path := range r.EventLogFiles {
		fileEvents, err := loadEventLog(path)
		if err != nil {
			return fmt.Errorf("failed to load event log %s: %w", path, err)
		}
		events = append(events, fileEvents...)

		for _, e := range fileEvents {
			if e.Kind == gepa.EventComplete {
				result = gepa.RunResult{
					FinalPrompt: e.FinalPrompt,
					BestScore:   e.BestScore,
					Candidates:  e.Candidates,
				}
			}
		}
	}

	return reporting.PrintStyledReport(result, events, r.Verbose)
}

func loadEventLog(path string) ([]gepa.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var events []gepa.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e gepa.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse event line: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
