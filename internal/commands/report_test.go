package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	gepa "github.com/scale3labs/gepa-optimizer"
)

func TestLoadEventLog(t *testing.T) {
	sink := &gepa.SliceSink{}
	sink.Emit(gepa.Event{Kind: gepa.EventStart, Message: "starting"})
	sink.Emit(gepa.Event{Kind: gepa.EventIterationAccepted, Iteration: 1, ImprovedScore: 0.8})
	sink.Emit(gepa.Event{Kind: gepa.EventComplete, FinalPrompt: "final", BestScore: 0.8, Candidates: []gepa.PromptCandidate{
		{ID: gepa.SeedCandidateID, Prompt: "seed"},
		{ID: gepa.CandidateID(1), Prompt: "final", OverallScore: 0.8},
	}})

	path := filepath.Join(t.TempDir(), "events.jsonl")
	jsonlSink, f, err := gepa.OpenJSONLSink(path)
	require.NoError(t, err)
	for _, e := range sink.Events() {
		jsonlSink.Emit(e)
	}
	require.NoError(t, f.Close())

	loaded, err := loadEventLog(path)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.Equal(t, gepa.EventComplete, loaded[2].Kind)
	require.Equal(t, "final", loaded[2].FinalPrompt)
}

func TestLoadEventLogMissingFile(t *testing.T) {
	_, err := loadEventLog(filepath.Join(os.TempDir(), "does-not-exist.jsonl"))
	require.Error(t, err)
}
