package gepa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSample(t *testing.T) {
	ok := Sample{ID: "s1", Messages: []Message{{Role: RoleUser, Content: []Content{TextContent("hi")}}}}
	require.NoError(t, ValidateSample(ok))

	noUser := Sample{ID: "s2", Messages: []Message{{Role: RoleAssistant, Content: []Content{TextContent("hi")}}}}
	require.Error(t, ValidateSample(noUser))

	empty := Sample{ID: "s3"}
	require.Error(t, ValidateSample(empty))
}

func TestActiveDimensionsFallsBackToAccuracy(t *testing.T) {
	dims := ActiveDimensions(nil, nil)
	require.Equal(t, DefaultDimensions(), dims)

	dims = ActiveDimensions(Dimensions{"tone": {Weight: 1}}, nil)
	require.Equal(t, DefaultDimensions(), dims)
}

func TestActiveDimensionsIntersection(t *testing.T) {
	configured := Dimensions{
		"tone":     {Description: "tone", Weight: 1},
		"accuracy": {Description: "accuracy", Weight: 2},
	}
	active := ActiveDimensions(configured, []string{"tone", "nonexistent"})
	require.Equal(t, Dimensions{"tone": {Description: "tone", Weight: 1}}, active)
}

func TestActiveDimensionsEmptyIntersectionFallsBack(t *testing.T) {
	configured := Dimensions{"tone": {Weight: 1}}
	active := ActiveDimensions(configured, []string{"nonexistent"})
	require.Equal(t, DefaultDimensions(), active)
}

func TestOverallScoreWeightedMean(t *testing.T) {
	dims := Dimensions{
		"tone":     {Weight: 1},
		"accuracy": {Weight: 3},
	}
	scores := MetricScores{"tone": 1.0, "accuracy": 0.5}
	// (1*1 + 0.5*3) / 4 = 2.5/4 = 0.625
	require.InDelta(t, 0.625, OverallScore(scores, dims), 1e-9)
}

func TestOverallScoreMissingDimensionExcluded(t *testing.T) {
	dims := Dimensions{
		"tone":     {Weight: 1},
		"accuracy": {Weight: 1},
	}
	scores := MetricScores{"tone": 0.8}
	require.InDelta(t, 0.8, OverallScore(scores, dims), 1e-9)
}

func TestOverallScoreEmptyYieldsZero(t *testing.T) {
	require.Equal(t, 0.0, OverallScore(MetricScores{}, Dimensions{}))
}

func TestClampUnit(t *testing.T) {
	require.Equal(t, 0.0, clampUnit(-1))
	require.Equal(t, 1.0, clampUnit(2))
	require.Equal(t, 0.5, clampUnit(0.5))
}

func TestCandidateID(t *testing.T) {
	require.Equal(t, "candidate-1", CandidateID(1))
	require.Equal(t, "candidate-42", CandidateID(42))
}

func TestMessageText(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: []Content{TextContent("a"), ToolCallContent("1", "t", nil), TextContent("b")}}
	require.Equal(t, "ab", m.Text())
}
