package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/lexext-cli/pkg/extraction"
	"github.com/casemark/lexext-cli/pkg/routing"
)

func TestNewRun(t *testing.T) {
	run := NewRun("run-1", "doc-1", "THREE_WAVE", "v2", "gpt-4o-mini")

	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, "doc-1", run.DocumentID)
	assert.Equal(t, "THREE_WAVE", run.Strategy)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.CompletedAt)
}

func TestRunComplete(t *testing.T) {
	run := NewRun("run-1", "doc-1", "THREE_WAVE", "v2", "gpt-4o-mini")

	result := &extraction.ExtractionResult{
		DocumentID:    "doc-1",
		Strategy:      routing.StrategyThreeWave,
		WavesExecuted: 3,
		TokensUsed:    4200,
		Entities:      []*extraction.Entity{{}, {}},
		Citations:     []*extraction.Citation{{}},
		Statistics: extraction.Statistics{
			Waves:             []extraction.WaveStats{{WaveNumber: 1}, {WaveNumber: 2}, {WaveNumber: 3}},
			DurationMs:        1800,
			DuplicatesRemoved: 4,
			SpansDropped:      1,
		},
	}
	run.Complete(result)

	assert.Equal(t, RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, 1800, run.DurationMs)
	assert.Equal(t, 4200, run.TokensUsed)
	assert.Equal(t, 3, run.WavesExecuted)
	assert.Equal(t, 2, run.EntityCount)
	assert.Equal(t, 1, run.CitationCount)
	assert.Equal(t, 4, run.DuplicatesRemoved)
	assert.Equal(t, 1, run.SpansDropped)
	assert.Len(t, run.WaveStats, 3)
}

func TestRunCompletePartial(t *testing.T) {
	run := NewRun("run-1", "doc-1", "FOUR_WAVE", "v2", "gpt-4o-mini")

	result := &extraction.ExtractionResult{
		Statistics: extraction.Statistics{
			Partial:     true,
			TimedOut:    true,
			WavesFailed: 2,
		},
	}
	run.Complete(result)

	assert.Equal(t, RunStatusPartial, run.Status)
	assert.True(t, run.TimedOut)
	assert.Equal(t, 2, run.WavesFailed)
}

func TestRunFail(t *testing.T) {
	run := NewRun("run-1", "doc-1", "SINGLE_PASS", "v2", "gpt-4o-mini")
	run.Fail(errors.New("llm unreachable"))

	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, "llm unreachable", run.ErrorMessage)
	assert.True(t, !run.CompletedAt.Before(run.StartedAt))
}
