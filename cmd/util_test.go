package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/lexext-cli/pkg/queues"
)

func TestFormatDurationMs(t *testing.T) {
	assert.Equal(t, "250ms", formatDurationMs(250))
	assert.Equal(t, "1.5s", formatDurationMs(1500))
	assert.Equal(t, "2.5m", formatDurationMs(150000))
}

func TestParsePriority(t *testing.T) {
	p, err := parsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, queues.PriorityHigh, p)

	p, err = parsePriority("")
	require.NoError(t, err)
	assert.Equal(t, queues.PriorityNormal, p)

	p, err = parsePriority(" Low ")
	require.NoError(t, err)
	assert.Equal(t, queues.PriorityLow, p)

	_, err = parsePriority("urgent")
	assert.Error(t, err)
}

func TestPriorityName(t *testing.T) {
	assert.Equal(t, "low", priorityName(queues.PriorityLow))
	assert.Equal(t, "normal", priorityName(queues.PriorityNormal))
	assert.Equal(t, "high", priorityName(queues.PriorityHigh))
}

func TestDocumentIDFromPath(t *testing.T) {
	id := documentIDFromPath("some/relative/brief.txt")
	assert.True(t, filepath.IsAbs(id))
	assert.Equal(t, "brief.txt", filepath.Base(id))
}
