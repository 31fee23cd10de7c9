package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drone-telemetry/common"
)

func entry(i int) common.LogEntry {
	return common.LogEntry{
		ID:       fmt.Sprintf("id-%d", i),
		Level:    common.LevelInfo,
		Category: "TEST",
		Message:  fmt.Sprintf("message %d", i),
	}
}

func TestHistoryKeepsLastHundred(t *testing.T) {
	h := NewHistory(DefaultHistorySize)

	for i := 0; i < 150; i++ {
		h.Append(entry(i))
		assert.LessOrEqual(t, h.Len(), DefaultHistorySize)
	}

	entries := h.Entries()
	require.Len(t, entries, 100)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("id-%d", i+50), e.ID)
	}

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "id-149", last.ID)
}

func TestHistoryBelowCapacity(t *testing.T) {
	h := NewHistory(5)
	h.Append(entry(1))
	h.Append(entry(2))

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 5, h.Cap())
	assert.Equal(t, []common.LogEntry{entry(1), entry(2)}, h.Entries())
}

func TestHistoryNoDeduplication(t *testing.T) {
	h := NewHistory(3)
	h.Append(entry(1))
	h.Append(entry(1))

	assert.Equal(t, 2, h.Len())
}

func TestHistoryEntriesIsCopy(t *testing.T) {
	h := NewHistory(3)
	h.Append(entry(1))

	entries := h.Entries()
	entries[0].Message = "mutated"

	assert.Equal(t, "message 1", h.Entries()[0].Message)
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(0)

	assert.Equal(t, DefaultHistorySize, h.Cap())
	assert.Empty(t, h.Entries())
	_, ok := h.Last()
	assert.False(t, ok)
}
