package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Empty(t *testing.T) {
	result := Build(nil, DefaultMaxEntries, DefaultMaxSummaryBytes, DefaultMaxTotalBytes)
	assert.Empty(t, result.Entries)
	assert.False(t, result.Truncated)
}

func TestBuild_UnderBudget(t *testing.T) {
	raw := []Entry{{Summary: "a"}, {Summary: "b"}}
	result := Build(raw, DefaultMaxEntries, DefaultMaxSummaryBytes, DefaultMaxTotalBytes)
	require.Len(t, result.Entries, 2)
	assert.False(t, result.Truncated)
	assert.Zero(t, result.Dropped)
}

func TestBuild_EntryCapTruncates(t *testing.T) {
	raw := make([]Entry, 30)
	for i := range raw {
		raw[i] = Entry{Summary: "entry"}
	}
	result := Build(raw, DefaultMaxEntries, DefaultMaxSummaryBytes, DefaultMaxTotalBytes)
	// 24 kept + 1 marker, so the marker itself never pushes the count
	// past DefaultMaxEntries (spec.md §8 invariant 9: count <= 25).
	assert.Len(t, result.Entries, DefaultMaxEntries)
	assert.True(t, result.Truncated)
	assert.Equal(t, TruncationMarkerSummary, result.Entries[len(result.Entries)-1].Summary)
	assert.Equal(t, 6, result.Dropped)
}

func TestBuild_SummaryByteCapTrims(t *testing.T) {
	long := strings.Repeat("x", 1000)
	raw := []Entry{{Summary: long}}
	result := Build(raw, DefaultMaxEntries, DefaultMaxSummaryBytes, DefaultMaxTotalBytes)
	require.Len(t, result.Entries, 2)
	assert.LessOrEqual(t, len(result.Entries[0].Summary), DefaultMaxSummaryBytes)
	assert.True(t, result.Truncated)
}

func TestBuild_TotalByteCapDropsFromTail(t *testing.T) {
	raw := make([]Entry, 20)
	for i := range raw {
		raw[i] = Entry{Summary: strings.Repeat("y", 500)}
	}
	result := Build(raw, DefaultMaxEntries, DefaultMaxSummaryBytes, DefaultMaxTotalBytes)
	assert.True(t, result.Truncated)
	total := 0
	for _, e := range result.Entries {
		total += len(e.Summary)
	}
	// The marker's own bytes must fit inside the cap too, not just the
	// real entries (spec.md §8 invariant: total bytes <= 8192).
	assert.LessOrEqual(t, total, DefaultMaxTotalBytes)
}

func TestBuild_MultibyteSummaryNotSplitMidRune(t *testing.T) {
	raw := []Entry{{Summary: strings.Repeat("é", 400)}} // 2 bytes per rune
	result := Build(raw, DefaultMaxEntries, DefaultMaxSummaryBytes, DefaultMaxTotalBytes)
	require.NotEmpty(t, result.Entries)
	assert.True(t, len(result.Entries[0].Summary) <= DefaultMaxSummaryBytes)
	for _, r := range result.Entries[0].Summary {
		assert.NotEqual(t, rune(0xFFFD), r)
	}
}
