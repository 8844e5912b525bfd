package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restbench/internal/report"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := NewStore()
	require.NoError(t, err)

	item := HistoryItem{
		ID:              "run-1",
		Timestamp:       time.Now(),
		Implementations: []string{"go-fiber"},
		Scenarios:       []string{"read"},
		Results: []report.BenchmarkResult{
			{Implementation: "go-fiber", Test: "read", VUs: 50, Duration: "30s", TotalRequests: 1000, RPS: 50},
		},
	}
	require.NoError(t, s.Save(item))

	// A fresh store must see the persisted run.
	s2, err := NewStore()
	require.NoError(t, err)

	items := s2.List()
	require.Len(t, items, 1)
	assert.Equal(t, "run-1", items[0].ID)
	assert.Equal(t, 50.0, items[0].Results[0].RPS)

	got := s2.Get("run-1")
	require.NotNil(t, got)
	assert.Nil(t, s2.Get("missing"))
}

func TestStoreNewestFirst(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := NewStore()
	require.NoError(t, err)

	require.NoError(t, s.Save(HistoryItem{ID: "older"}))
	require.NoError(t, s.Save(HistoryItem{ID: "newer"}))

	items := s.List()
	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].ID)
}
