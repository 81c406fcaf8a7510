package tracing

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.json")
	return NewStore(path, zap.NewNop()), path
}

func TestBuild(t *testing.T) {
	record := Build(Params{
		Prompt:       "hello [EMAIL REDACTED]",
		Model:        "gpt-4o-mini",
		PromptTokens: 2,
		Status:       StatusSuccess,
	}, now)

	assert.NotEmpty(t, record.TraceID)
	assert.Equal(t, now, record.CreatedAt)
	assert.NotNil(t, record.Metadata)
	assert.Equal(t, StatusSuccess, record.Status)

	other := Build(Params{}, now)
	assert.NotEqual(t, record.TraceID, other.TraceID)
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	s, path := newStore(t)

	for i, offset := range []time.Duration{-3 * time.Hour, -time.Hour, -2 * time.Hour} {
		record := Build(Params{Model: "m", Status: StatusSuccess}, now.Add(offset))
		record.Prompt = string(rune('a' + i))
		require.NoError(t, s.Add(record))
	}

	recent := s.ListRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Prompt)
	assert.Equal(t, "c", recent[1].Prompt)

	assert.Len(t, s.ListRecent(0), 3)

	reopened := NewStore(path, zap.NewNop())
	assert.Equal(t, "b", reopened.ListRecent(1)[0].Prompt)
}

func TestGet(t *testing.T) {
	s, _ := newStore(t)
	record := Build(Params{Model: "m", Status: StatusFailed, Metadata: map[string]string{MetadataError: "boom"}}, now)
	require.NoError(t, s.Add(record))

	got, ok := s.Get(record.TraceID)
	require.True(t, ok)
	assert.Equal(t, "boom", got.Metadata[MetadataError])

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestPurgeOlderThan(t *testing.T) {
	s, path := newStore(t)
	old := Build(Params{Status: StatusSuccess}, now.Add(-40*24*time.Hour))
	fresh := Build(Params{Status: StatusSuccess}, now.Add(-10*24*time.Hour))
	require.NoError(t, s.Add(old))
	require.NoError(t, s.Add(fresh))

	removed, err := s.PurgeOlderThan(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get(old.TraceID)
	assert.False(t, ok)

	reopened := NewStore(path, zap.NewNop())
	require.Equal(t, 1, reopened.Len())
	assert.Equal(t, fresh.TraceID, reopened.ListRecent(1)[0].TraceID)

	removed, err = s.PurgeOlderThan(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)
}
