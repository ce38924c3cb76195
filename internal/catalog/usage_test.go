package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mcpindex/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTracker(t *testing.T, delay time.Duration) (*UsageTracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage-snapshot.json")
	logger, _ := logging.NewTestLogger()
	tr := NewUsageTracker(path, delay, logger)
	clock := &testClock{now: fixedNow}
	tr.now = func() time.Time {
		clock.Advance(time.Second)
		return clock.Now()
	}
	return tr, path
}

func TestUsageTracker_DebouncedFlushCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, path := newTracker(t, 50*time.Millisecond)
	for range 5 {
		tr.Track("a", "get")
	}
	tr.Track("b", "search")

	require.Eventually(t, func() bool { return tr.Flushes() == 1 }, 2*time.Second, 10*time.Millisecond)
	// nothing else pending, so no second write
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, tr.Flushes())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f usageFile
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, 1, f.Version)
	assert.EqualValues(t, 5, f.Entries["a"].UsageCount)
	assert.Equal(t, "search", f.Entries["b"].LastAction)

	require.NoError(t, tr.Close(context.Background()))
}

func TestUsageTracker_CloseFlushesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, path := newTracker(t, time.Hour)
	tr.Track("a", "get")
	require.NoError(t, tr.Close(context.Background()))
	assert.EqualValues(t, 1, tr.Flushes())
	assert.FileExists(t, path)

	// tracks after close stay in memory
	tr.Track("a", "get")
	rec, ok := tr.Get("a")
	require.True(t, ok)
	assert.EqualValues(t, 2, rec.UsageCount)
	assert.EqualValues(t, 1, tr.Flushes())
}

func TestUsageTracker_LoadRoundTrip(t *testing.T) {
	tr, path := newTracker(t, time.Hour)
	first := tr.Track("a", "get")
	tr.Track("a", "get")
	require.NoError(t, tr.Close(context.Background()))

	logger, _ := logging.NewTestLogger()
	reloaded := NewUsageTracker(path, time.Hour, logger)
	require.NoError(t, reloaded.Load())
	rec, ok := reloaded.Get("a")
	require.True(t, ok)
	assert.EqualValues(t, 2, rec.UsageCount)
	assert.Equal(t, first.FirstSeenTs, rec.FirstSeenTs)
	assert.True(t, rec.LastUsedAt.After(rec.FirstSeenTs))
}

func TestUsageTracker_LoadTolerance(t *testing.T) {
	tr, path := newTracker(t, time.Hour)
	require.NoError(t, tr.Load(), "missing file")

	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0o644))
	require.NoError(t, tr.Load())

	require.NoError(t, os.WriteFile(path, []byte(`{"version":9,"entries":{"a":{"usageCount":3}}}`), 0o644))
	require.NoError(t, tr.Load())
	_, ok := tr.Get("a")
	assert.False(t, ok)
}

func TestUsageTracker_HotsetOrdering(t *testing.T) {
	tr, _ := newTracker(t, time.Hour)
	tr.Track("low", "get")
	tr.Track("high", "get")
	tr.Track("high", "get")
	tr.Track("tie-old", "get")
	tr.Track("tie-new", "get")

	hot := tr.Hotset(3)
	require.Len(t, hot, 3)
	assert.Equal(t, "high", hot[0].ID)
	// equal counts, most recent first
	assert.Equal(t, "tie-new", hot[1].ID)
	assert.Equal(t, "tie-old", hot[2].ID)

	assert.Len(t, tr.Hotset(0), 4)
	require.NoError(t, tr.Close(context.Background()))
}

func TestUsageTracker_PruneAndAnnotate(t *testing.T) {
	tr, _ := newTracker(t, time.Hour)
	tr.Track("keep", "get")
	tr.Track("drop", "get")

	n := tr.Prune(func(id string) bool { return id == "keep" })
	assert.Equal(t, 1, n)
	_, ok := tr.Get("drop")
	assert.False(t, ok)

	in := normalized(t, doc("keep", "K", "k"))
	tr.Annotate(in)
	assert.EqualValues(t, 1, in.UsageCount)
	require.NotNil(t, in.LastUsedAt)
	require.NoError(t, tr.Close(context.Background()))
}
