package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mcpindex/internal/logging"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func doc(id, title, body string, categories ...string) map[string]any {
	cats := make([]any, len(categories))
	for i, c := range categories {
		cats[i] = c
	}
	return map[string]any{
		"id":         id,
		"title":      title,
		"body":       body,
		"categories": cats,
	}
}

func newTestCatalog(t *testing.T, mutation bool, dirs ...Dir) (*Catalog, *testClock) {
	t.Helper()
	if len(dirs) == 0 {
		dirs = []Dir{{Path: t.TempDir(), Source: "primary"}}
	}
	clock := &testClock{now: fixedNow}
	logger, _ := logging.NewTestLogger()
	c, err := New(Options{
		Dirs:          dirs,
		MaxFileSize:   1 << 20,
		Mutation:      mutation,
		Logger:        logger,
		Now:           clock.Now,
		WatchDebounce: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return c, clock
}
