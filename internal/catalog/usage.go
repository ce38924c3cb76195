package catalog

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"
)

const usageFileVersion = 1

// UsageRecord is the persisted usage of one instruction.
type UsageRecord struct {
	UsageCount  int64     `json:"usageCount"`
	FirstSeenTs time.Time `json:"firstSeenTs"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	LastAction  string    `json:"lastAction,omitempty"`
}

type usageFile struct {
	Version int                    `json:"version"`
	Entries map[string]UsageRecord `json:"entries"`
}

// HotEntry is one row of Hotset.
type HotEntry struct {
	ID string `json:"id"`
	UsageRecord
}

// UsageTracker counts instruction usage in memory and persists it to a
// snapshot file. Writes are debounced: tracks that land within the flush
// delay of each other produce a single write.
type UsageTracker struct {
	path   string
	delay  time.Duration
	now    func() time.Time
	logger *logging.AppLogger

	mu      sync.Mutex
	entries map[string]*UsageRecord
	timer   *time.Timer
	dirty   bool
	closed  bool

	writeMu sync.Mutex
	flushes atomic.Int64
}

// NewUsageTracker returns a tracker persisting to path. Call Load before
// Track to pick up earlier counts.
func NewUsageTracker(path string, flushDelay time.Duration, logger *logging.AppLogger) *UsageTracker {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &UsageTracker{
		path:    path,
		delay:   max(flushDelay, 0),
		now:     time.Now,
		logger:  logger,
		entries: map[string]*UsageRecord{},
	}
}

// Load reads the snapshot file. A missing file is an empty snapshot; a
// corrupt one is logged and ignored so a bad file never blocks startup.
func (t *UsageTracker) Load() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read usage snapshot: %w", err)
	}

	var f usageFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.logger.Warn("Ignoring corrupt usage snapshot", "path", t.path, "error", err)
		return nil
	}
	if f.Version != usageFileVersion {
		t.logger.Warn("Ignoring usage snapshot with unknown version", "path", t.path, "version", f.Version)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rec := range f.Entries {
		r := rec
		t.entries[id] = &r
	}
	return nil
}

// Track records one use of id and schedules a flush.
func (t *UsageTracker) Track(id, action string) UsageRecord {
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.entries[id]
	if !ok {
		rec = &UsageRecord{FirstSeenTs: now}
		t.entries[id] = rec
	}
	rec.UsageCount++
	rec.LastUsedAt = now
	if action != "" {
		rec.LastAction = action
	}
	t.dirty = true
	t.scheduleLocked()
	return *rec
}

func (t *UsageTracker) scheduleLocked() {
	if t.closed || t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.delay, func() {
		if err := t.Flush(context.Background()); err != nil {
			t.logger.Warn("Usage snapshot flush failed", "error", err)
		}
	})
}

// Flush writes pending changes now. It is a no-op when nothing changed.
func (t *UsageTracker) Flush(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	f := usageFile{Version: usageFileVersion, Entries: make(map[string]UsageRecord, len(t.entries))}
	for id, rec := range t.entries {
		f.Entries[id] = *rec
	}
	t.dirty = false
	t.mu.Unlock()

	if err := fileops.AtomicWriteJSON(ctx, t.path, f, 0o644); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return fmt.Errorf("write usage snapshot: %w", err)
	}
	t.flushes.Add(1)
	return nil
}

// Flushes is the number of snapshot writes so far.
func (t *UsageTracker) Flushes() int64 {
	return t.flushes.Load()
}

// Close stops the debounce timer and writes anything pending. Tracks after
// Close are kept in memory only.
func (t *UsageTracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.Flush(ctx)
}

// Get returns the record for id.
func (t *UsageTracker) Get(id string) (UsageRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.entries[id]
	if !ok {
		return UsageRecord{}, false
	}
	return *rec, true
}

// Hotset returns the most used ids: count desc, then most recent, then id.
func (t *UsageTracker) Hotset(limit int) []HotEntry {
	if limit <= 0 {
		limit = 10
	}
	t.mu.Lock()
	out := make([]HotEntry, 0, len(t.entries))
	for id, rec := range t.entries {
		out = append(out, HotEntry{ID: id, UsageRecord: *rec})
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b HotEntry) int {
		return cmp.Or(
			cmp.Compare(b.UsageCount, a.UsageCount),
			b.LastUsedAt.Compare(a.LastUsedAt),
			strings.Compare(a.ID, b.ID),
		)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune drops records whose id is not in valid and returns how many went.
func (t *UsageTracker) Prune(valid func(id string) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id := range t.entries {
		if !valid(id) {
			delete(t.entries, id)
			n++
		}
	}
	if n > 0 {
		t.dirty = true
		t.scheduleLocked()
	}
	return n
}

// Annotate copies usage fields onto in, which must be a private copy.
func (t *UsageTracker) Annotate(in *Instruction) *Instruction {
	rec, ok := t.Get(in.ID)
	if !ok {
		return in
	}
	in.UsageCount = rec.UsageCount
	in.FirstSeenTs = timePtr(rec.FirstSeenTs)
	in.LastUsedAt = timePtr(rec.LastUsedAt)
	return in
}
