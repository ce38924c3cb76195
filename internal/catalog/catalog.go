package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"

	"golang.org/x/sync/singleflight"
)

// Options configures a Catalog.
type Options struct {
	// Dirs lists the instruction directories. Dirs[0] is the writable
	// primary directory.
	Dirs        []Dir
	MaxFileSize int64
	Mutation    bool
	Logger      *logging.AppLogger
	// Now is the clock, time.Now when nil.
	Now func() time.Time
	// WatchDebounce coalesces bursts of filesystem events. Default 250ms.
	WatchDebounce time.Duration
}

type EventType string

const (
	EventReloaded EventType = "reloaded"
	EventAdded    EventType = "added"
	EventUpdated  EventType = "updated"
	EventRemoved  EventType = "removed"
	EventGroomed  EventType = "groomed"
)

// Event is delivered to OnChange listeners after the catalog changed.
type Event struct {
	Type  EventType `json:"type"`
	IDs   []string  `json:"ids,omitempty"`
	Count int       `json:"count"`
	Hash  string    `json:"hash"`
	At    time.Time `json:"at"`
}

// Catalog caches the loaded snapshot and serializes writes. It is safe for
// concurrent use.
type Catalog struct {
	opts   Options
	loader *Loader
	logger *logging.AppLogger

	mu    sync.RWMutex
	snap  *Snapshot
	dirty bool
	gen   uint64

	group   singleflight.Group
	writeMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []func(Event)

	reloads atomic.Int64
	seq     atomic.Int64
}

// New returns a catalog over opts.Dirs. Nothing is read until the first
// EnsureLoaded.
func New(opts Options) (*Catalog, error) {
	if len(opts.Dirs) == 0 {
		return nil, fmt.Errorf("catalog needs at least one directory")
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefault()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = 250 * time.Millisecond
	}
	for i := range opts.Dirs {
		abs, err := filepath.Abs(fileops.ExpandPath(opts.Dirs[i].Path))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", opts.Dirs[i].Path, err)
		}
		opts.Dirs[i].Path = abs
		if opts.Dirs[i].Source == "" {
			opts.Dirs[i].Source = filepath.Base(abs)
		}
	}
	return &Catalog{
		opts: opts,
		loader: &Loader{
			Dirs:        opts.Dirs,
			MaxFileSize: opts.MaxFileSize,
			Logger:      opts.Logger,
			Now:         opts.Now,
		},
		logger: opts.Logger,
	}, nil
}

// Dirs returns the configured directories, primary first.
func (c *Catalog) Dirs() []Dir {
	return slices.Clone(c.opts.Dirs)
}

// PrimaryDir is the directory writes go to.
func (c *Catalog) PrimaryDir() string {
	return c.opts.Dirs[0].Path
}

// MutationEnabled reports whether writes are allowed.
func (c *Catalog) MutationEnabled() bool {
	return c.opts.Mutation
}

// Reloads is the number of completed loads.
func (c *Catalog) Reloads() int64 {
	return c.reloads.Load()
}

// OnChange registers fn to be called after every reload or write. fn runs
// on the goroutine that caused the change and must not block.
func (c *Catalog) OnChange(fn func(Event)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Catalog) emit(ev Event) {
	c.listenersMu.Lock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Invalidate forces the next EnsureLoaded to reload.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.gen++
	c.mu.Unlock()
}

// Snapshot returns the cached snapshot without checking the disk. It is nil
// before the first load.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// EnsureLoaded returns a snapshot matching the directories on disk,
// reloading when the cache is empty, invalidated or stale. Concurrent
// callers share a single reload.
func (c *Catalog) EnsureLoaded(ctx context.Context) (*Snapshot, error) {
	sig, err := Signature(c.opts.Dirs)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	snap, dirty := c.snap, c.dirty
	c.mu.RUnlock()
	if snap != nil && !dirty && snap.Signature == sig {
		return snap, nil
	}

	v, err, _ := c.group.Do("load", func() (any, error) {
		return c.reload(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Reload discards the cache and reads the directories again.
func (c *Catalog) Reload(ctx context.Context) (*Snapshot, error) {
	c.Invalidate()
	return c.EnsureLoaded(ctx)
}

func (c *Catalog) reload(ctx context.Context) (*Snapshot, error) {
	defer c.logger.LogPerformance("catalog reload", time.Now())

	c.mu.RLock()
	gen := c.gen
	prev := c.snap
	c.mu.RUnlock()

	snap, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snap = snap
	if c.gen == gen {
		c.dirty = false
	}
	c.mu.Unlock()
	c.reloads.Add(1)

	for _, le := range snap.Errors {
		c.logger.Warn("Skipped instruction file", "file", le.File, "reason", le.Reason)
	}
	if prev == nil || prev.Hash != snap.Hash || prev.GovernanceHash != snap.GovernanceHash {
		c.emit(Event{Type: EventReloaded, Count: snap.Count(), Hash: snap.Hash, At: snap.LoadedAt})
	}
	return snap, nil
}

// Get returns a copy of the entry with id.
func (c *Catalog) Get(ctx context.Context, id string) (*Instruction, error) {
	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	in := snap.Get(id)
	if in == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return in.Clone(), nil
}

// List returns copies of the entries matching f, sorted by id.
func (c *Catalog) List(ctx context.Context, f Filter) ([]*Instruction, error) {
	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Instruction
	for _, in := range snap.Entries {
		if f.Match(in) {
			out = append(out, in.Clone())
		}
	}
	return out, nil
}

// Categories counts entries per category.
func (c *Catalog) Categories(ctx context.Context) (map[string]int, error) {
	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return CountCategories(snap.Entries), nil
}

// CountCategories counts entries per category.
func CountCategories(entries []*Instruction) map[string]int {
	counts := map[string]int{}
	for _, in := range entries {
		for _, cat := range in.Categories {
			counts[cat]++
		}
	}
	return counts
}

// WriteResult reports what a single write did.
type WriteResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
	Changed bool   `json:"changed"`
	Version string `json:"version"`
	Path    string `json:"path,omitempty"`
}

// Add normalizes, validates and writes raw to the primary directory. An
// existing id is only replaced when overwrite is set; a changed body then
// bumps the patch version and appends to the change log.
func (c *Catalog) Add(ctx context.Context, raw map[string]any, overwrite bool) (*WriteResult, error) {
	if err := c.checkMutation(); err != nil {
		return nil, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.addLocked(ctx, snap, raw, overwrite)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		if err := c.committed(ctx, eventFor(res), []string{res.ID}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func eventFor(res *WriteResult) EventType {
	if res.Created {
		return EventAdded
	}
	return EventUpdated
}

func (c *Catalog) addLocked(ctx context.Context, snap *Snapshot, raw map[string]any, overwrite bool) (*WriteResult, error) {
	now := c.now()
	// documents without an id are named after their title
	in, _, err := Normalize(raw, normalizeID(str(raw, "title"))+".json", now)
	if err != nil {
		return nil, err
	}

	existing := snap.Get(in.ID)
	if existing != nil {
		if snap.Dirs[in.ID].ReadOnly {
			return nil, fmt.Errorf("%w: %s (%s)", ErrReadOnly, in.ID, existing.Source)
		}
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrExists, in.ID)
		}
		mergeExisting(in, existing, raw, now)
		if samePersisted(existing, in) {
			return &WriteResult{ID: in.ID, Version: existing.Version, Path: snap.Files[in.ID]}, nil
		}
	}

	if err := Validate(in); err != nil {
		return nil, err
	}

	path, err := c.write(ctx, in)
	if err != nil {
		return nil, err
	}
	if existing != nil && snap.Files[in.ID] != path {
		c.removeLegacy(snap.Files[in.ID])
	}
	return &WriteResult{ID: in.ID, Created: existing == nil, Changed: true, Version: in.Version, Path: path}, nil
}

// mergeExisting carries history from the stored entry into an overwrite.
func mergeExisting(in, existing *Instruction, raw map[string]any, now time.Time) {
	in.CreatedAt = existing.CreatedAt
	if _, ok := raw["changeLog"]; !ok {
		in.ChangeLog = slices.Clone(existing.ChangeLog)
	}
	if _, ok := raw["version"]; !ok {
		in.Version = existing.Version
	}
	if _, ok := raw["updatedAt"]; !ok {
		in.UpdatedAt = existing.UpdatedAt
	}
	if _, ok := raw["lastReviewedAt"]; !ok && existing.LastReviewedAt != nil {
		in.LastReviewedAt = cloneTime(existing.LastReviewedAt)
	}
	if _, ok := raw["nextReviewDue"]; !ok {
		in.NextReviewDue = cloneTime(existing.NextReviewDue)
	}
	if samePersisted(existing, in) {
		return
	}

	in.UpdatedAt = now
	if in.SourceHash != existing.SourceHash && CompareVersions(in.Version, existing.Version) <= 0 {
		in.Version = BumpVersion(existing.Version, BumpPatch)
		in.ChangeLog = append(in.ChangeLog, ChangeLogEntry{
			Version:   in.Version,
			ChangedAt: now,
			Summary:   "body updated",
		})
	}
}

func samePersisted(a, b *Instruction) bool {
	ab, errA := json.Marshal(a.persistable())
	bb, errB := json.Marshal(b.persistable())
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

// RemoveResult lists what Remove did per id.
type RemoveResult struct {
	Removed  []string `json:"removed"`
	Missing  []string `json:"missing,omitempty"`
	ReadOnly []string `json:"readOnly,omitempty"`
}

// Remove deletes the files backing ids. Unknown ids and entries from
// read-only sources are reported, not fatal.
func (c *Catalog) Remove(ctx context.Context, ids []string) (*RemoveResult, error) {
	if err := c.checkMutation(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	res := &RemoveResult{Removed: []string{}}
	for _, id := range ids {
		if snap.Get(id) == nil {
			res.Missing = append(res.Missing, id)
			continue
		}
		if snap.Dirs[id].ReadOnly {
			res.ReadOnly = append(res.ReadOnly, id)
			continue
		}
		if err := os.Remove(snap.Files[id]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("remove %s: %w", id, err)
		}
		res.Removed = append(res.Removed, id)
	}
	if len(res.Removed) > 0 {
		if err := c.committed(ctx, EventRemoved, res.Removed); err != nil {
			return res, err
		}
	}
	return res, nil
}

type ImportMode string

const (
	ImportSkip      ImportMode = "skip"
	ImportOverwrite ImportMode = "overwrite"
)

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Added       []string    `json:"added"`
	Overwritten []string    `json:"overwritten"`
	Skipped     []string    `json:"skipped"`
	Unchanged   []string    `json:"unchanged"`
	Errors      []LoadError `json:"errors,omitempty"`
}

// Import adds many entries under one write lock. Failing entries are
// reported by index and do not stop the rest; a repeated id within the
// batch is an error for every copy after the first.
func (c *Catalog) Import(ctx context.Context, raws []map[string]any, mode ImportMode) (*ImportResult, error) {
	if err := c.checkMutation(); err != nil {
		return nil, err
	}
	switch mode {
	case "":
		mode = ImportSkip
	case ImportSkip, ImportOverwrite:
	default:
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Added: []string{}, Overwritten: []string{}, Skipped: []string{}, Unchanged: []string{}}
	var changed []string
	seen := make(map[string]bool, len(raws))
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id := normalizeID(str(raw, "id"))
		if id == "" {
			id = normalizeID(str(raw, "title"))
		}
		if id != "" && seen[id] {
			res.Errors = append(res.Errors, LoadError{File: fmt.Sprintf("entries[%d] %s", i, id), Reason: "duplicate id in batch"})
			continue
		}
		seen[id] = true

		r, err := c.addLocked(ctx, snap, raw, mode == ImportOverwrite)
		switch {
		case errors.Is(err, ErrExists):
			res.Skipped = append(res.Skipped, str(raw, "id"))
		case err != nil:
			label := fmt.Sprintf("entries[%d]", i)
			if id := str(raw, "id"); id != "" {
				label += " " + id
			}
			res.Errors = append(res.Errors, LoadError{File: label, Reason: err.Error()})
		case !r.Changed:
			res.Unchanged = append(res.Unchanged, r.ID)
		case r.Created:
			res.Added = append(res.Added, r.ID)
			changed = append(changed, r.ID)
		default:
			res.Overwritten = append(res.Overwritten, r.ID)
			changed = append(changed, r.ID)
		}
	}
	if len(changed) > 0 {
		if err := c.committed(ctx, EventAdded, changed); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Catalog) checkMutation() error {
	if !c.opts.Mutation {
		return ErrMutationDisabled
	}
	return nil
}

func (c *Catalog) now() time.Time {
	return c.opts.Now().UTC().Truncate(time.Second)
}

// FileName is the canonical file name for id.
func FileName(id string) string {
	return id + ".json"
}

func (c *Catalog) write(ctx context.Context, in *Instruction) (string, error) {
	name, err := fileops.SanitizeFilename(FileName(in.ID))
	if err != nil || name != FileName(in.ID) {
		return "", fmt.Errorf("id %q does not map to a safe file name", in.ID)
	}
	path := filepath.Join(c.PrimaryDir(), name)
	if err := fileops.ValidateFileInDirectory(path, c.PrimaryDir()); err != nil {
		return "", err
	}
	if err := fileops.AtomicWriteJSON(ctx, path, in.persistable(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", in.ID, err)
	}
	return path, nil
}

// removeLegacy deletes a file an entry was loaded from before it was
// rewritten under its canonical name.
func (c *Catalog) removeLegacy(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Could not remove legacy instruction file", "file", path, "error", err)
	}
}

// committed bumps the version marker, reloads and notifies listeners.
// Callers hold writeMu.
func (c *Catalog) committed(ctx context.Context, typ EventType, ids []string) error {
	if err := c.touchMarker(ctx); err != nil {
		c.logger.Warn("Could not update catalog version marker", "error", err)
	}
	c.Invalidate()
	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return err
	}
	c.emit(Event{Type: typ, IDs: ids, Count: snap.Count(), Hash: snap.Hash, At: c.now()})
	return nil
}

func (c *Catalog) touchMarker(ctx context.Context) error {
	marker := struct {
		Seq       int64     `json:"seq"`
		UpdatedAt time.Time `json:"updatedAt"`
		PID       int       `json:"pid"`
	}{
		Seq:       c.seq.Add(1),
		UpdatedAt: c.opts.Now().UTC(),
		PID:       os.Getpid(),
	}
	return fileops.AtomicWriteJSON(ctx, filepath.Join(c.PrimaryDir(), VersionMarker), marker, 0o644)
}
