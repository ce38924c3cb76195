package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mcpindex/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureLoaded_CachesUntilSignatureChanges(t *testing.T) {
	c, _ := newTestCatalog(t, false)
	ctx := context.Background()
	writeJSON(t, c.PrimaryDir(), "a.json", doc("a", "A", "alpha"))

	first, err := c.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count())
	assert.EqualValues(t, 1, c.Reloads())

	second, err := c.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, c.Reloads())

	writeJSON(t, c.PrimaryDir(), "b.json", doc("b", "B", "beta"))
	third, err := c.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Count())
	assert.EqualValues(t, 2, c.Reloads())

	c.Invalidate()
	_, err = c.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, c.Reloads())
}

func TestEnsureLoaded_ConcurrentCallers(t *testing.T) {
	c, _ := newTestCatalog(t, false)
	for _, id := range []string{"a", "b", "c"} {
		writeJSON(t, c.PrimaryDir(), id+".json", doc(id, id, id))
	}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.EnsureLoaded(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 3, snap.Count())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Reloads(), int64(16))
}

func TestWrites_RequireMutation(t *testing.T) {
	c, _ := newTestCatalog(t, false)
	ctx := context.Background()

	_, err := c.Add(ctx, doc("a", "A", "alpha"), false)
	assert.ErrorIs(t, err, ErrMutationDisabled)
	_, err = c.Remove(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrMutationDisabled)
	_, err = c.Import(ctx, nil, ImportSkip)
	assert.ErrorIs(t, err, ErrMutationDisabled)
	owner := "x"
	_, err = c.UpdateGovernance(ctx, "a", GovernancePatch{Owner: &owner})
	assert.ErrorIs(t, err, ErrMutationDisabled)
	_, err = c.Groom(ctx, false)
	assert.ErrorIs(t, err, ErrMutationDisabled)

	_, err = c.Groom(ctx, true)
	assert.NoError(t, err)
}

func TestAdd_CreateAndOverwrite(t *testing.T) {
	c, clock := newTestCatalog(t, true)
	ctx := context.Background()

	var events []Event
	c.OnChange(func(ev Event) { events = append(events, ev) })

	res, err := c.Add(ctx, doc("a", "A", "alpha", "go"), false)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Changed)
	assert.Equal(t, "1.0.0", res.Version)
	assert.FileExists(t, filepath.Join(c.PrimaryDir(), "a.json"))
	assert.FileExists(t, filepath.Join(c.PrimaryDir(), VersionMarker))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Body)
	assert.Equal(t, fixedNow, got.CreatedAt)

	_, err = c.Add(ctx, doc("a", "A", "alpha"), false)
	assert.ErrorIs(t, err, ErrExists)

	same, err := c.Add(ctx, doc("a", "A", "alpha", "go"), true)
	require.NoError(t, err)
	assert.False(t, same.Changed)

	clock.Advance(time.Hour)
	updated, err := c.Add(ctx, doc("a", "A", "alpha v2", "go"), true)
	require.NoError(t, err)
	assert.False(t, updated.Created)
	assert.True(t, updated.Changed)
	assert.Equal(t, "1.0.1", updated.Version)

	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha v2", got.Body)
	assert.Equal(t, fixedNow, got.CreatedAt)
	assert.Equal(t, fixedNow.Add(time.Hour), got.UpdatedAt)
	require.Len(t, got.ChangeLog, 2)
	assert.Equal(t, "1.0.1", got.ChangeLog[1].Version)

	var types []EventType
	for _, ev := range events {
		if ev.Type != EventReloaded {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []EventType{EventAdded, EventUpdated}, types)
}

func TestAdd_RejectsInvalid(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	_, err := c.Add(context.Background(), map[string]any{"id": "x", "title": "no body"}, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body", verr.Fields[0].Field)
}

func TestWrites_ReadOnlySource(t *testing.T) {
	primary, extra := t.TempDir(), t.TempDir()
	writeJSON(t, extra, "shared.json", doc("shared", "Shared", "s"))
	c, _ := newTestCatalog(t, true, Dir{Path: primary}, Dir{Path: extra, Source: "team", ReadOnly: true})
	ctx := context.Background()

	_, err := c.Add(ctx, doc("shared", "Mine", "m"), true)
	assert.ErrorIs(t, err, ErrReadOnly)

	res, err := c.Remove(ctx, []string{"shared"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, res.ReadOnly)
	assert.FileExists(t, filepath.Join(extra, "shared.json"))

	owner := "me"
	_, err = c.UpdateGovernance(ctx, "shared", GovernancePatch{Owner: &owner})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestRemove(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	ctx := context.Background()
	_, err := c.Add(ctx, doc("a", "A", "alpha"), false)
	require.NoError(t, err)

	res, err := c.Remove(ctx, []string{"a", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Removed)
	assert.Equal(t, []string{"ghost"}, res.Missing)
	assert.NoFileExists(t, filepath.Join(c.PrimaryDir(), "a.json"))

	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImport(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	ctx := context.Background()
	_, err := c.Add(ctx, doc("existing", "E", "e"), false)
	require.NoError(t, err)

	res, err := c.Import(ctx, []map[string]any{
		doc("new", "N", "n"),
		doc("existing", "E", "changed"),
		{"title": "no id or body"},
	}, ImportSkip)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, res.Added)
	assert.Equal(t, []string{"existing"}, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "entries[2]", res.Errors[0].File)

	res, err = c.Import(ctx, []map[string]any{doc("existing", "E", "changed")}, ImportOverwrite)
	require.NoError(t, err)
	assert.Equal(t, []string{"existing"}, res.Overwritten)

	_, err = c.Import(ctx, nil, "merge")
	assert.Error(t, err)
}

func TestImport_DuplicateInBatch(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	ctx := context.Background()

	res, err := c.Import(ctx, []map[string]any{
		doc("twice", "First", "one"),
		doc("Twice", "Second", "two"),
	}, ImportOverwrite)
	require.NoError(t, err)
	assert.Equal(t, []string{"twice"}, res.Added)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "duplicate id in batch", res.Errors[0].Reason)

	got, err := c.Get(ctx, "twice")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Title)
}

func TestWrite_RejectsUnsafeFileNames(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	for _, id := range []string{"../escape", "nested/id", `win\path`} {
		_, err := c.write(context.Background(), &Instruction{ID: id, Title: "T", Body: "b"})
		assert.ErrorContains(t, err, "safe file name", id)
	}
	path, err := c.write(context.Background(), &Instruction{ID: "plain", Title: "T", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.PrimaryDir(), "plain.json"), path)
}

func TestUpdateGovernance(t *testing.T) {
	c, clock := newTestCatalog(t, true)
	ctx := context.Background()
	_, err := c.Add(ctx, doc("a", "A", "alpha"), false)
	require.NoError(t, err)
	before, err := c.EnsureLoaded(ctx)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	owner := "platform"
	status := StatusReview
	reviewed := fixedNow.Add(24 * time.Hour)
	out, err := c.UpdateGovernance(ctx, "a", GovernancePatch{
		Owner:          &owner,
		Status:         &status,
		LastReviewedAt: &reviewed,
		Bump:           BumpMinor,
	})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", out.Version)

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "platform", got.Owner)
	assert.Equal(t, StatusReview, got.Status)
	require.NotNil(t, got.NextReviewDue)
	assert.Equal(t, reviewed.AddDate(0, 0, got.ReviewIntervalDays), *got.NextReviewDue)
	require.Len(t, got.ChangeLog, 2)
	assert.Contains(t, got.ChangeLog[1].Summary, "owner")

	after, err := c.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.GovernanceHash, after.GovernanceHash)
	assert.Equal(t, before.Hash, after.Hash, "body untouched")

	_, err = c.UpdateGovernance(ctx, "missing", GovernancePatch{Owner: &owner})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.UpdateGovernance(ctx, "a", GovernancePatch{})
	assert.Error(t, err)
}

func TestGroom(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	ctx := context.Background()
	dir := c.PrimaryDir()

	writeJSON(t, dir, "Legacy Name.json", map[string]any{"id": "legacy", "body": "x", "requirement": "must"})
	stale := doc("stale", "Stale", "body")
	stale["sourceHash"] = "0000000000000000000000000000000000000000000000000000000000000000"
	writeJSON(t, dir, "stale.json", stale)
	old := doc("old", "Old", "old body")
	writeJSON(t, dir, "old.json", old)
	replacement := doc("replacement", "New", "new body")
	replacement["supersedes"] = "old"
	writeJSON(t, dir, "replacement.json", replacement)

	dry, err := c.Groom(ctx, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 4, dry.Scanned)
	assert.Equal(t, []string{"stale"}, dry.Repaired)
	assert.Contains(t, dry.Normalized, "legacy")
	assert.Equal(t, []Superseded{{ID: "old", SupersededBy: "replacement"}}, dry.Deprecated)
	assert.FileExists(t, filepath.Join(dir, "Legacy Name.json"))

	rep, err := c.Groom(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Changed())
	assert.NoFileExists(t, filepath.Join(dir, "Legacy Name.json"))
	assert.FileExists(t, filepath.Join(dir, "legacy.json"))

	got, err := c.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, StatusDeprecated, got.Status)

	again, err := c.Groom(ctx, false)
	require.NoError(t, err)
	assert.False(t, again.Changed())
	assert.Equal(t, 4, again.Unchanged)

	verify, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, verify.OK)
}

func TestVerify_ReportsStaleHash(t *testing.T) {
	c, _ := newTestCatalog(t, false)
	d := doc("a", "A", "alpha")
	d["sourceHash"] = SourceHash("something else")
	writeJSON(t, c.PrimaryDir(), "a.json", d)

	rep, err := c.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Mismatches, 1)
	assert.Equal(t, SourceHash("something else"), rep.Mismatches[0].Expected)
	assert.Equal(t, SourceHash("alpha"), rep.Mismatches[0].Actual)
}

func TestWatch_ReloadsOnExternalEdit(t *testing.T) {
	c, _ := newTestCatalog(t, false)
	_, err := c.EnsureLoaded(context.Background())
	require.NoError(t, err)

	reloaded := make(chan Event, 4)
	c.OnChange(func(ev Event) {
		select {
		case reloaded <- ev:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)
	writeJSON(t, c.PrimaryDir(), "a.json", doc("a", "A", "alpha"))

	select {
	case ev := <-reloaded:
		assert.Equal(t, EventReloaded, ev.Type)
		assert.Equal(t, 1, ev.Count)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after external edit")
	}
}

func TestNew_RequiresDirectory(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRemove_FileAlreadyGone(t *testing.T) {
	c, _ := newTestCatalog(t, true)
	ctx := context.Background()
	_, err := c.Add(ctx, doc("a", "A", "alpha"), false)
	require.NoError(t, err)
	_, err = c.EnsureLoaded(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(c.PrimaryDir(), "a.json")))
	res, err := c.Remove(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Missing)
}

func TestReload_LogsTiming(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "a.json", doc("a", "A", "alpha"))
	logger, buf := logging.NewTestLogger()
	c, err := New(Options{Dirs: []Dir{{Path: dir}}, Logger: logger})
	require.NoError(t, err)

	_, err = c.Reload(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "catalog reload")
}
