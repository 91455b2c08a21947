package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxFilterConfig(t *testing.T) {
	fc := InboxFilterConfig()
	assert.True(t, fc.ShouldProcess("/inbox/1-FS-123.tmp"))
	assert.True(t, fc.ShouldProcess("/inbox/1-IS-9.md"))
	assert.False(t, fc.ShouldProcess("/inbox/.x.swp"))
	assert.False(t, fc.ShouldProcess("/inbox/notes~"))

	assert.False(t, fc.ShouldProcess("/inbox/.DS_Store"))

	fc.AllowedExtensions = []string{".dcm"}
	assert.True(t, fc.ShouldProcess("a.dcm"))
	assert.False(t, fc.ShouldProcess("a.md"))
}

func TestWatcher_ReportsArrivals(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, InboxFilterConfig(), context.Background())
	require.NoError(t, err)
	w.settle = 20 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	staged := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0644))
	target := filepath.Join(dir, "1-staged")
	require.NoError(t, os.Rename(staged, target))

	select {
	case ev := <-w.Events():
		assert.Equal(t, EventCreate, ev.Type)
		assert.Equal(t, target, ev.Path)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(3 * time.Second):
		t.Fatal("no event for file moved into the watched directory")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), InboxFilterConfig(), context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Stop()
	assert.NotPanics(t, w.Stop)
	select {
	case <-w.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestWatcher_StartFailsForMissingDir(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), InboxFilterConfig(), context.Background())
	require.NoError(t, err)
	assert.Error(t, w.Start())
	w.Stop()
}

func TestWatcher_BurstSettlesToLastEvent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, InboxFilterConfig(), context.Background())
	require.NoError(t, err)
	w.settle = 200 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(dir, "1-IS-5.md")
	require.NoError(t, os.WriteFile(path, []byte("body"), 0644))
	require.NoError(t, os.Remove(path))

	select {
	case ev := <-w.Events():
		assert.Equal(t, EventRemove, ev.Type)
		assert.Equal(t, path, ev.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("no event for a file created and removed")
	}
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, int64(1), w.Count(EventRemove))
	assert.Zero(t, w.Count(EventCreate))
	assert.Zero(t, w.Count("chmod"))
}

func TestWatcher_IgnoredNamesAreNotReported(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, InboxFilterConfig(), context.Background())
	require.NoError(t, err)
	w.settle = 20 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "draft~"), nil, 0644))
	kept := filepath.Join(dir, "kept")
	require.NoError(t, os.WriteFile(kept, nil, 0644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, kept, ev.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("no event for the kept file")
	}
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), InboxFilterConfig(), context.Background())
	require.NoError(t, err)
	assert.NotPanics(t, w.Stop)
}
