package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/openmined/s3sync/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modified(key string) watcher.ChangeEvent {
	return watcher.ChangeEvent{Type: watcher.Modified, Key: key}
}

func deleted(key string) watcher.ChangeEvent {
	return watcher.ChangeEvent{Type: watcher.Deleted, Key: key}
}

// syncedPair returns a manager whose endpoints already went through one Sync.
func syncedPair(t *testing.T, files map[string]string) (m *Manager, srcDir, dstDir string) {
	t.Helper()
	srcDir, dstDir = t.TempDir(), t.TempDir()
	for key, content := range files {
		writeFile(t, srcDir, key, content)
	}
	m = New(newLocal(t, "source", srcDir, endpoint.Options{}), newLocal(t, "destination", dstDir, endpoint.Options{}), noRetry())
	_, err := m.Sync(t.Context())
	require.NoError(t, err)
	return m, srcDir, dstDir
}

func TestDrainLastEventWins(t *testing.T) {
	m := New(newLocal(t, "source", t.TempDir(), endpoint.Options{}), newLocal(t, "destination", t.TempDir(), endpoint.Options{}), noRetry())

	m.sourceEvents.Push(modified("f1"))
	m.sourceEvents.Push(deleted("f1"))
	m.sourceEvents.Push(deleted("f2"))
	m.sourceEvents.Push(modified("f2"))
	m.destinationEvents.Push(deleted("f2"))
	m.destinationEvents.Push(deleted("f3"))

	candidates, fromDestination := m.drain()
	assert.Equal(t, map[string]watcher.EventType{
		"f1": watcher.Deleted,
		"f2": watcher.Modified,
		"f3": watcher.Modified,
	}, candidates)
	assert.ElementsMatch(t, []string{"f2", "f3"}, fromDestination.ToSlice())
	assert.Zero(t, m.sourceEvents.Len())
	assert.Zero(t, m.destinationEvents.Len())
}

func TestProcessEventsCreateThenDelete(t *testing.T) {
	m, srcDir, dstDir := syncedPair(t, map[string]string{"f1": "content"})

	// f1 is rewritten, then removed before the engine wakes up.
	writeFile(t, srcDir, "f1", "other content")
	m.sourceEvents.Push(modified("f1"))
	require.NoError(t, os.Remove(filepath.Join(srcDir, "f1")))
	m.sourceEvents.Push(deleted("f1"))

	require.NoError(t, m.processEvents(t.Context()))
	assert.NoFileExists(t, filepath.Join(dstDir, "f1"))
	assert.Empty(t, m.destination.KeyMap())
}

func TestProcessEventsRename(t *testing.T) {
	m, srcDir, dstDir := syncedPair(t, map[string]string{"d/f1": "content"})

	require.NoError(t, os.Rename(filepath.Join(srcDir, "d", "f1"), filepath.Join(srcDir, "d", "f2")))
	m.sourceEvents.Push(deleted("d/f1"))
	m.sourceEvents.Push(modified("d/f2"))

	require.NoError(t, m.processEvents(t.Context()))
	assert.NoFileExists(t, filepath.Join(dstDir, "d", "f1"))
	assert.Equal(t, "content", readFile(t, dstDir, "d/f2"))
	assert.Equal(t, map[string]string{"d/f2": etagContent}, m.destination.Fingerprints())
}

func TestProcessEventsSkipsUnchanged(t *testing.T) {
	m, _, _ := syncedPair(t, map[string]string{"f1": "content"})

	m.sourceEvents.Push(modified("f1"))
	m.sourceEvents.Push(modified("f1"))

	require.NoError(t, m.processEvents(t.Context()))
	files, _ := m.Counters().Transferred.Total()
	assert.Equal(t, uint64(1), files)
}

func TestProcessEventsCorrectsDestinationDrift(t *testing.T) {
	m, _, dstDir := syncedPair(t, map[string]string{"f1": "content"})

	writeFile(t, dstDir, "f1", "other content")
	writeFile(t, dstDir, "extra", "content")
	m.destinationEvents.Push(modified("f1"))
	m.destinationEvents.Push(modified("extra"))

	require.NoError(t, m.processEvents(t.Context()))
	assert.Equal(t, "content", readFile(t, dstDir, "f1"))
	assert.NoFileExists(t, filepath.Join(dstDir, "extra"))
	assert.Equal(t, map[string]string{"f1": etagContent}, m.destination.Fingerprints())
}

func TestProcessEventsVanishedSourceForcesRescan(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := &vanishingSource{LocalEndpoint: newLocal(t, "source", srcDir, endpoint.Options{}), key: "f1"}
	m := New(src, newLocal(t, "destination", dstDir, endpoint.Options{}), noRetry())
	_, err := m.Sync(t.Context())
	require.NoError(t, err)

	writeFile(t, srcDir, "f1", "content")
	m.sourceEvents.Push(modified("f1"))

	require.NoError(t, m.processEvents(t.Context()))
	assert.True(t, m.forceRescan)
	assert.True(t, m.rescanDue())
	assert.NoFileExists(t, filepath.Join(dstDir, "f1"))
}

func TestRescanDue(t *testing.T) {
	m := New(newLocal(t, "source", t.TempDir(), endpoint.Options{}), newLocal(t, "destination", t.TempDir(), endpoint.Options{}), noRetry())
	m.lastScan = time.Now()
	assert.False(t, m.rescanDue())

	m.config.RescanInterval = time.Hour
	assert.False(t, m.rescanDue())

	m.lastScan = time.Now().Add(-2 * time.Hour)
	assert.True(t, m.rescanDue())
}

func runWatch(t *testing.T, m *Manager) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx)
	}()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("watch did not stop")
		}
	}
}

func TestWatchAppliesEvents(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "f1", "content")

	sourceWatcher := &watcher.Fake{}
	cfg := noRetry()
	cfg.WatchInterval = 10 * time.Millisecond
	m := New(newLocal(t, "source", srcDir, endpoint.Options{}), newLocal(t, "destination", dstDir, endpoint.Options{}), cfg,
		WithSourceWatcher(sourceWatcher))

	stop := runWatch(t, m)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dstDir, "f1"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, sourceWatcher.Started())

	writeFile(t, srcDir, "f2", "other content")
	require.NoError(t, os.Remove(filepath.Join(srcDir, "f1")))
	sourceWatcher.Emit(modified("f2"), deleted("f1"))

	require.Eventually(t, func() bool {
		_, errF1 := os.Stat(filepath.Join(dstDir, "f1"))
		_, errF2 := os.Stat(filepath.Join(dstDir, "f2"))
		return os.IsNotExist(errF1) && errF2 == nil
	}, 5*time.Second, 10*time.Millisecond)

	stop()
	assert.True(t, sourceWatcher.Stopped())
}

func TestWatchRescansPeriodically(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()

	cfg := noRetry()
	cfg.WatchInterval = 10 * time.Millisecond
	cfg.RescanInterval = 50 * time.Millisecond
	m := New(newLocal(t, "source", srcDir, endpoint.Options{}), newLocal(t, "destination", dstDir, endpoint.Options{}), cfg)

	stop := runWatch(t, m)
	defer stop()

	// No watcher reports this file: only a rescan can find it.
	writeFile(t, srcDir, "f1", "content")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dstDir, "f1"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchCorrectsDestination(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	writeFile(t, srcDir, "f1", "content")

	destinationWatcher := &watcher.Fake{}
	cfg := noRetry()
	cfg.WatchInterval = 10 * time.Millisecond
	m := New(newLocal(t, "source", srcDir, endpoint.Options{}), newLocal(t, "destination", dstDir, endpoint.Options{}), cfg,
		WithDestinationWatcher(destinationWatcher))

	stop := runWatch(t, m)
	defer stop()
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dstDir, "f1"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dstDir, "f1")))
	destinationWatcher.Emit(deleted("f1"))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(dstDir, "f1"))
		return err == nil && string(b) == "content"
	}, 5*time.Second, 10*time.Millisecond)
}
