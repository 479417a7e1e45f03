package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	mutex sync.Mutex
	lines []string
}

func (r *lineRecorder) handle(line string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) get() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string{}, r.lines...)
}

func TestTailerPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comfyui.log")
	writeFile(t, path, "first\n\n  second  \npart")

	var rec lineRecorder
	tl := newTailer(path, time.Second, rec.handle)
	defer tl.closeFile()

	require.NoError(t, tl.poll())
	assert.Equal(t, []string{"first", "second"}, rec.get(), "blank lines are skipped, fragments held back")

	require.NoError(t, tl.poll())
	assert.Len(t, rec.get(), 2)

	appendFile(t, path, "ial line\r\nthird\n")
	require.NoError(t, tl.poll())
	assert.Equal(t, []string{"first", "second", "partial line", "third"}, rec.get())
}

func TestTailerTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comfyui.log")
	writeFile(t, path, "a long line before truncation\nanother\n")

	var rec lineRecorder
	tl := newTailer(path, time.Second, rec.handle)
	defer tl.closeFile()
	require.NoError(t, tl.poll())

	require.NoError(t, os.Truncate(path, 0))
	appendFile(t, path, "after\n")
	require.NoError(t, tl.poll())
	assert.Equal(t, []string{"a long line before truncation", "another", "after"}, rec.get())
}

func TestTailerReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comfyui.log")
	writeFile(t, path, "old 1\nold 2\nold 3\n")

	var rec lineRecorder
	tl := newTailer(path, time.Second, rec.handle)
	defer tl.closeFile()
	require.NoError(t, tl.poll())

	// a longer file moved into place
	next := filepath.Join(dir, "next.log")
	writeFile(t, next, "new 1\nnew 2\nnew 3\nnew 4\n")
	require.NoError(t, os.Rename(next, path))
	require.NoError(t, tl.poll())
	assert.Equal(t, []string{"old 1", "old 2", "old 3", "new 1", "new 2", "new 3", "new 4"}, rec.get())

	// removed: nothing to read until it comes back
	require.NoError(t, os.Remove(path))
	require.NoError(t, tl.poll())
	writeFile(t, path, "back\n")
	require.NoError(t, tl.poll())
	assert.Equal(t, "back", rec.get()[len(rec.get())-1])
}

func TestTailerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "comfyui.log")

	var rec lineRecorder
	tl := newTailer(path, 20*time.Millisecond, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- tl.run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "the log file is created")

	appendFile(t, path, "[2024-05-01 12:00:00] booting\n")
	appendFile(t, path, "[2024-05-01 12:00:01] ready\n")
	require.Eventually(t, func() bool {
		return len(rec.get()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "[2024-05-01 12:00:01] ready", rec.get()[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tailer did not stop")
	}
}
