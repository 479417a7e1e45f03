package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const maxLineLength = 1024 * 1024

// tailer follows the aggregate log from its first line. Writes are noticed
// through fsnotify on the parent directory and a ticker covers filesystems
// where notifications never arrive. A truncated file is read again from the
// start and a replaced file is reopened.
type tailer struct {
	path     string
	interval time.Duration
	handle   func(line string)
	log      *logrus.Entry

	file    *os.File
	offset  int64
	partial []byte
}

func newTailer(path string, interval time.Duration, handle func(line string)) *tailer {
	return &tailer{
		path:     path,
		interval: interval,
		handle:   handle,
		log:      logrus.WithField("component", "tailer"),
	}
}

// run follows the file until ctx is done
func (t *tailer) run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	f.Close()
	defer t.closeFile()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	watcher, err := t.watch()
	if err != nil {
		t.log.Warnf("Notifications unavailable, polling every %s: %s", t.interval, err)
	} else {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.log.Infof("Following %s", t.path)
	for {
		if err := t.poll(); err != nil {
			t.log.Errorf("Error reading %s: %s", t.path, err)
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				break wait
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Clean(e.Name) == filepath.Clean(t.path) {
					break wait
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				t.log.Warnf("Watcher error: %s", err)
			}
		}
	}
}

func (t *tailer) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// poll hands every complete line written since the last call to handle
func (t *tailer) poll() error {
	info, err := os.Stat(t.path)
	if os.IsNotExist(err) {
		// moved away, wait for the next file
		t.closeFile()
		return nil
	}
	if err != nil {
		return err
	}

	if t.file != nil {
		opened, err := t.file.Stat()
		if err != nil || !os.SameFile(opened, info) {
			t.log.Infof("%s was replaced, reopening", t.path)
			t.closeFile()
		}
	}
	if t.file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			return err
		}
		t.file, t.offset, t.partial = f, 0, nil
	}

	if info.Size() < t.offset {
		t.log.Infof("%s was truncated, reading from the start", t.path)
		t.offset, t.partial = 0, nil
	}
	if info.Size() == t.offset {
		return nil
	}
	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := t.file.Read(buf)
		if n > 0 {
			t.offset += int64(n)
			t.split(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// split emits the complete lines of b. A trailing fragment is kept until
// its newline arrives.
func (t *tailer) split(b []byte) {
	for {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			t.partial = append(t.partial, b...)
			if len(t.partial) > maxLineLength {
				t.emit(t.partial)
				t.partial = t.partial[:0]
			}
			return
		}
		t.emit(append(t.partial, b[:i]...))
		t.partial = t.partial[:0]
		b = b[i+1:]
	}
}

func (t *tailer) emit(line []byte) {
	if s := strings.TrimSpace(string(line)); s != "" {
		t.handle(s)
	}
}

func (t *tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
