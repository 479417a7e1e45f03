package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

const (
	fieldStage = "stage"
	// fatalLevel lines are written without exiting
	fatalLevel = logrus.FatalLevel
)

// lineFormatter writes "[YYYY-MM-DD HH:MM:SS] LEVEL stage: message" so that
// boot lines parse like application lines in the status server
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] %s ", e.Time.Format(model.TimeLayout), levelName(e.Level))
	if stage, ok := e.Data[fieldStage]; ok {
		fmt.Fprintf(&b, "%v: ", stage)
	}
	b.WriteString(strings.TrimRight(e.Message, "\n"))
	for k, v := range e.Data {
		if k != fieldStage {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	if l == logrus.WarnLevel {
		return "WARNING"
	}
	return strings.ToUpper(l.String())
}

// logWriter serializes writes from the logger and child scanners to
// stdout and, once opened, the aggregate log
type logWriter struct {
	mutex  sync.Mutex
	stdout io.Writer
	file   *os.File
}

func newLogWriter(stdout io.Writer) *logWriter {
	return &logWriter{stdout: stdout}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file != nil {
		if _, err := w.file.Write(p); err != nil {
			fmt.Fprintf(w.stdout, "logger: error writing log file: %s\n", err)
		}
	}
	return w.stdout.Write(p)
}

// writeLine appends a raw child output line
func (w *logWriter) writeLine(line string) {
	w.Write([]byte(line + "\n"))
}

// open starts appending to the aggregate log at path
func (w *logWriter) open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	w.mutex.Lock()
	w.file = f
	w.mutex.Unlock()
	return nil
}

func (w *logWriter) close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(lineFormatter{})
	return l
}

// dedupeLog drops every line of the file at path that exactly repeats an
// earlier line. The file is replaced atomically. A missing file is not an error.
func dedupeLog(path string) (removed int, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return 0, fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	removed, err = dedupeLines(f, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("error replacing log file: %w", err)
	}
	return removed, nil
}

// dedupeLines copies r to w keeping only the first occurrence of each line
func dedupeLines(r io.Reader, w io.Writer) (removed int, err error) {
	seen := make(map[string]struct{})
	out := bufio.NewWriter(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if _, ok := seen[line]; ok {
			removed++
			continue
		}
		seen[line] = struct{}{}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error reading log: %w", err)
	}
	return removed, out.Flush()
}
