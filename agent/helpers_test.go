package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the scanners writing concurrently
type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Lines() []string {
	return strings.Split(strings.TrimSpace(b.String()), "\n")
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Connectivity.Targets = []string{"127.0.0.1:1"}
	cfg.Connectivity.Timeout.Duration = 200 * time.Millisecond
	cfg.Connectivity.Backoff.Duration = 10 * time.Millisecond
	cfg.Fetch.Delay.Duration = 10 * time.Millisecond
	cfg.Fetch.Timeout.Duration = time.Second
	cfg.Repository.URL = ""
	cfg.Repository.Baked = filepath.Join(cfg.Workspace, "baked")
	cfg.Device.Timeout.Duration = 50 * time.Millisecond
	cfg.Device.Interval.Duration = 10 * time.Millisecond
	cfg.Services = nil
	cfg.ShutdownGrace.Duration = time.Second
	cfg.resolve()
	return cfg
}

func testContext(t *testing.T, cfg *Config) (*bootContext, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	bc := newBootContext(cfg, newLogWriter(out))
	t.Cleanup(bc.close)
	return bc, out
}
