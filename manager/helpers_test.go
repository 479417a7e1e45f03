package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

func testConfig(t *testing.T) *config {
	workspace := t.TempDir()
	return &config{
		Workspace:    workspace,
		ComfyDir:     filepath.Join(workspace, "ComfyUI"),
		LogFile:      filepath.Join(workspace, "logs", "comfyui.log"),
		BindAddr:     "127.0.0.1:0",
		Lines:        DefaultLines,
		PollInterval: 20 * time.Millisecond,
		MQTTPrefix:   DefaultMQTTPrefix,
	}
}

// testManager returns a manager whose downloads call run instead of the
// real download tools
func testManager(t *testing.T, run commandRunner) *manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := newManager(ctx, testConfig(t))
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	if run != nil {
		m.executor.run = run
	}
	m.executor.key = func(model.JobSource) string { return "" }
	t.Cleanup(func() {
		cancel()
		m.close()
	})
	return m
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func appendFile(t *testing.T, path, content string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}
