package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLauncher(t *testing.T) {
	cfg := testConfig(t)
	bc, out := testContext(t, cfg)
	bc.setOnline(false)

	ok, err := bc.launcher.start(context.Background(), Service{
		Name:    "ok",
		Command: []string{"/bin/sh", "-c", "echo hello from $HAS_INTERNET; echo oops >&2"},
		Dir:     cfg.Workspace,
	})
	require.NoError(t, err)
	bad, err := bc.launcher.start(context.Background(), Service{
		Name:    "bad",
		Command: []string{"/bin/sh", "-c", "exit 3"},
		Dir:     cfg.Workspace,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, bc.launcher.wait())
	assert.NoError(t, ok.Wait())
	assert.Error(t, bad.Wait())

	assert.Contains(t, out.Lines(), "hello from false")
	assert.Contains(t, out.Lines(), "oops")

	b, err := os.ReadFile(filepath.Join(cfg.RunDir(), "ok.pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(ok.pid), strings.TrimSpace(string(b)))
	assert.Equal(t, map[string]int{"ok": ok.pid, "bad": bad.pid}, bc.PIDs())
}

func TestLauncherTerminate(t *testing.T) {
	bc, _ := testContext(t, testConfig(t))

	c, err := bc.launcher.start(context.Background(), Service{
		Name:    "sleeper",
		Command: []string{"/bin/sh", "-c", "sleep 30"},
	})
	require.NoError(t, err)

	start := time.Now()
	bc.launcher.terminate()
	assert.Equal(t, 0, bc.launcher.wait(), "stopped children are not failures")
	assert.Error(t, c.Wait())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLauncherPrimaryExitEndsWait(t *testing.T) {
	for _, tc := range []struct {
		name   string
		script string
		failed int
	}{
		{"crash", "exit 3", 1},
		{"clean exit", "exit 0", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bc, out := testContext(t, testConfig(t))

			server, err := bc.launcher.start(context.Background(), Service{
				Name:    "manager",
				Command: []string{"/bin/sh", "-c", "sleep 30"},
			})
			require.NoError(t, err)
			_, err = bc.launcher.startPrimary(context.Background(), Service{
				Name:    "comfyui",
				Command: []string{"/bin/sh", "-c", "sleep 0.1; " + tc.script},
			})
			require.NoError(t, err)

			start := time.Now()
			assert.Equal(t, tc.failed, bc.launcher.wait())
			assert.Less(t, time.Since(start), 5*time.Second)
			assert.Error(t, server.Wait(), "the status server is stopped")
			assert.Contains(t, out.String(), "comfyui exited, stopping the remaining children")
		})
	}
}

func TestRunCommand(t *testing.T) {
	bc, out := testContext(t, testConfig(t))
	require.NoError(t, bc.run(context.Background(), "", "/bin/sh", "-c", "echo installed"))
	assert.Contains(t, out.String(), "[/bin/sh] installed")
	assert.Error(t, bc.run(context.Background(), "", "/bin/sh", "-c", "exit 1"))
	assert.Error(t, bc.run(context.Background(), ""))
}
