package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallDependencies(t *testing.T) {
	cfg := testConfig(t)
	counter := filepath.Join(cfg.Workspace, "runs")
	cfg.Dependencies.Install = []string{"echo run >> " + counter}
	cfg.Dependencies.Pip = "echo"

	repoReq := filepath.Join(cfg.Repository.Dir, "requirements.txt")
	nodeReq := filepath.Join(cfg.NodesDir(), "some-node", "requirements.txt")
	for _, f := range []string{repoReq, nodeReq} {
		require.NoError(t, os.MkdirAll(filepath.Dir(f), 0755))
		require.NoError(t, os.WriteFile(f, []byte("torch\n"), 0644))
	}

	bc, out := testContext(t, cfg)
	bc.setOnline(true)
	ctx := context.Background()

	runs := func() int {
		b, err := os.ReadFile(counter)
		if os.IsNotExist(err) {
			return 0
		}
		require.NoError(t, err)
		return strings.Count(string(b), "run")
	}

	require.NoError(t, installDependencies(ctx, bc))
	assert.Equal(t, 1, runs())
	assert.Contains(t, out.String(), "install --no-cache-dir -r "+repoReq)
	assert.Contains(t, out.String(), "install --no-cache-dir -r "+nodeReq)
	assert.FileExists(t, cfg.DigestPath())

	err := installDependencies(ctx, bc)
	assert.ErrorIs(t, err, errSkipped, "unchanged requirements are not installed again")
	assert.Equal(t, 1, runs())

	require.NoError(t, os.WriteFile(nodeReq, []byte("torch\nnumpy\n"), 0644))
	require.NoError(t, installDependencies(ctx, bc))
	assert.Equal(t, 2, runs())
}

func TestInstallDependenciesOffline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dependencies.Install = []string{"true"}
	bc, _ := testContext(t, cfg)
	bc.setOnline(false)

	assert.ErrorIs(t, installDependencies(context.Background(), bc), errSkipped)
	assert.NoFileExists(t, cfg.DigestPath())
}

func TestInstallDependenciesFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dependencies.Install = []string{"exit 3"}
	require.NoError(t, os.MkdirAll(cfg.Repository.Dir, 0755))
	bc, _ := testContext(t, cfg)
	bc.setOnline(true)

	err := installDependencies(context.Background(), bc)
	var d degradedError
	assert.ErrorAs(t, err, &d)
	assert.NoFileExists(t, cfg.DigestPath(), "a failed install is retried on the next boot")
}
