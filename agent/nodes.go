package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// nodeName is the directory a custom node repository is cloned into
func nodeName(repoURL string) string {
	return strings.TrimSuffix(filepath.Base(strings.TrimSuffix(repoURL, "/")), ".git")
}

// syncNodes clones configured custom nodes that are missing their .git
// marker. Clone failures degrade the stage.
func syncNodes(ctx context.Context, bc *bootContext) error {
	m := bc.materializer("structure")
	var failed []string
	for _, url := range bc.cfg.CustomNodes {
		node := Descriptor{
			Name:     "custom node " + nodeName(url),
			Target:   filepath.Join(bc.cfg.NodesDir(), nodeName(url)),
			Sentinel: ".git",
			Source:   gitFetcher{url: url, run: bc.run},
		}
		status, err := m.Ensure(ctx, node)
		if err != nil {
			bc.stage("structure").Warnf("%s: %s", node.Name, err)
			failed = append(failed, nodeName(url))
			continue
		}
		bc.stage("structure").Debugf("%s %s", node.Name, status)
	}
	if len(failed) > 0 {
		return degraded("%d of %d custom nodes unavailable: %s", len(failed), len(bc.cfg.CustomNodes), strings.Join(failed, ", "))
	}
	return nil
}

// installedNodes lists node directories holding a requirements file
func installedNodes(nodesDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(nodesDir, "*", "requirements.txt"))
	if err != nil {
		return nil, fmt.Errorf("error listing custom nodes: %w", err)
	}
	return matches, nil
}
