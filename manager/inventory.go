package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

type modelInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	URL       string `json:"url"`
	Installed bool   `json:"installed"`
}

type nodeInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`
}

// installedModels lists the manifest entries per category, sorted by name.
// Empty categories are left out.
func installedModels(conf *config) (map[string][]modelInfo, error) {
	b, err := os.ReadFile(conf.ManifestPath())
	if os.IsNotExist(err) {
		return map[string][]modelInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	manifest, err := model.ParseManifest(b)
	if err != nil {
		return nil, err
	}

	models := make(map[string][]modelInfo)
	for _, category := range manifest.Categories() {
		var infos []modelInfo
		for _, u := range manifest[category] {
			name := model.ArtifactName(u)
			if name == "" {
				continue
			}
			path := filepath.Join(conf.ComfyDir, "models", category, name)
			_, err := os.Stat(path)
			infos = append(infos, modelInfo{Name: name, Path: path, URL: u, Installed: err == nil})
		}
		if len(infos) == 0 {
			continue
		}
		sort.Slice(infos, func(i, j int) bool {
			return strings.ToLower(infos[i].Name) < strings.ToLower(infos[j].Name)
		})
		models[category] = infos
	}
	return models, nil
}

func countModels(models map[string][]modelInfo) (total int) {
	for _, infos := range models {
		total += len(infos)
	}
	return total
}

// installedNodes lists the directories under custom_nodes, with the origin
// of those that are git checkouts
func installedNodes(conf *config) ([]nodeInfo, error) {
	entries, err := os.ReadDir(conf.NodesDir())
	if os.IsNotExist(err) {
		return []nodeInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	nodes := []nodeInfo{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Name() == "__pycache__" {
			continue
		}
		path := filepath.Join(conf.NodesDir(), e.Name())
		nodes = append(nodes, nodeInfo{
			Name:    e.Name(),
			Path:    path,
			Version: "Installed",
			URL:     gitOrigin(path),
		})
	}
	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	return nodes, nil
}

// gitOrigin reads the url of the origin remote from a checkout's config
func gitOrigin(dir string) string {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, filepath.Join(dir, ".git", "config"))
	if err != nil {
		return ""
	}
	sec, err := cfg.GetSection(`remote "origin"`)
	if err != nil {
		return ""
	}
	return sec.Key("url").String()
}
