package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tonycerq/tonycerq-comfyui/manager/source"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

func loadManifest(path string) (model.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return model.ParseManifest(b)
}

// installedArtifacts collects the file names found anywhere under modelsDir
func installedArtifacts(modelsDir string) (map[string]bool, error) {
	names := make(map[string]bool)
	err := filepath.WalkDir(modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == modelsDir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			names[d.Name()] = true
		}
		return nil
	})
	return names, err
}

// missingArtifacts groups the manifest entries not found on disk by source.
// With force, every entry counts as missing. Each item is saved under the
// name it is looked up by. Categories leaving the models directory are
// ignored.
func missingArtifacts(m model.Manifest, modelsDir string, force bool) (map[model.JobSource][]source.Item, error) {
	installed, err := installedArtifacts(modelsDir)
	if err != nil {
		return nil, err
	}
	missing := make(map[model.JobSource][]source.Item)
	for _, category := range m.Categories() {
		if source.CheckPath(category) != nil {
			continue
		}
		for _, u := range m[category] {
			name := model.ArtifactName(u)
			if name == "" || source.CheckPath(name) != nil {
				continue
			}
			if installed[name] && !force {
				continue
			}
			src := source.Classify(u)
			missing[src] = append(missing[src], source.Item{URL: u, ModelType: category, Filename: name})
		}
	}
	return missing, nil
}

// jobSubmitter hands download batches to the status server
type jobSubmitter struct {
	addr   string
	client *http.Client
	apiKey func(model.JobSource) string
}

// submit posts one batch. A 409 means a job for the source is still running.
func (s jobSubmitter) submit(ctx context.Context, src model.JobSource, items []source.Item) error {
	b, err := json.Marshal(source.Request{Items: items, APIKey: s.apiKey(src)})
	if err != nil {
		return err
	}
	endpoint := strings.TrimSuffix(s.addr, "/") + "/download/" + string(src)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusNoContent, http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%s job already in progress", src)
	}
	return fmt.Errorf("%s rejected: %s", endpoint, res.Status)
}

func apiKeyFromEnv(src model.JobSource) string {
	switch src {
	case model.SourceCivitai:
		return os.Getenv(EnvCivitaiToken)
	case model.SourceHuggingFace:
		return os.Getenv(EnvHFToken)
	}
	return ""
}

func syncJobs(ctx context.Context, bc *bootContext) error {
	switch {
	case bc.cfg.SkipModelDownload:
		return skip("%s is set", EnvSkipDownload)
	case !bc.Online():
		return skip("offline")
	case bc.cfg.ManagerAddr == "":
		return skip("no status server address")
	}

	m, err := loadManifest(bc.cfg.ManifestPath())
	if err != nil {
		return degraded("error reading manifest: %s", err)
	}
	missing, err := missingArtifacts(m, bc.cfg.ModelsDir(), bc.cfg.ForceModelDownload)
	if err != nil {
		return degraded("error listing models: %s", err)
	}
	if len(missing) == 0 {
		return skip("all %d artifacts present", m.Total())
	}

	sources := make([]string, 0, len(missing))
	for src := range missing {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)

	s := jobSubmitter{
		addr:   bc.cfg.ManagerAddr,
		client: &http.Client{Timeout: 30 * time.Second},
		apiKey: apiKeyFromEnv,
	}
	log := bc.stage("jobs")
	var failed []string
	for _, name := range sources {
		src := model.JobSource(name)
		if err := s.submit(ctx, src, missing[src]); err != nil {
			log.Warnf("Error submitting %s job: %s", src, err)
			failed = append(failed, name)
			continue
		}
		log.Infof("Submitted %d %s downloads", len(missing[src]), src)
	}
	if len(failed) > 0 {
		return degraded("jobs not submitted for %s", strings.Join(failed, ", "))
	}
	return nil
}
