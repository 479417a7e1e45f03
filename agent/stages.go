package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"gopkg.in/ini.v1"

	"github.com/tonycerq/tonycerq-comfyui/manager/source"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

// bootStages is the fixed boot pipeline
func bootStages() []stage {
	return []stage{
		{name: "connectivity", reaches: ConnectivityChecked, run: checkConnectivity},
		{name: "config", reaches: ConfigReady, run: ensureConfig},
		{name: "repository", reaches: RepoReady, required: true, run: ensureRepository},
		{name: "structure", reaches: StructureReady, required: true, run: ensureStructure},
		{name: "dependencies", reaches: DependenciesInstalled, run: installDependencies},
		{name: "device", reaches: DeviceChecked, run: checkDevice},
		{name: "jobs", reaches: JobsSynced, run: syncJobs},
		{name: "services", reaches: ServicesStarted, required: true, run: startServices},
	}
}

func (bc *bootContext) materializer(stage string) *materializer {
	return &materializer{
		online:   bc.Online,
		attempts: bc.cfg.Fetch.Attempts,
		delay:    bc.cfg.Fetch.Delay.Duration,
		timeout:  bc.cfg.Fetch.Timeout.Duration,
		log:      bc.stage(stage),
	}
}

func checkConnectivity(ctx context.Context, bc *bootContext) error {
	c := bc.cfg.Connectivity
	p := &prober{backoff: c.Backoff.Duration, log: bc.stage("connectivity")}
	bc.setOnline(p.Check(ctx, c.Targets, c.Attempts, c.Timeout.Duration))

	log := bc.stage("connectivity")
	if bc.Online() {
		log.Infof("Online, %s=true", EnvHasInternet)
	} else {
		log.Warnf("No target reachable in %d attempts, running offline with %s=false", c.Attempts, EnvHasInternet)
	}
	return nil
}

func ensureConfig(ctx context.Context, bc *bootContext) error {
	m := bc.materializer("config")
	log := bc.stage("config")

	defaultManifest, err := model.DefaultManifest().Marshal()
	if err != nil {
		return err
	}
	manifest := Descriptor{
		Name:    "models manifest",
		Target:  bc.cfg.ManifestPath(),
		Default: writeContent(defaultManifest),
	}
	if bc.cfg.ModelsConfigURL != "" {
		manifest.Source = httpFetcher{url: bc.cfg.ModelsConfigURL, log: log}
	}
	status, err := m.Ensure(ctx, manifest)
	if err != nil {
		return degraded("%s", err)
	}
	log.Infof("%s %s", manifest.Name, status)
	var warn error
	if status == CreatedFromDefault {
		warn = degraded("%s written from default to %s", manifest.Name, manifest.Target)
	}
	if _, err := loadManifest(bc.cfg.ManifestPath()); err != nil {
		warn = degraded("%s is illegible, no artifacts will be synced: %s", manifest.Name, err)
	}

	managerConfig := Descriptor{
		Name:    "manager configuration",
		Target:  bc.cfg.ManagerConfig.Path,
		Default: writeContent(managerConfigContent(bc.Online())),
	}
	status, err = m.Ensure(ctx, managerConfig)
	if err != nil {
		return degraded("%s", err)
	}
	log.Infof("%s %s", managerConfig.Name, status)
	return warn
}

func managerConfigContent(online bool) []byte {
	mode := "public"
	if !online {
		mode = "offline"
	}
	f := ini.Empty()
	sec := f.Section("default")
	sec.Key("security_level").SetValue("normal")
	sec.Key("network_mode").SetValue(mode)
	sec.Key("file_logging").SetValue("False")

	var buf bytes.Buffer
	f.WriteTo(&buf)
	return buf.Bytes()
}

func ensureRepository(ctx context.Context, bc *bootContext) error {
	repo := Descriptor{
		Name:     "application repository",
		Target:   bc.cfg.Repository.Dir,
		Sentinel: "main.py",
		Required: true,
	}
	if bc.cfg.Repository.URL != "" {
		repo.Source = gitFetcher{url: bc.cfg.Repository.URL, run: bc.run}
	}
	if bc.cfg.Repository.Baked != "" {
		repo.Default = copyTree(bc.cfg.Repository.Baked)
	}
	status, err := bc.materializer("repository").Ensure(ctx, repo)
	if err != nil {
		return err
	}
	bc.stage("repository").Infof("%s %s at %s", repo.Name, status, repo.Target)
	return nil
}

func ensureStructure(ctx context.Context, bc *bootContext) error {
	categories := append([]string{}, model.DefaultCategories...)
	if m, err := loadManifest(bc.cfg.ManifestPath()); err == nil {
		categories = append(categories, m.Categories()...)
	}
	dirs := []string{
		filepath.Join(bc.cfg.Repository.Dir, "input"),
		filepath.Join(bc.cfg.Repository.Dir, "output"),
		bc.cfg.NodesDir(),
	}
	for _, c := range categories {
		if err := source.CheckPath(c); err != nil {
			bc.stage("structure").Warnf("Ignoring model category: %s", err)
			continue
		}
		dirs = append(dirs, filepath.Join(bc.cfg.ModelsDir(), c))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating %s: %w", dir, err)
		}
	}
	return syncNodes(ctx, bc)
}

func checkDevice(ctx context.Context, bc *bootContext) error {
	log := bc.stage("device")
	logHardware(log)

	d := bc.cfg.Device
	if !bc.device.WaitReady(ctx, d.Timeout.Duration, d.Interval.Duration) {
		return degraded("accelerator not ready after %s", units.HumanDuration(d.Timeout.Duration))
	}
	log.Infoln("Accelerator ready")
	return nil
}

func startServices(ctx context.Context, bc *bootContext) error {
	for _, svc := range bc.cfg.Services {
		if _, err := bc.launcher.startPrimary(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}
