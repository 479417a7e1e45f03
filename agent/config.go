package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tonycerq/tonycerq-comfyui/env"
	"gopkg.in/yaml.v2"
)

const (
	EnvBootConfig      = "BOOT_CONFIG"
	EnvWorkspace       = "WORKSPACE"
	EnvLogFile         = "LOG_FILE"
	EnvModelsConfigURL = "MODELS_CONFIG_URL"
	EnvManagerAddr     = "MANAGER_ADDR"
	EnvSkipDownload    = "SKIP_MODEL_DOWNLOAD"
	EnvForceDownload   = "FORCE_MODEL_DOWNLOAD"
	EnvHasInternet     = "HAS_INTERNET"
	EnvCivitaiToken    = "CIVITAI_API_KEY"
	EnvHFToken         = "HF_TOKEN"

	DefaultBootConfig = "boot.yml"
	DefaultWorkspace  = "/workspace"
	DefaultManager    = "http://127.0.0.1:8189"
)

// duration accepts "30s" style values in the boot file
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Service is a long-running child launched by the agent
type Service struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
}

type Config struct {
	Workspace          string `yaml:"workspace"`
	LogFile            string `yaml:"logFile"`
	ModelsConfigURL    string `yaml:"modelsConfigURL"`
	ManagerAddr        string `yaml:"managerAddr"`
	SkipModelDownload  bool   `yaml:"skipModelDownload"`
	ForceModelDownload bool   `yaml:"forceModelDownload"`

	Connectivity struct {
		Targets  []string `yaml:"targets"`
		Attempts int      `yaml:"attempts"`
		Timeout  duration `yaml:"timeout"`
		Backoff  duration `yaml:"backoff"`
	} `yaml:"connectivity"`

	Fetch struct {
		Attempts int      `yaml:"attempts"`
		Delay    duration `yaml:"delay"`
		Timeout  duration `yaml:"timeout"`
	} `yaml:"fetch"`

	Repository struct {
		URL   string `yaml:"url"`
		Dir   string `yaml:"dir"`
		Baked string `yaml:"baked"`
	} `yaml:"repository"`

	ManagerConfig struct {
		Path string `yaml:"path"`
	} `yaml:"managerConfig"`

	CustomNodes []string `yaml:"customNodes"`

	Dependencies struct {
		Install []string `yaml:"install"`
		Pip     string   `yaml:"pip"`
	} `yaml:"dependencies"`

	Device struct {
		Probe    []string `yaml:"probe"`
		Reset    []string `yaml:"reset"`
		Timeout  duration `yaml:"timeout"`
		Interval duration `yaml:"interval"`
	} `yaml:"device"`

	StatusServer  *Service  `yaml:"statusServer"`
	Services      []Service `yaml:"services"`
	ShutdownGrace duration  `yaml:"shutdownGrace"`
}

func defaultConfig() *Config {
	var c Config
	c.Workspace = DefaultWorkspace
	c.ManagerAddr = DefaultManager
	c.Connectivity.Targets = []string{"https://huggingface.co", "https://github.com", "1.1.1.1:53"}
	c.Connectivity.Attempts = 3
	c.Connectivity.Timeout.Duration = 5 * time.Second
	c.Connectivity.Backoff.Duration = 2 * time.Second
	c.Fetch.Attempts = 3
	c.Fetch.Delay.Duration = 5 * time.Second
	c.Fetch.Timeout.Duration = 10 * time.Minute
	c.Repository.URL = "https://github.com/comfyanonymous/ComfyUI.git"
	c.Repository.Baked = "/opt/ComfyUI"
	c.Dependencies.Pip = "pip"
	c.Device.Probe = []string{"nvidia-smi", "-L"}
	c.Device.Timeout.Duration = 60 * time.Second
	c.Device.Interval.Duration = 2 * time.Second
	c.Services = []Service{{
		Name:    "comfyui",
		Command: []string{"python", "main.py", "--listen", "0.0.0.0", "--port", "8188"},
	}}
	c.ShutdownGrace.Duration = 10 * time.Second
	return &c
}

// loadConfig reads the boot file at path, if it exists, over the defaults
// and applies env overrides. A non-empty workspace overrides both; paths
// not set explicitly are derived from it.
func loadConfig(path, workspace string) (*Config, error) {
	c := defaultConfig()

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	c.Workspace = env.String(EnvWorkspace, c.Workspace)
	c.LogFile = env.String(EnvLogFile, c.LogFile)
	c.ModelsConfigURL = env.String(EnvModelsConfigURL, c.ModelsConfigURL)
	c.ManagerAddr = env.String(EnvManagerAddr, c.ManagerAddr)
	if env.Eval(EnvSkipDownload) {
		c.SkipModelDownload = true
	}
	if env.Eval(EnvForceDownload) {
		c.ForceModelDownload = true
	}
	if workspace != "" {
		c.Workspace = workspace
	}

	c.resolve()
	return c, c.validate()
}

// resolve fills paths that derive from the workspace
func (c *Config) resolve() {
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.Workspace, "logs", "comfyui.log")
	}
	if c.Repository.Dir == "" {
		c.Repository.Dir = filepath.Join(c.Workspace, "ComfyUI")
	}
	if c.ManagerConfig.Path == "" {
		c.ManagerConfig.Path = filepath.Join(c.Workspace, "ComfyUI-Manager", "config.ini")
	}
	for i := range c.Services {
		if c.Services[i].Dir == "" {
			c.Services[i].Dir = c.Repository.Dir
		}
	}
	if c.StatusServer != nil && c.StatusServer.Name == "" {
		c.StatusServer.Name = "manager"
	}
}

func (c *Config) validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace not set")
	}
	if c.Connectivity.Attempts < 1 || c.Fetch.Attempts < 1 {
		return fmt.Errorf("attempt counts must be positive")
	}
	for _, s := range append(c.Services, c.statusServer()...) {
		if s.Name == "" || len(s.Command) == 0 {
			return fmt.Errorf("service needs a name and a command: %+v", s)
		}
	}
	return nil
}

func (c *Config) statusServer() []Service {
	if c.StatusServer == nil {
		return nil
	}
	return []Service{*c.StatusServer}
}

func (c *Config) ManifestPath() string { return filepath.Join(c.Workspace, "models_config.json") }
func (c *Config) ModelsDir() string    { return filepath.Join(c.Repository.Dir, "models") }
func (c *Config) NodesDir() string     { return filepath.Join(c.Repository.Dir, "custom_nodes") }
func (c *Config) RunDir() string       { return filepath.Join(c.Workspace, "run") }
func (c *Config) LockPath() string     { return filepath.Join(c.Workspace, ".boot.lock") }
func (c *Config) DigestPath() string   { return filepath.Join(c.Workspace, ".deps.blake3") }
