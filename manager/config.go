package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tonycerq/tonycerq-comfyui/env"
)

const (
	EnvWorkspace    = "WORKSPACE"
	EnvComfyDir     = "COMFYUI_DIR"
	EnvLogFile      = "LOG_FILE"
	EnvBindAddr     = "BIND_ADDR"
	EnvLines        = "LOG_LINES"
	EnvMQTTBroker   = "MQTT_BROKER"
	EnvMQTTPrefix   = "MQTT_PREFIX"
	EnvPodID        = "RUNPOD_POD_ID"
	EnvCivitaiToken = "CIVITAI_API_KEY"
	EnvHFToken      = "HF_TOKEN"

	DefaultWorkspace  = "/workspace"
	DefaultBindAddr   = ":8189"
	DefaultLines      = 500
	DefaultMQTTPrefix = "comfyui"

	// ports advertised on the index
	appPort     = 8188
	jupyterPort = 8888

	downloadConcurrency = 5
)

type config struct {
	Workspace    string
	ComfyDir     string
	LogFile      string
	BindAddr     string
	Lines        int
	PollInterval time.Duration
	MQTTBroker   string
	MQTTPrefix   string
	PodID        string
}

func loadConfig() (*config, error) {
	c := &config{
		Workspace:    env.String(EnvWorkspace, DefaultWorkspace),
		BindAddr:     env.String(EnvBindAddr, DefaultBindAddr),
		Lines:        env.Int(EnvLines, DefaultLines),
		PollInterval: env.Duration("LOG_POLL_INTERVAL", time.Second),
		MQTTBroker:   env.String(EnvMQTTBroker, ""),
		MQTTPrefix:   env.String(EnvMQTTPrefix, DefaultMQTTPrefix),
		PodID:        env.String(EnvPodID, ""),
	}
	c.ComfyDir = env.String(EnvComfyDir, filepath.Join(c.Workspace, "ComfyUI"))
	c.LogFile = env.String(EnvLogFile, filepath.Join(c.Workspace, "logs", "comfyui.log"))

	if c.Lines < 1 {
		return nil, fmt.Errorf("%s must be positive", EnvLines)
	}
	if c.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	return c, nil
}

func (c *config) ManifestPath() string {
	return filepath.Join(c.Workspace, "models_config.json")
}

func (c *config) OutputDir() string {
	return filepath.Join(c.ComfyDir, "output")
}

func (c *config) NodesDir() string {
	return filepath.Join(c.ComfyDir, "custom_nodes")
}
