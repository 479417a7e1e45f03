package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type prefs struct {
	AutoScroll bool `json:"auto_scroll"`
}

func defaultPrefs() prefs {
	return prefs{AutoScroll: true}
}

func prefsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "comfyui-viewer", "prefs.json"), nil
}

// loadPrefs returns the defaults when path is missing or unreadable
func loadPrefs(path string) prefs {
	p := defaultPrefs()
	b, err := os.ReadFile(path)
	if err != nil {
		return p
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return defaultPrefs()
	}
	return p
}

func (p prefs) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
