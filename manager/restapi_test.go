package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

func serveRequest(t *testing.T, m *manager, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	newRESTAPI(m).handler().ServeHTTP(rec, req)
	return rec
}

func TestGetLogs(t *testing.T) {
	m := testManager(t, nil)
	m.appendLine("[2024-05-01 11:59:00] Starting server")
	m.appendLine("[2024-05-01 11:59:01] Error loading node <x>")
	m.appendLine("[2024-05-01 11:59:01] Error loading node <x>")

	rec := serveRequest(t, m, http.MethodGet, "/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Lines, 3)
	assert.EqualValues(t, 3, res.Last)
	assert.Equal(t, model.LevelError, res.Lines[1].Level)
	assert.Contains(t, res.Logs, "Dashboard - Last 3 lines")
	assert.Contains(t, res.Logs, "Error loading node &lt;x&gt;")
	assert.Equal(t, 1, strings.Count(res.Logs, "Error loading node"), "consecutive repeats are rendered once")
	assert.Empty(t, res.Jobs)

	rec = serveRequest(t, m, http.MethodGet, "/logs?since=2", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Lines, 1)
	assert.EqualValues(t, 3, res.Lines[0].Seq)

	rec = serveRequest(t, m, http.MethodGet, "/logs?since=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLogsEmpty(t *testing.T) {
	m := testManager(t, nil)
	rec := serveRequest(t, m, http.MethodGet, "/logs", "")

	var res model.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Logs, "No logs yet.")
	assert.EqualValues(t, 0, res.Last)
}

func TestDownload(t *testing.T) {
	release := make(chan struct{})
	var mutex sync.Mutex
	var commands [][]string
	m := testManager(t, func(ctx context.Context, argv []string) error {
		mutex.Lock()
		commands = append(commands, argv)
		mutex.Unlock()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	rec := serveRequest(t, m, http.MethodPost, "/download/civitai", `{"url": "https://civitai.com/api/download/models/1", "api_key": "k"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "/api/jobs/"))

	rec = serveRequest(t, m, http.MethodPost, "/download/civitai", `{"url": "https://civitai.com/api/download/models/2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "source busy")

	rec = serveRequest(t, m, http.MethodPost, "/download/googledrive", `{"url": "https://drive.google.com/file/d/abc/view", "filename": "x.safetensors"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code, "other sources are independent")

	close(release)
	require.Eventually(t, func() bool {
		for _, job := range m.jobs.Snapshot() {
			if !job.State.Terminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	rec = serveRequest(t, m, http.MethodGet, location, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.SourceCivitai, job.Source)
	assert.Equal(t, model.JobSucceeded, job.State)

	rec = serveRequest(t, m, http.MethodPost, "/download/civitai", `{"url": "https://civitai.com/api/download/models/2"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code, "accepted again once the job finished")

	mutex.Lock()
	defer mutex.Unlock()
	require.NotEmpty(t, commands)
	assert.Equal(t, "aria2c", commands[0][0])
	assert.Contains(t, commands[0], "https://civitai.com/api/download/models/1?token=k")
	assert.Contains(t, commands[0], filepath.Join(m.conf.ComfyDir, "models", "loras"))
}

func TestDownloadInvalid(t *testing.T) {
	m := testManager(t, func(context.Context, []string) error { return nil })

	cases := map[string]struct {
		target, body string
	}{
		"unknown source":  {"/download/dropbox", `{"url": "https://x/y"}`},
		"malformed body":  {"/download/direct", `{"url": `},
		"missing url":     {"/download/direct", `{}`},
		"escaping path":   {"/download/direct", `{"url": "https://x/y", "model_type": "../../etc"}`},
		"nested filename": {"/download/direct", `{"url": "https://x/y", "filename": "a/b"}`},
	}
	for name, c := range cases {
		rec := serveRequest(t, m, http.MethodPost, c.target, c.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Contains(t, rec.Body.String(), `"error"`, name)
	}
	assert.Empty(t, m.jobs.Snapshot())
}

func TestGetJobNotFound(t *testing.T) {
	m := testManager(t, nil)
	rec := serveRequest(t, m, http.MethodGet, "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveRequest(t, m, http.MethodGet, "/api/jobs", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestIndex(t *testing.T) {
	m := testManager(t, nil)
	writeFile(t, m.conf.ManifestPath(), `{"checkpoints": ["https://host/a.safetensors", "https://host/b.safetensors"], "vae": []}`)
	m.appendLine("first")
	m.appendLine("second")

	req := httptest.NewRequest(http.MethodGet, "http://pod.local:8189/", nil)
	rec := httptest.NewRecorder()
	newRESTAPI(m).handler().ServeHTTP(rec, req)

	var info serverInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "http://pod.local:8188", info.ProxyURL)
	assert.Equal(t, "http://pod.local:8888", info.JupyterURL)
	assert.False(t, info.IsRunPod)
	assert.Equal(t, 2, info.TotalModels)
	assert.Equal(t, 2, info.Buffered)
	assert.EqualValues(t, 2, info.LastLine)

	m.conf.PodID = "abc123"
	rec = serveRequest(t, m, http.MethodGet, "/", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.IsRunPod)
	assert.Equal(t, "https://abc123-8188.proxy.runpod.net", info.ProxyURL)
}

func TestDownloadOutputs(t *testing.T) {
	m := testManager(t, nil)
	writeFile(t, filepath.Join(m.conf.OutputDir(), "ComfyUI_00001_.png"), "png")
	writeFile(t, filepath.Join(m.conf.OutputDir(), "batch", "ComfyUI_00002_.png"), "png")

	rec := serveRequest(t, m, http.MethodGet, "/download/outputs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "comfyui_outputs_20240501_120000.zip")

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	assert.ElementsMatch(t, []string{"ComfyUI_00001_.png", "batch/ComfyUI_00002_.png"}, names)
}

func TestHealthAndRecovery(t *testing.T) {
	m := testManager(t, nil)
	rec := serveRequest(t, m, http.MethodGet, "/health", "")
	assert.Equal(t, "OK!", rec.Body.String())

	rec = httptest.NewRecorder()
	recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "handler bug"}`, rec.Body.String())
}
