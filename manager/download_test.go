package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonycerq/tonycerq-comfyui/manager/source"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

func waitTerminal(t *testing.T, m *manager, id string) model.Job {
	var job model.Job
	require.Eventually(t, func() bool {
		job, _ = m.jobs.Get(id)
		return job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestExecutorBatchLimit(t *testing.T) {
	var running, peak int32
	m := testManager(t, func(context.Context, []string) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	var urls []string
	for i := 0; i < 12; i++ {
		urls = append(urls, "https://example.com/"+randomdata.SillyName()+".safetensors")
	}
	job, err := m.executor.Submit(model.SourceDirect, source.Request{URLs: urls, ModelType: "checkpoints"})
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.State)

	job = waitTerminal(t, m, job.ID)
	assert.Equal(t, model.JobSucceeded, job.State)
	assert.Empty(t, job.Detail)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(downloadConcurrency))
	assert.DirExists(t, source.ModelDir(m.conf.ComfyDir, "checkpoints"))
}

func TestExecutorFailure(t *testing.T) {
	m := testManager(t, func(_ context.Context, argv []string) error {
		if strings.Contains(strings.Join(argv, " "), "broken") {
			return errors.New("exit status 3")
		}
		return nil
	})

	job, err := m.executor.Submit(model.SourceHuggingFace, source.Request{URLs: []string{
		"https://huggingface.co/org/repo/resolve/main/fine.safetensors",
		"https://huggingface.co/org/repo/resolve/main/broken.safetensors",
	}})
	require.NoError(t, err)

	job = waitTerminal(t, m, job.ID)
	assert.Equal(t, model.JobFailed, job.State)
	assert.Contains(t, job.Detail, "broken.safetensors: exit status 3")
	assert.NotContains(t, job.Detail, "fine.safetensors")
}

func TestExecutorStates(t *testing.T) {
	m := testManager(t, func(context.Context, []string) error { return nil })

	var mutex sync.Mutex
	var states []model.JobState
	sub := m.events.Subscribe()
	defer sub.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.Events() {
			if c, ok := e.(model.JobStatusChanged); ok {
				mutex.Lock()
				states = append(states, c.Job.State)
				terminal := c.Job.State.Terminal()
				mutex.Unlock()
				if terminal {
					return
				}
			}
		}
	}()

	_, err := m.executor.Submit(model.SourceGDrive, source.Request{URL: "https://drive.google.com/uc?id=abc"})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal state published")
	}

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, []model.JobState{model.JobPending, model.JobDownloading, model.JobSucceeded}, states)
}

func TestRunCommand(t *testing.T) {
	require.NoError(t, runCommand(context.Background(), []string{"sh", "-c", "echo downloading; echo done >&2"}))

	err := runCommand(context.Background(), []string{"sh", "-c", "echo 'errorCode=3 Resource not found'; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "Resource not found")
}
