package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tonycerq/tonycerq-comfyui/manager/jobs"
	"github.com/tonycerq/tonycerq-comfyui/manager/source"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

// commandRunner runs argv to completion
type commandRunner func(ctx context.Context, argv []string) error

// runCommand executes a download tool. Its output is logged line by line
// and the last lines are kept for the error.
func runCommand(ctx context.Context, argv []string) error {
	log := logrus.WithField("component", argv[0])
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	r, w := io.Pipe()
	cmd.Stdout, cmd.Stderr = w, w

	var tail []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			log.Infoln(line)
			if tail = append(tail, line); len(tail) > 3 {
				tail = tail[1:]
			}
		}
		io.Copy(io.Discard, r)
	}()

	err := cmd.Run()
	w.Close()
	<-done
	if err != nil {
		if len(tail) > 0 {
			return fmt.Errorf("%s: %s", err, strings.Join(tail, "; "))
		}
		return err
	}
	return nil
}

// executor runs accepted download jobs in the background, reporting
// their progress to the registry
type executor struct {
	ctx   context.Context
	jobs  *jobs.Registry
	root  string
	run   commandRunner
	limit int
	key   func(model.JobSource) string

	wg sync.WaitGroup
}

// newExecutor returns an executor whose jobs are cancelled with ctx
func newExecutor(ctx context.Context, registry *jobs.Registry, root string, run commandRunner) *executor {
	return &executor{
		ctx:   ctx,
		jobs:  registry,
		root:  root,
		run:   run,
		limit: downloadConcurrency,
		key:   apiKeyFromEnv,
	}
}

// Submit registers a job for the request and starts it. It fails with
// jobs.ErrSourceBusy while the previous job of src is in flight.
func (e *executor) Submit(src model.JobSource, req source.Request) (model.Job, error) {
	job, err := e.jobs.Submit(src)
	if err != nil {
		return job, err
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = e.key(src)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.ctx, job, src, req.Batch(), apiKey)
	}()
	return job, nil
}

func (e *executor) execute(ctx context.Context, job model.Job, src model.JobSource, items []source.Item, apiKey string) {
	log := logrus.WithField("component", "executor")
	e.jobs.Transition(job.ID, model.JobDownloading, "")
	log.Infof("%s job %s: downloading %d file(s)", src, job.ID, len(items))

	var (
		g      errgroup.Group
		mutex  sync.Mutex
		failed []string
	)
	fail := func(item source.Item, err error) {
		mutex.Lock()
		defer mutex.Unlock()
		failed = append(failed, fmt.Sprintf("%s: %s", item.URL, err))
	}

	g.SetLimit(e.limit)
	for _, item := range items {
		item := item
		argv, err := source.Command(src, item, apiKey, e.root)
		if err != nil {
			fail(item, err)
			continue
		}
		g.Go(func() error {
			if err := os.MkdirAll(source.ModelDir(e.root, item.ModelType), 0755); err != nil {
				fail(item, err)
				return nil
			}
			if err := e.run(ctx, argv); err != nil {
				fail(item, err)
			}
			return nil
		})
	}
	g.Wait()

	if len(failed) > 0 {
		e.jobs.Transition(job.ID, model.JobFailed, strings.Join(failed, "\n"))
		return
	}
	e.jobs.Transition(job.ID, model.JobSucceeded, "")
	log.Infof("%s job %s: %d file(s) downloaded", src, job.ID, len(items))
}

// wait blocks until every started job has finished
func (e *executor) wait() {
	e.wg.Wait()
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
