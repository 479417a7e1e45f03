package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tonycerq/tonycerq-comfyui/buffer"
	"github.com/tonycerq/tonycerq-comfyui/manager/events"
	"github.com/tonycerq/tonycerq-comfyui/manager/jobs"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

type manager struct {
	conf *config

	// lines keeps the tail of the aggregate log for /logs
	lines  *buffer.Buffer
	jobs   *jobs.Registry
	events *events.Broadcaster

	executor *executor

	mutex sync.Mutex
	seq   uint64
	now   func() time.Time
}

// newManager wires the log buffer, the job registry and the broadcaster.
// Downloads started by the manager are cancelled with ctx.
func newManager(ctx context.Context, conf *config) *manager {
	m := &manager{
		conf:   conf,
		lines:  buffer.NewBuffer(conf.Lines),
		events: events.New(events.DefaultBuffer),
		now:    time.Now,
	}
	m.jobs = jobs.New(func(job model.Job) {
		logrus.Infof("jobs: %s job %s is %s %s", job.Source, job.ID, job.State, job.Detail)
		m.events.Publish(model.JobStatusChanged{Job: job})
	})
	m.executor = newExecutor(ctx, m.jobs, conf.ComfyDir, runCommand)
	return m
}

// appendLine numbers a new line of the aggregate log, stores it and
// publishes it to the subscribers
func (m *manager) appendLine(raw string) model.LogLine {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.seq++
	line := model.ParseLogLine(raw, m.now())
	line.Seq = m.seq
	m.lines.Insert(line)
	m.events.Publish(model.LogLineAppended{Line: line})
	return line
}

// lastSeq is the sequence number of the newest line, zero before the first
func (m *manager) lastSeq() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.seq
}

func (m *manager) close() {
	m.executor.wait()
	m.events.Close()
}
