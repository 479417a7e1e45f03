package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

const (
	DefaultMaxAttempts  = 5
	DefaultBaseBackoff  = time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

type connState int

const (
	Disconnected connState = iota
	Connecting
	Connected
	Polling
)

func (s connState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "live"
	case Polling:
		return "polling"
	}
	return fmt.Sprintf("connState(%d)", int(s))
}

// status is what the UI shows about the connection
type status struct {
	State       connState
	Attempt     int
	MaxAttempts int
	Err         error
}

func (s status) String() string {
	switch {
	case (s.State == Disconnected || s.State == Connecting) && s.Attempt > 0:
		return fmt.Sprintf("reconnecting %d/%d", s.Attempt, s.MaxAttempts)
	case s.State == Polling && s.Err != nil:
		return "polling (server unreachable)"
	}
	return s.State.String()
}

// client keeps a viewer fed with events. It holds a websocket subscription
// and reconnects with exponential backoff when it drops. After MaxAttempts
// consecutive failures it polls the snapshot endpoint for good.
type client struct {
	base         string
	http         *http.Client
	dial         func(ctx context.Context) (eventSource, error)
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	pollInterval time.Duration

	handle   func(model.Event)
	onStatus func(status)

	mutex sync.Mutex
	state connState
	// what has been seen so far, so that polling picks up from there
	since uint64
	jobs  map[string]model.JobState
}

func newClient(base string, handle func(model.Event), onStatus func(status)) *client {
	c := &client{
		base:         base,
		http:         &http.Client{Timeout: 10 * time.Second},
		maxAttempts:  DefaultMaxAttempts,
		baseBackoff:  DefaultBaseBackoff,
		maxBackoff:   DefaultMaxBackoff,
		pollInterval: DefaultPollInterval,
		handle:       handle,
		onStatus:     onStatus,
		jobs:         make(map[string]model.JobState),
	}
	c.dial = func(ctx context.Context) (eventSource, error) {
		return dialPush(ctx, c.base)
	}
	return c
}

// State is the current connection state
func (c *client) State() connState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

func (c *client) setStatus(s status) {
	s.MaxAttempts = c.maxAttempts
	c.mutex.Lock()
	c.state = s.State
	c.mutex.Unlock()
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *client) deliver(e model.Event) {
	switch e := e.(type) {
	case model.LogLineAppended:
		if e.Line.Seq > c.since {
			c.since = e.Line.Seq
		}
	case model.JobStatusChanged:
		c.jobs[e.Job.ID] = e.Job.State
	}
	c.handle(e)
}

// loadSnapshot renders the current log once before subscribing. Failures
// are ignored: the subscription only carries what comes next.
func (c *client) loadSnapshot(ctx context.Context) {
	snapshot, err := fetchSnapshot(ctx, c.http, c.base, 0)
	if err != nil {
		return
	}
	for _, line := range snapshot.Lines {
		c.deliver(model.LogLineAppended{Line: line})
	}
	for _, job := range snapshot.Jobs {
		c.deliver(model.JobStatusChanged{Job: job})
	}
}

// run feeds events until ctx is done
func (c *client) run(ctx context.Context) error {
	defer c.http.CloseIdleConnections()
	c.loadSnapshot(ctx)

	var failures int
	delay := c.baseBackoff
	for {
		c.setStatus(status{State: Connecting, Attempt: failures})
		src, err := c.dial(ctx)
		if err == nil {
			failures, delay = 0, c.baseBackoff
			c.setStatus(status{State: Connected})
			err = c.consume(ctx, src)
			src.Close()
		}
		if ctx.Err() != nil {
			c.setStatus(status{State: Disconnected})
			return ctx.Err()
		}

		failures++
		if failures >= c.maxAttempts {
			return c.poll(ctx)
		}
		c.setStatus(status{State: Disconnected, Attempt: failures, Err: err})
		if !sleep(ctx, delay) {
			c.setStatus(status{State: Disconnected})
			return ctx.Err()
		}
		if delay *= 2; delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

func (c *client) consume(ctx context.Context, src eventSource) error {
	for {
		e, err := src.Next(ctx)
		if err != nil {
			return err
		}
		c.deliver(e)
	}
}

// poll never returns to the websocket. Failed polls are retried at the
// next interval.
func (c *client) poll(ctx context.Context) error {
	src := newPollSource(c.http, c.base, c.pollInterval, c.since, c.jobs)
	defer src.Close()

	c.setStatus(status{State: Polling})
	healthy := true
	for {
		e, err := src.Next(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if healthy {
				c.setStatus(status{State: Polling, Err: err})
			}
			healthy = false
			continue
		}
		if !healthy {
			c.setStatus(status{State: Polling})
			healthy = true
		}
		c.deliver(e)
	}
}

// sleep waits for d unless ctx is done first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
