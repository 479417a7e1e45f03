package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

// eventSource yields the events of the status server one at a time
type eventSource interface {
	// Next blocks until an event arrives, the source fails or ctx is done
	Next(ctx context.Context) (model.Event, error)
	Close() error
}

// pushSource receives events over the websocket subscription
type pushSource struct {
	conn *websocket.Conn
}

// dialPush completes the websocket handshake with the server at base
func dialPush(ctx context.Context, base string) (*pushSource, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &pushSource{conn: conn}, nil
}

func (p *pushSource) Next(ctx context.Context) (model.Event, error) {
	stop := context.AfterFunc(ctx, func() {
		p.conn.Close()
	})
	defer stop()

	for {
		_, b, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		e, err := model.DecodeEvent(b)
		if errors.Is(err, model.ErrUnknownEvent) {
			continue
		}
		return e, err
	}
}

func (p *pushSource) Close() error {
	return p.conn.Close()
}

// fetchSnapshot reads the pull view of the log. Lines up to since are
// left out.
func fetchSnapshot(ctx context.Context, client *http.Client, base string, since uint64) (model.Snapshot, error) {
	var snapshot model.Snapshot

	endpoint := strings.TrimSuffix(base, "/") + "/logs"
	if since > 0 {
		endpoint += "?since=" + strconv.FormatUint(since, 10)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return snapshot, err
	}
	res, err := client.Do(req)
	if err != nil {
		return snapshot, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return snapshot, fmt.Errorf("%s: %s", endpoint, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		return snapshot, fmt.Errorf("error parsing snapshot: %w", err)
	}
	return snapshot, nil
}

// pollSource turns periodic snapshots into events: unseen lines and jobs
// whose state changed since the previous snapshot
type pollSource struct {
	client   *http.Client
	base     string
	interval time.Duration

	since   uint64
	jobs    map[string]model.JobState
	pending []model.Event
	polled  bool
}

// newPollSource starts after line since, with the job states already known
func newPollSource(client *http.Client, base string, interval time.Duration, since uint64, jobs map[string]model.JobState) *pollSource {
	p := &pollSource{
		client:   client,
		base:     base,
		interval: interval,
		since:    since,
		jobs:     make(map[string]model.JobState, len(jobs)),
	}
	for id, state := range jobs {
		p.jobs[id] = state
	}
	return p
}

func (p *pollSource) Next(ctx context.Context) (model.Event, error) {
	for len(p.pending) == 0 {
		if p.polled {
			timer := time.NewTimer(p.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		p.polled = true
		if err := p.poll(ctx); err != nil {
			return nil, err
		}
	}
	e := p.pending[0]
	p.pending = p.pending[1:]
	return e, nil
}

func (p *pollSource) poll(ctx context.Context) error {
	snapshot, err := fetchSnapshot(ctx, p.client, p.base, p.since)
	if err != nil {
		return err
	}
	if snapshot.Last < p.since {
		// the server restarted and numbers its lines from one again
		p.since = 0
		return nil
	}
	for _, line := range snapshot.Lines {
		if line.Seq <= p.since {
			continue
		}
		p.since = line.Seq
		p.pending = append(p.pending, model.LogLineAppended{Line: line})
	}
	for _, job := range snapshot.Jobs {
		if state, ok := p.jobs[job.ID]; ok && state == job.State {
			continue
		}
		p.jobs[job.ID] = job.State
		p.pending = append(p.pending, model.JobStatusChanged{Job: job})
	}
	return nil
}

func (p *pollSource) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
