package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type prober struct {
	backoff time.Duration
	log     *logrus.Entry
}

// Check tries every target in order per attempt and returns true on the
// first reachable one. It sleeps backoff between attempts and returns false
// once maxAttempts are exhausted or ctx is done. Being offline is not an error.
func (p *prober) Check(ctx context.Context, targets []string, maxAttempts int, perTargetTimeout time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		for _, target := range targets {
			if reachable(ctx, target, perTargetTimeout) {
				p.log.Debugf("Reached %s on attempt %d", target, attempt)
				return true
			}
		}
		p.log.Debugf("No target reachable on attempt %d/%d", attempt, maxAttempts)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.backoff):
		}
	}
	return false
}

// reachable probes http(s) targets with HEAD, where any response counts,
// and dials anything else as host:port
func reachable(ctx context.Context, target string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return false
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		res.Body.Close()
		return true
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
