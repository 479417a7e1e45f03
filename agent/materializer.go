package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

type Status int

const (
	Present Status = iota
	Created
	CreatedFromDefault
)

func (s Status) String() string {
	switch s {
	case Present:
		return "present"
	case Created:
		return "created"
	case CreatedFromDefault:
		return "created from default"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// fetcher acquires a resource from its remote source into dst
type fetcher interface {
	fetch(ctx context.Context, dst string) error
	String() string
}

// Descriptor names a resource the boot needs on disk
type Descriptor struct {
	Name   string
	Source fetcher
	Target string
	// Sentinel is an entry expected inside a directory target. A directory
	// without it is a partial write.
	Sentinel string
	Default  func(target string) error
	Required bool
}

type materializer struct {
	online   func() bool
	attempts int
	delay    time.Duration
	timeout  time.Duration
	log      *logrus.Entry
}

// Ensure makes d.Target exist: left as is when present, else fetched when
// online, else generated from the default. Partial targets are removed first.
func (m *materializer) Ensure(ctx context.Context, d Descriptor) (Status, error) {
	if present(d) {
		return Present, nil
	}
	if _, err := os.Lstat(d.Target); err == nil {
		m.log.Warnf("Removing partial %s at %s", d.Name, d.Target)
	}
	if err := removePartial(d); err != nil {
		return 0, err
	}

	var fetchErr error
	if d.Source != nil && m.online() {
		fetchErr = m.fetch(ctx, d)
		if fetchErr == nil {
			return Created, nil
		}
		m.log.Warnf("Could not fetch %s: %s", d.Name, fetchErr)
	}

	if d.Default != nil {
		if err := os.MkdirAll(filepath.Dir(d.Target), 0755); err != nil {
			return 0, fmt.Errorf("error creating parent of %s: %w", d.Target, err)
		}
		if err := d.Default(d.Target); err != nil {
			removePartial(d)
			return 0, fmt.Errorf("error generating default %s: %w", d.Name, err)
		}
		return CreatedFromDefault, nil
	}

	if fetchErr != nil {
		return 0, fmt.Errorf("%s unavailable: %w", d.Name, fetchErr)
	}
	return 0, fmt.Errorf("%s unavailable offline and has no default", d.Name)
}

func (m *materializer) fetch(ctx context.Context, d Descriptor) error {
	var err error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		err = m.fetchOnce(ctx, d)
		if err == nil {
			if present(d) {
				return nil
			}
			err = fmt.Errorf("fetched %s is incomplete", d.Target)
		}
		m.log.Debugf("Fetching %s from %s failed (%d/%d): %s", d.Name, d.Source, attempt, m.attempts, err)
		removePartial(d)
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return err
}

func (m *materializer) fetchOnce(ctx context.Context, d Descriptor) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(d.Target), 0755); err != nil {
		return err
	}
	return d.Source.fetch(ctx, d.Target)
}

// present is true for a non-empty file, or a directory holding its sentinel
// (any entry when it has none)
func present(d Descriptor) bool {
	info, err := os.Stat(d.Target)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return info.Size() > 0
	}
	if d.Sentinel != "" {
		_, err := os.Stat(filepath.Join(d.Target, d.Sentinel))
		return err == nil
	}
	entries, err := os.ReadDir(d.Target)
	return err == nil && len(entries) > 0
}

func removePartial(d Descriptor) error {
	if _, err := os.Lstat(d.Target); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(d.Target); err != nil {
		return fmt.Errorf("error removing partial %s: %w", d.Target, err)
	}
	return nil
}
