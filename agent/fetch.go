package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
)

// httpFetcher downloads a single file
type httpFetcher struct {
	url string
	log *logrus.Entry
}

func (f httpFetcher) String() string { return f.url }

func (f httpFetcher) fetch(ctx context.Context, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", f.url, res.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, res.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("error downloading %s: %w", f.url, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	f.log.Infof("Downloaded %s (%s)", filepath.Base(dst), units.HumanSize(float64(n)))
	return nil
}

// gitFetcher makes a shallow clone
type gitFetcher struct {
	url string
	run commandRunner
}

func (f gitFetcher) String() string { return f.url }

func (f gitFetcher) fetch(ctx context.Context, dst string) error {
	tmp, err := os.MkdirTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := f.run(ctx, "", "git", "clone", "--depth=1", f.url, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// writeContent is a default generator writing fixed content
func writeContent(content []byte) func(string) error {
	return func(target string) error {
		tmp := target + ".tmp"
		if err := os.WriteFile(tmp, content, 0644); err != nil {
			return err
		}
		return os.Rename(tmp, target)
	}
}

// copyTree is a default generator restoring a tree baked into the image
func copyTree(src string) func(string) error {
	return func(target string) error {
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("no baked copy: %w", err)
		}
		return copy.Copy(src, target)
	}
}
