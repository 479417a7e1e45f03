package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tonycerq/tonycerq-comfyui/env"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

const EnvManagerURL = "MANAGER_URL"

func main() {
	base := pflag.StringP("url", "u", "", "status server address (default $"+EnvManagerURL+" or http://127.0.0.1:8189)")
	lines := pflag.IntP("lines", "n", DefaultLines, "number of lines kept on screen")
	maxAttempts := pflag.Int("max-attempts", DefaultMaxAttempts, "reconnect attempts before falling back to polling")
	pollInterval := pflag.Duration("poll-interval", DefaultPollInterval, "snapshot interval when polling")
	plain := pflag.Bool("plain", false, "print lines instead of the interactive view")
	pflag.Parse()

	env.Load()
	if *base == "" {
		*base = env.String(EnvManagerURL, "http://127.0.0.1:8189")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if *plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		err = runPlain(ctx, os.Stdout, func(c *client) {
			c.base, c.maxAttempts, c.pollInterval = *base, *maxAttempts, *pollInterval
		})
	} else {
		err = runTUI(ctx, *base, *lines, func(c *client) {
			c.maxAttempts, c.pollInterval = *maxAttempts, *pollInterval
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runPlain prints every line as it arrives. Connection changes go to the
// log on stderr.
func runPlain(ctx context.Context, w io.Writer, configure func(*client)) error {
	c := newClient("", func(e model.Event) {
		switch e := e.(type) {
		case model.LogLineAppended:
			fmt.Fprintln(w, e.Line.String())
		case model.JobStatusChanged:
			logrus.Infof("viewer: %s job is %s %s", e.Job.Source, e.Job.State, e.Job.Detail)
		}
	}, func(s status) {
		logrus.Infof("viewer: %s", s)
	})
	configure(c)
	return c.run(ctx)
}

func runTUI(ctx context.Context, base string, lines int, configure func(*client)) error {
	path, err := prefsPath()
	if err != nil {
		logrus.Warnf("viewer: preferences not persisted: %s", err)
	}
	p := defaultPrefs()
	if path != "" {
		p = loadPrefs(path)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan tea.Msg, 64)
	handle, onStatus := forward(ctx, msgs)
	c := newClient(base, handle, onStatus)
	configure(c)

	done := make(chan error, 1)
	go func() {
		done <- c.run(ctx)
	}()

	v := newView(lines, 20, p.AutoScroll)
	program := tea.NewProgram(newUI(v, msgs, p, path, "ComfyUI "+base), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logrus.Warnln("viewer: client did not stop")
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return ctx.Err()
	}
	return err
}
