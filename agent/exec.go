package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// commandRunner runs argv in dir to completion, logging its output
type commandRunner func(ctx context.Context, dir string, argv ...string) error

// run executes a short-lived command. Its output goes to the aggregate log
// line by line, prefixed with the command name.
func (bc *bootContext) run(ctx context.Context, dir string, argv ...string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = bc.childEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	scan := captureOutput(cmd, func(line string) {
		bc.out.writeLine(fmt.Sprintf("[%s] %s", argv[0], line))
	})
	err := cmd.Run()
	scan()
	if err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// captureOutput routes stdout and stderr of cmd through line scanners.
// The returned func closes the pipes and waits for the scanners; call it
// after the command has exited.
func captureOutput(cmd *exec.Cmd, handle func(line string)) (done func()) {
	var wg sync.WaitGroup
	var writers []*io.PipeWriter
	for _, stream := range []*io.Writer{&cmd.Stdout, &cmd.Stderr} {
		r, w := io.Pipe()
		*stream = w
		writers = append(writers, w)

		wg.Add(1)
		go func(r *io.PipeReader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				handle(scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				handle(fmt.Sprintf("error reading output: %s", err))
			}
			// drain so the child never blocks on a full pipe
			io.Copy(io.Discard, r)
		}(r)
	}
	return func() {
		for _, w := range writers {
			w.Close()
		}
		wg.Wait()
	}
}

// child is a long-running process launched by the agent
type child struct {
	name    string
	pid     int
	primary bool
	done    chan struct{}
	err     error
	cancel  context.CancelFunc
	// stopped is set when the launcher terminated the child
	stopped bool
}

// Wait blocks until the child has exited and returns its exit error
func (c *child) Wait() error {
	<-c.done
	return c.err
}

type launcher struct {
	bc       *bootContext
	mutex    sync.Mutex
	children []*child
	group    errgroup.Group

	primaries int
	exitOnce  sync.Once
	exited    chan struct{}
	first     *child
}

func newLauncher(bc *bootContext) *launcher {
	return &launcher{bc: bc, exited: make(chan struct{})}
}

// start launches an auxiliary child, such as the status server
func (l *launcher) start(ctx context.Context, svc Service) (*child, error) {
	return l.launch(ctx, svc, false)
}

// startPrimary launches the application. The first primary child to exit
// ends the wait phase.
func (l *launcher) startPrimary(ctx context.Context, svc Service) (*child, error) {
	return l.launch(ctx, svc, true)
}

// launch starts svc in its own session. Its output lines are appended to
// the aggregate log as they are. Cancelling ctx sends SIGTERM, followed by
// SIGKILL after the shutdown grace period.
func (l *launcher) launch(ctx context.Context, svc Service, primary bool) (*child, error) {
	log := l.bc.stage("launcher")

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, svc.Command[0], svc.Command[1:]...)
	cmd.Dir = svc.Dir
	cmd.Env = l.bc.childEnv(svc.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = l.bc.cfg.ShutdownGrace.Duration

	scan := captureOutput(cmd, l.bc.out.writeLine)
	if err := cmd.Start(); err != nil {
		cancel()
		scan()
		return nil, fmt.Errorf("error starting %s: %w", svc.Name, err)
	}

	c := &child{
		name:    svc.Name,
		pid:     cmd.Process.Pid,
		primary: primary,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	if err := l.bc.recordPID(c.name, c.pid); err != nil {
		log.Warnf("Error writing PID file of %s: %s", c.name, err)
	}
	log.Infof("Started %s with PID %d", c.name, c.pid)

	start := time.Now()
	go func() {
		c.err = cmd.Wait()
		cancel()
		scan()
		if c.err != nil {
			log.Errorf("%s (PID %d) exited after %s: %s", c.name, c.pid, time.Since(start).Round(time.Second), c.err)
		} else {
			log.Infof("%s (PID %d) exited after %s", c.name, c.pid, time.Since(start).Round(time.Second))
		}
		close(c.done)
		if c.primary {
			l.exitOnce.Do(func() {
				l.first = c
				close(l.exited)
			})
		}
	}()

	l.mutex.Lock()
	l.children = append(l.children, c)
	if primary {
		l.primaries++
	}
	l.mutex.Unlock()
	l.group.Go(c.Wait)
	return c, nil
}

// terminate stops every launched child still running
func (l *launcher) terminate() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, c := range l.children {
		select {
		case <-c.done:
		default:
			c.stopped = true
			c.cancel()
		}
	}
}

// wait blocks until the first primary child exits, stops the remaining
// children and joins them. Without a primary child it joins every child.
// Children are not restarted. It returns the number of children that
// exited with an error on their own.
func (l *launcher) wait() (failed int) {
	l.mutex.Lock()
	primaries := l.primaries
	l.mutex.Unlock()

	if primaries > 0 {
		<-l.exited
		l.bc.stage("launcher").Infof("%s exited, stopping the remaining children", l.first.name)
		l.terminate()
	}
	l.group.Wait()

	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, c := range l.children {
		if c.err != nil && !c.stopped {
			failed++
		}
	}
	return failed
}
