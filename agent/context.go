package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// bootContext carries the state shared by the stages of one boot.
// It replaces process-wide flags: stages read and record through it only.
type bootContext struct {
	cfg *Config
	log *logrus.Logger
	out *logWriter

	lock *flock.Flock

	onlineOnce sync.Once
	online     bool

	mutex sync.Mutex
	pids  map[string]int

	launcher *launcher
	device   *deviceGate
}

func newBootContext(cfg *Config, out *logWriter) *bootContext {
	bc := &bootContext{
		cfg:  cfg,
		out:  out,
		log:  newLogger(out),
		pids: make(map[string]int),
	}
	bc.launcher = newLauncher(bc)
	bc.device = newDeviceGate(bc, cfg.Device.Probe, cfg.Device.Reset)
	return bc
}

// stage returns a logger for the named stage
func (bc *bootContext) stage(name string) *logrus.Entry {
	return bc.log.WithField(fieldStage, name)
}

// setOnline records the connectivity result. Only the first call has effect.
func (bc *bootContext) setOnline(online bool) {
	bc.onlineOnce.Do(func() {
		bc.online = online
	})
}

func (bc *bootContext) Online() bool {
	return bc.online
}

// childEnv is the environment of every process launched during boot
func (bc *bootContext) childEnv(extra ...string) []string {
	environ := append(os.Environ(), fmt.Sprintf("%s=%t", EnvHasInternet, bc.Online()))
	return append(environ, extra...)
}

// recordPID keeps pid on the context and in <workspace>/run/<name>.pid
func (bc *bootContext) recordPID(name string, pid int) error {
	bc.mutex.Lock()
	bc.pids[name] = pid
	bc.mutex.Unlock()

	if err := os.MkdirAll(bc.cfg.RunDir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bc.cfg.RunDir(), name+".pid"), []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// PIDs returns the recorded process identifiers by child name
func (bc *bootContext) PIDs() map[string]int {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	pids := make(map[string]int, len(bc.pids))
	for k, v := range bc.pids {
		pids[k] = v
	}
	return pids
}

func (bc *bootContext) children() []string {
	pids := bc.PIDs()
	names := make([]string, 0, len(pids))
	for name := range pids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// init takes the boot lock, deduplicates the aggregate log and opens it for
// appending. Nothing tails the log before init returns.
func (bc *bootContext) init() error {
	if err := os.MkdirAll(bc.cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("error creating workspace: %w", err)
	}
	bc.lock = flock.New(bc.cfg.LockPath())
	locked, err := bc.lock.TryLock()
	if err != nil {
		return fmt.Errorf("error acquiring boot lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another agent holds %s", bc.cfg.LockPath())
	}

	log := bc.stage("init")
	removed, err := dedupeLog(bc.cfg.LogFile)
	if err != nil {
		log.Warnf("Error deduplicating %s: %s", bc.cfg.LogFile, err)
	} else if removed > 0 {
		log.Infof("Removed %d duplicate lines from %s", removed, bc.cfg.LogFile)
	}
	if err := bc.out.open(bc.cfg.LogFile); err != nil {
		return err
	}
	log.Infof("Logging to %s", bc.cfg.LogFile)
	return nil
}

func (bc *bootContext) close() {
	if bc.lock != nil {
		bc.lock.Unlock()
	}
	bc.out.close()
}
