package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/tonycerq/tonycerq-comfyui/env"
)

func main() {
	env.Load()

	configPath := pflag.StringP("config", "c", env.String(EnvBootConfig, DefaultBootConfig), "path to the boot configuration file")
	workspace := pflag.StringP("workspace", "w", "", "workspace directory, overrides the configuration")
	pflag.Parse()

	cfg, err := loadConfig(*configPath, *workspace)
	if err != nil {
		logrus.Fatalf("agent: %s", err)
	}
	if env.Debug {
		spew.Fdump(os.Stderr, cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(boot(ctx, cfg, os.Stdout))
}

// boot runs the sequence and waits for the launched children. It returns
// the process exit code.
func boot(ctx context.Context, cfg *Config, stdout io.Writer) int {
	bc := newBootContext(cfg, newLogWriter(stdout))
	env.SetupLogging(bc.log)
	defer bc.close()

	if err := bc.init(); err != nil {
		bc.stage("init").Logf(fatalLevel, "%s", err)
		return 1
	}

	if cfg.StatusServer != nil {
		if _, err := bc.launcher.start(ctx, *cfg.StatusServer); err != nil {
			bc.stage("init").Warnf("Status server not started: %s", err)
		}
	}

	seq := &sequencer{stages: bootStages()}
	if err := seq.run(ctx, bc); err != nil {
		bc.stage("sequencer").Infof("Stopping children %v", bc.children())
		return exitCode(bc, 1)
	}
	bc.stage("sequencer").Infof("Reached %s, waiting for children %v", seq.state, bc.children())
	return exitCode(bc, 0)
}

// exitCode waits until the application exits, joins the other children
// and returns code, or 1 when a child failed. After an abort the children
// are stopped first.
func exitCode(bc *bootContext, code int) int {
	if code != 0 {
		bc.launcher.terminate()
	}
	if failed := bc.launcher.wait(); failed > 0 {
		bc.stage("sequencer").Errorf("%d children exited with an error", failed)
		return 1
	}
	return code
}
