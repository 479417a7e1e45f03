package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tonycerq/tonycerq-comfyui/env"
)

func main() {
	bindAddr := pflag.StringP("bind", "b", "", "listen address, overrides "+EnvBindAddr)
	logFile := pflag.StringP("log-file", "l", "", "aggregate log to follow, overrides "+EnvLogFile)
	pflag.Parse()

	env.Load()
	logrus.Infoln("started status manager")
	defer logrus.Infoln("bye.")

	conf, err := loadConfig()
	if err != nil {
		logrus.Fatalf("manager: %s", err)
	}
	if *bindAddr != "" {
		conf.BindAddr = *bindAddr
	}
	if *logFile != "" {
		conf.LogFile = *logFile
	}
	if env.Debug {
		spew.Fdump(os.Stderr, conf)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, conf); err != nil {
		logrus.Errorf("manager: %s", err)
		os.Exit(1)
	}
}

// serve runs the tailer, the optional event mirror and the REST API until
// ctx is done or one of them fails
func serve(ctx context.Context, conf *config) error {
	g, ctx := errgroup.WithContext(ctx)

	m := newManager(ctx, conf)
	defer m.close()

	t := newTailer(conf.LogFile, conf.PollInterval, func(line string) {
		m.appendLine(line)
	})
	g.Go(func() error {
		return t.run(ctx)
	})

	if conf.MQTTBroker != "" {
		pub, err := connectMQTT(conf.MQTTBroker)
		if err != nil {
			// the mirror is optional
			logrus.Warnf("mqtt: mirror disabled: %s", err)
		} else {
			defer pub.close()
			logrus.Infof("mqtt: mirroring events to %s under %s/", conf.MQTTBroker, conf.MQTTPrefix)
			mirror := newMirror(m.events, pub, conf.MQTTPrefix)
			g.Go(func() error {
				mirror.run(ctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		return startRESTAPI(ctx, conf.BindAddr, m)
	})
	return g.Wait()
}
