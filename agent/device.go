package main

import (
	"context"
	"time"

	"github.com/docker/go-units"
	"github.com/pbnjay/memory"
	"github.com/sirupsen/logrus"
)

type deviceState struct {
	Detected    bool
	LastChecked time.Time
}

// deviceGate waits for the accelerator. isReady and reset are the only
// contact with the device.
type deviceGate struct {
	isReady func(ctx context.Context) bool
	reset   func(ctx context.Context) error
	state   deviceState
	log     *logrus.Entry
}

func newDeviceGate(bc *bootContext, probe, reset []string) *deviceGate {
	g := &deviceGate{
		isReady: func(context.Context) bool { return false },
		log:     bc.stage("device"),
	}
	if len(probe) > 0 {
		g.isReady = func(ctx context.Context) bool {
			return bc.run(ctx, "", probe...) == nil
		}
	}
	if len(reset) > 0 {
		g.reset = func(ctx context.Context) error {
			return bc.run(ctx, "", reset...)
		}
	}
	return g
}

// WaitReady polls isReady every interval until it succeeds or timeout
// elapses. The reset action runs only once the device is ready and its
// failure is logged and otherwise ignored.
func (g *deviceGate) WaitReady(ctx context.Context, timeout, interval time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		g.state.Detected = g.isReady(ctx)
		g.state.LastChecked = time.Now()
		if g.state.Detected {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}

	if g.reset != nil {
		if err := g.reset(ctx); err != nil {
			g.log.Warnf("Device reset failed: %s", err)
		} else {
			g.log.Infoln("Device reset")
		}
	}
	return true
}

func logHardware(log *logrus.Entry) {
	if total := memory.TotalMemory(); total > 0 {
		log.Infof("System memory: %s", units.BytesSize(float64(total)))
	}
}
