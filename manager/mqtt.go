package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/tonycerq/tonycerq-comfyui/manager/events"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

const mqttTimeout = 10 * time.Second

type publisher interface {
	Publish(topic string, payload []byte) error
}

type mqttPublisher struct {
	client mqtt.Client
}

func connectMQTT(broker string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("comfyui-manager-" + uuid.NewV4().String()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logrus.Warnf("mqtt: connection lost: %s", err)
		})
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("timeout connecting to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", broker, err)
	}
	return &mqttPublisher{client: client}, nil
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	return token.Error()
}

func (p *mqttPublisher) close() {
	p.client.Disconnect(250)
}

// mirror republishes every event under <prefix>/<type>. It is an ordinary
// subscriber: when it falls behind it is dropped, and it subscribes again.
type mirror struct {
	events *events.Broadcaster
	pub    publisher
	prefix string
	log    *logrus.Entry
}

func newMirror(b *events.Broadcaster, pub publisher, prefix string) *mirror {
	return &mirror{
		events: b,
		pub:    pub,
		prefix: prefix,
		log:    logrus.WithField("component", "mqtt"),
	}
}

// run mirrors events until ctx is done or the broadcaster is closed
func (m *mirror) run(ctx context.Context) {
	for {
		sub := m.events.Subscribe()
		err := m.forward(ctx, sub)
		sub.Close()
		if !errors.Is(err, events.ErrSlowConsumer) {
			return
		}
		m.log.Warnf("Mirror fell behind, events were lost: %s", err)
	}
}

func (m *mirror) forward(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			b, err := model.EncodeEvent(e)
			if err != nil {
				m.log.Errorf("Error encoding %s: %s", e.Type(), err)
				continue
			}
			if err := m.pub.Publish(path.Join(m.prefix, string(e.Type())), b); err != nil {
				m.log.Warnf("Error publishing %s: %s", e.Type(), err)
			}
		}
	}
}
