package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

type publishedMessage struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mutex    sync.Mutex
	messages []publishedMessage
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.messages = append(p.messages, publishedMessage{topic, payload})
	return nil
}

func (p *fakePublisher) get() []publishedMessage {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]publishedMessage{}, p.messages...)
}

func TestMirror(t *testing.T) {
	m := testManager(t, nil)
	pub := &fakePublisher{}
	mirror := newMirror(m.events, pub, "pods/abc")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mirror.run(ctx)
	}()
	require.Eventually(t, func() bool {
		return m.events.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	m.appendLine("[2024-05-01 12:00:00] Prompt executed in 3.2 seconds")
	_, err := m.jobs.Submit(model.SourceCivitai)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(pub.get()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	messages := pub.get()
	assert.Equal(t, "pods/abc/new_log_line", messages[0].topic)
	assert.Equal(t, "pods/abc/download", messages[1].topic)

	e, err := model.DecodeEvent(messages[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "Prompt executed in 3.2 seconds", e.(model.LogLineAppended).Line.Text)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mirror did not stop")
	}
	assert.Equal(t, 0, m.events.Len())
}

func TestMirrorStopsWithBroadcaster(t *testing.T) {
	m := testManager(t, nil)
	mirror := newMirror(m.events, &fakePublisher{}, DefaultMQTTPrefix)

	done := make(chan struct{})
	go func() {
		defer close(done)
		mirror.run(context.Background())
	}()
	require.Eventually(t, func() bool {
		return m.events.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	m.events.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mirror did not stop")
	}
}
