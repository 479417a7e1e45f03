package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the "type" tag of an event on the wire
type EventType string

const (
	EventNewLogLine EventType = "new_log_line"
	EventDownload   EventType = "download"
)

// ErrUnknownEvent is returned when decoding an event with an unexpected type tag
var ErrUnknownEvent = errors.New("unknown event type")

// Event is one of LogLineAppended or JobStatusChanged
type Event interface {
	Type() EventType
	isEvent()
}

// LogLineAppended is published for every new line of the aggregate log
type LogLineAppended struct {
	Line LogLine
}

// JobStatusChanged is published on every job transition
type JobStatusChanged struct {
	Job Job
}

func (LogLineAppended) Type() EventType  { return EventNewLogLine }
func (JobStatusChanged) Type() EventType { return EventDownload }
func (LogLineAppended) isEvent()         {}
func (JobStatusChanged) isEvent()        {}

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type logLineData struct {
	LogLine
	HTML string `json:"html"`
}

// EncodeEvent serializes e as {"type": ..., "data": {...}}
func EncodeEvent(e Event) ([]byte, error) {
	var data interface{}
	switch e := e.(type) {
	case LogLineAppended:
		data = logLineData{LogLine: e.Line, HTML: e.Line.HTML()}
	case JobStatusChanged:
		data = e.Job
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: e.Type(), Data: b})
}

// DecodeEvent parses an event produced by EncodeEvent
func DecodeEvent(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("error parsing event: %w", err)
	}
	switch env.Type {
	case EventNewLogLine:
		var d logLineData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("error parsing %s data: %w", env.Type, err)
		}
		return LogLineAppended{Line: d.LogLine}, nil
	case EventDownload:
		var job Job
		if err := json.Unmarshal(env.Data, &job); err != nil {
			return nil, fmt.Errorf("error parsing %s data: %w", env.Type, err)
		}
		return JobStatusChanged{Job: job}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}
