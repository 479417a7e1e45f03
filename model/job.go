package model

import (
	"fmt"
	"time"
)

// JobSource identifies where a download job fetches from
type JobSource string

const (
	SourceCivitai     JobSource = "civitai"
	SourceHuggingFace JobSource = "huggingface"
	SourceGDrive      JobSource = "gdrive"
	SourceDirect      JobSource = "direct"
)

// Sources lists every valid JobSource
var Sources = []JobSource{SourceCivitai, SourceHuggingFace, SourceGDrive, SourceDirect}

// ParseJobSource accepts the source names used in download URLs.
// "googledrive" is an alias of gdrive.
func ParseJobSource(s string) (JobSource, error) {
	if s == "googledrive" {
		return SourceGDrive, nil
	}
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source: %q", s)
}

// JobState is the lifecycle state of a job
type JobState int

const (
	JobPending JobState = iota
	JobDownloading
	JobSucceeded
	JobFailed
)

var jobStateNames = map[JobState]string{
	JobPending:     "pending",
	JobDownloading: "downloading",
	JobSucceeded:   "success",
	JobFailed:      "failed",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Terminal is true for states a job never leaves
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// CanTransition reports whether a job in state s may move to next
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobDownloading
	case JobDownloading:
		return next == JobSucceeded || next == JobFailed
	}
	return false
}

func (s JobState) MarshalText() ([]byte, error) {
	name, ok := jobStateNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid job state: %d", int(s))
	}
	return []byte(name), nil
}

func (s *JobState) UnmarshalText(b []byte) error {
	for state, name := range jobStateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("invalid job state: %q", b)
}

// Job is an asynchronous, externally executed download
type Job struct {
	ID      string    `json:"id"`
	Source  JobSource `json:"source"`
	State   JobState  `json:"status"`
	Detail  string    `json:"detail,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}
