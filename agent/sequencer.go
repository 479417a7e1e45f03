package main

import (
	"context"
	"errors"
	"fmt"
)

type State int

const (
	Init State = iota
	ConnectivityChecked
	ConfigReady
	RepoReady
	StructureReady
	DependenciesInstalled
	DeviceChecked
	JobsSynced
	ServicesStarted
	Aborted
)

var stateNames = [...]string{
	"Init",
	"ConnectivityChecked",
	"ConfigReady",
	"RepoReady",
	"StructureReady",
	"DependenciesInstalled",
	"DeviceChecked",
	"JobsSynced",
	"ServicesStarted",
	"Aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Outcome int

const (
	Completed Outcome = iota
	Skipped
	FailedRecoverable
	FailedFatal
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case FailedRecoverable:
		return "failed (recoverable)"
	case FailedFatal:
		return "failed (fatal)"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// errSkipped marks a stage that had nothing to do
var errSkipped = errors.New("skipped")

func skip(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", errSkipped, fmt.Sprintf(format, a...))
}

// degradedError is a failure the boot continues past
type degradedError struct {
	err error
}

func (e degradedError) Error() string { return e.err.Error() }
func (e degradedError) Unwrap() error { return e.err }

func degraded(format string, a ...interface{}) error {
	return degradedError{fmt.Errorf(format, a...)}
}

type stage struct {
	name     string
	reaches  State
	required bool
	run      func(ctx context.Context, bc *bootContext) error
}

// classify is the one place deciding what a stage error means for the boot
func classify(st stage, err error) Outcome {
	var d degradedError
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, errSkipped):
		return Skipped
	case errors.As(err, &d):
		return FailedRecoverable
	case st.required:
		return FailedFatal
	}
	return FailedRecoverable
}

type sequencer struct {
	stages []stage
	state  State
}

// run executes the stages in order. It stops at the first fatal outcome,
// moving to Aborted, and returns the error of that stage.
func (s *sequencer) run(ctx context.Context, bc *bootContext) error {
	s.state = Init
	for _, st := range s.stages {
		log := bc.stage(st.name)
		if err := ctx.Err(); err != nil {
			s.state = Aborted
			bc.stage("sequencer").Logf(fatalLevel, "boot interrupted before %s: %s", st.name, err)
			return err
		}

		err := st.run(ctx, bc)
		switch outcome := classify(st, err); outcome {
		case Completed:
			log.Infoln(outcome)
		case Skipped:
			log.Infoln(err)
		case FailedRecoverable:
			log.Warnf("%s, continuing: %s", outcome, err)
		case FailedFatal:
			s.state = Aborted
			log.Errorf("%s: %s", outcome, err)
			bc.stage("sequencer").Logf(fatalLevel, "boot failed in %s stage: %s", st.name, err)
			return fmt.Errorf("%s: %w", st.name, err)
		}
		s.state = st.reaches
		log.Debugf("state %s", s.state)
	}
	return nil
}
