package model

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

// Level is the severity class of a log line, derived from its content
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"

	// TimeLayout is the timestamp layout used in the aggregate log
	TimeLayout = "2006-01-02 15:04:05"
)

var (
	timestampPattern = regexp.MustCompile(`^\[([\d\-\s:.]+)\]`)
	errorPattern     = regexp.MustCompile(`(?i)error|exception|fail|critical`)
	warningPattern   = regexp.MustCompile(`(?i)warn|caution`)
)

// LogLine is one line of the aggregate log as seen by viewers
type LogLine struct {
	// Seq is assigned by the tailer and grows by one per line
	Seq   uint64 `json:"seq"`
	Time  string `json:"time"`
	Text  string `json:"text"`
	Level Level  `json:"level"`
}

// ParseLogLine splits an optional leading "[timestamp]" off raw and
// classifies the remaining text. Lines without a timestamp are stamped
// with now.
func ParseLogLine(raw string, now time.Time) LogLine {
	line := LogLine{Text: raw}
	if m := timestampPattern.FindStringSubmatch(raw); m != nil {
		line.Time = strings.TrimSpace(m[1])
		line.Text = strings.TrimSpace(raw[len(m[0]):])
	} else {
		line.Time = now.Format(TimeLayout + ".000")
	}
	line.Level = classify(line.Text)
	return line
}

func classify(text string) Level {
	switch {
	case errorPattern.MatchString(text):
		return LevelError
	case warningPattern.MatchString(text):
		return LevelWarning
	}
	return LevelInfo
}

// String renders the line back in "[timestamp] text" form
func (l LogLine) String() string {
	return fmt.Sprintf("[%s] %s", l.Time, l.Text)
}

// HTML renders the line as escaped markup for web views
func (l LogLine) HTML() string {
	return fmt.Sprintf("<span class='log-timestamp'>%s</span><span class='log-%s'>%s</span>",
		html.EscapeString(l.Time), l.Level, html.EscapeString(l.Text))
}
