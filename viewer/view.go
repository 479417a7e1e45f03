package main

import (
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"

	"github.com/tonycerq/tonycerq-comfyui/buffer"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

const DefaultLines = 500

// view holds the most recent lines and renders them through a viewport.
// The view follows new lines while auto-scroll is on and the user has not
// scrolled away from the bottom; otherwise the visible lines stay put, also
// when the oldest lines are dropped.
type view struct {
	lines  *buffer.Buffer
	port   viewport.Model
	render func(model.LogLine) string

	autoScroll   bool
	scrolledAway bool

	jobs map[model.JobSource]model.Job
}

func newView(capacity, height int, autoScroll bool) *view {
	if height < 1 {
		height = 1
	}
	port := viewport.New(0, height)
	port.MouseWheelEnabled = false
	return &view{
		lines:      buffer.NewBuffer(capacity),
		port:       port,
		render:     model.LogLine.String,
		autoScroll: autoScroll,
		jobs:       make(map[model.JobSource]model.Job),
	}
}

// apply updates the view with one event
func (v *view) apply(e model.Event) {
	switch e := e.(type) {
	case model.LogLineAppended:
		v.append(e.Line)
	case model.JobStatusChanged:
		v.jobs[e.Job.Source] = e.Job
	}
}

func (v *view) append(line model.LogLine) {
	dropped := v.lines.Insert(line)
	v.refresh()
	switch {
	case v.following():
		v.port.GotoBottom()
	case dropped && v.port.YOffset > 0:
		// everything moved up by one line
		v.port.SetYOffset(v.port.YOffset - 1)
	}
}

// refresh renders the buffered lines into the viewport, one row per line
func (v *view) refresh() {
	lines := v.lines.Collect()
	rows := make([]string, len(lines))
	for i, line := range lines {
		rows[i] = strings.ReplaceAll(v.render(line), "\n", " ")
	}
	v.port.SetContent(strings.Join(rows, "\n"))
}

func (v *view) following() bool {
	return v.autoScroll && !v.scrolledAway
}

func (v *view) offset() int {
	return v.port.YOffset
}

// scroll moves the viewport by delta lines. Reaching the bottom again
// resumes following.
func (v *view) scroll(delta int) {
	if delta < 0 {
		v.port.ScrollUp(-delta)
	} else {
		v.port.ScrollDown(delta)
	}
	v.scrolledAway = !v.port.AtBottom()
}

func (v *view) pageUp() {
	v.port.PageUp()
	v.scrolledAway = !v.port.AtBottom()
}

func (v *view) pageDown() {
	v.port.PageDown()
	v.scrolledAway = !v.port.AtBottom()
}

func (v *view) top() {
	v.port.GotoTop()
	v.scrolledAway = !v.port.AtBottom()
}

// jumpToBottom shows the newest lines and resumes following
func (v *view) jumpToBottom() {
	v.port.GotoBottom()
	v.scrolledAway = false
}

// toggleAutoScroll flips the follow preference and returns it. Turning it
// on jumps to the bottom.
func (v *view) toggleAutoScroll() bool {
	v.autoScroll = !v.autoScroll
	if v.autoScroll {
		v.jumpToBottom()
	}
	return v.autoScroll
}

func (v *view) resize(width, height int) {
	if height < 1 {
		height = 1
	}
	v.port.Width, v.port.Height = width, height
	if v.following() {
		v.port.GotoBottom()
	} else {
		v.port.SetYOffset(v.port.YOffset)
	}
}

// visible returns the lines inside the viewport
func (v *view) visible() []model.LogLine {
	lines := v.lines.Collect()
	start := v.port.YOffset
	if start >= len(lines) {
		return nil
	}
	end := start + v.port.Height
	if end > len(lines) {
		end = len(lines)
	}
	return lines[start:end]
}

// activeJobs returns the latest job of every source, by source name
func (v *view) activeJobs() []model.Job {
	jobs := make([]model.Job, 0, len(v.jobs))
	for _, job := range v.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Source < jobs[j].Source })
	return jobs
}
