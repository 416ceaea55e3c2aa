// Package report decouples grading-session progress from its
// presentation. The orchestrator emits events; sinks decide how to
// show them.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/grader/internal/roster"
)

// Gatherer receives session events in the order they happen.
type Gatherer interface {
	StartStudent(s *roster.Student, labIdx int)
	NoSubmission(s *roster.Student)
	StagingOK(sid string)
	StagingFailed(sid string, err error)
	MissingSubmissions(studs []roster.Student)
	FinishSession()
}

// Terminal prints session events for the operator.
type Terminal struct {
	out       io.Writer
	startedAt time.Time
	header    *color.Color
	warn      *color.Color
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{
		out:       out,
		startedAt: time.Now(),
		header:    color.New(color.Bold),
		warn:      color.New(color.FgYellow),
	}
}

func (t *Terminal) StartStudent(s *roster.Student, labIdx int) {
	fmt.Fprintln(t.out)
	t.header.Fprintln(t.out, s.Label(labIdx))
	fmt.Fprintln(t.out)
}

func (t *Terminal) NoSubmission(s *roster.Student) {
	t.warn.Fprintln(t.out, "*** Warning: no lab found for student ***")
}

func (t *Terminal) StagingOK(sid string) {
	fmt.Fprintln(t.out, "*** lab running directory...ready ***")
}

func (t *Terminal) StagingFailed(sid string, err error) {
	t.warn.Fprintf(t.out, "*** Error: failed to uncompress/copy lab: %v ***\n\n", err)
}

func (t *Terminal) MissingSubmissions(studs []roster.Student) {
	if len(studs) == 0 {
		return
	}
	t.warn.Fprintln(t.out, "\n\n*** Students missing lab ***")
	for _, s := range studs {
		fmt.Fprintln(t.out, s.Label(-1))
	}
}

func (t *Terminal) FinishSession() {
	dur := time.Since(t.startedAt).Round(time.Second)
	fmt.Fprintf(t.out, "\nGrading session finished in %s\n", dur)
}
