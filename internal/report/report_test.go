package report_test

import (
	"bytes"
	"testing"

	"github.com/programme-lv/grader/internal/report"
	"github.com/programme-lv/grader/internal/roster"
	"github.com/stretchr/testify/require"
)

func TestTerminalSessionOutput(t *testing.T) {
	var out bytes.Buffer
	term := report.NewTerminal(&out)

	stud := roster.Student{ID: "stu01", Name: "Ada Lovelace"}
	term.StartStudent(&stud, -1)
	term.NoSubmission(&stud)
	term.StagingOK("stu01")
	term.MissingSubmissions([]roster.Student{stud})
	term.FinishSession()

	s := out.String()
	require.Contains(t, s, "Ada Lovelace")
	require.Contains(t, s, "*** Warning: no lab found for student ***")
	require.Contains(t, s, "*** lab running directory...ready ***")
	require.Contains(t, s, "*** Students missing lab ***")
	require.Contains(t, s, "Grading session finished in")
}
