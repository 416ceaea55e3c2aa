// Package prompt is the line-oriented operator channel: every
// classification and compilation decision blocks on a response drawn
// from a small fixed token set, re-prompting until one is given.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
)

// Response is one accepted operator answer. Arg carries the optional
// trailing argument some prompts accept (e.g. an input-file index).
type Response struct {
	Token  string
	Arg    string
	HasArg bool
}

// Prompter asks the operator a question and blocks until one of the
// allowed tokens is entered. Implementations must re-prompt on invalid
// input; an error means the response channel itself is gone.
type Prompter interface {
	Ask(question string, tokens []string) (Response, error)
}

// Terminal prompts on an io.Writer and reads answers line by line.
type Terminal struct {
	scanner *bufio.Scanner
	out     io.Writer
	accent  *color.Color
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		scanner: bufio.NewScanner(in),
		out:     out,
		accent:  color.New(color.FgCyan, color.Bold),
	}
}

func (t *Terminal) Ask(question string, tokens []string) (Response, error) {
	for {
		t.accent.Fprint(t.out, question)
		fmt.Fprint(t.out, " ")
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return Response{}, fmt.Errorf("read operator response: %w", err)
			}
			return Response{}, io.EOF
		}
		resp, ok := parse(t.scanner.Text(), tokens)
		if ok {
			fmt.Fprintln(t.out)
			return resp, nil
		}
	}
}

func parse(line string, tokens []string) (Response, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Response{}, false
	}
	token := strings.ToLower(fields[0])
	if !slices.Contains(tokens, token) {
		return Response{}, false
	}
	resp := Response{Token: token}
	if len(fields) > 1 {
		resp.Arg = fields[1]
		resp.HasArg = true
	}
	return resp, true
}

// Script replays a fixed sequence of responses. It backs tests of the
// interactive walk and the compile loop; asking past the end is an
// error so a runaway loop fails fast instead of hanging.
type Script struct {
	Lines []string
	next  int
	Asked []string
}

func NewScript(lines ...string) *Script { return &Script{Lines: lines} }

func (s *Script) Ask(question string, tokens []string) (Response, error) {
	s.Asked = append(s.Asked, question)
	for s.next < len(s.Lines) {
		line := s.Lines[s.next]
		s.next++
		if resp, ok := parse(line, tokens); ok {
			return resp, nil
		}
	}
	return Response{}, fmt.Errorf("script exhausted at question %q", question)
}
