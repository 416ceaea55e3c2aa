// Package compile supervises building and running one compilation
// unit: it drives the interactive run/skip loop, resolves stdin
// redirection files, executes the toolchain and the produced binary,
// and enforces the consecutive-failure attempt budget.
package compile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/programme-lv/grader/internal/prompt"
	"github.com/programme-lv/grader/internal/toolchain"
)

// DefaultMaxAttempts is the number of consecutive build failures
// tolerated before the loop stops prompting.
const DefaultMaxAttempts = 3

// Unit is one independently buildable group of sources. Sources and
// IncludeDirs are relative to Dir except the first include directory,
// which is Dir itself.
type Unit struct {
	Name        string
	Dir         string
	Sources     []string
	IncludeDirs []string
}

type Supervisor struct {
	tc          *toolchain.Toolchain
	prompter    prompt.Prompter
	inputs      []string // candidate stdin-redirection files
	maxAttempts int
	logger      *slog.Logger

	stdin  io.Reader // inherited by the program when no input file is selected
	stdout io.Writer
	stderr io.Writer

	// runCmd runs a command to completion; swapped out in tests.
	runCmd func(*exec.Cmd) error
}

type Option func(*Supervisor)

func WithMaxAttempts(n int) Option {
	return func(s *Supervisor) { s.maxAttempts = n }
}

// WithStdio overrides the streams wired into spawned processes.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdin, s.stdout, s.stderr = stdin, stdout, stderr
	}
}

func WithRunFunc(run func(*exec.Cmd) error) Option {
	return func(s *Supervisor) { s.runCmd = run }
}

func New(tc *toolchain.Toolchain, prompter prompt.Prompter, inputs []string, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		tc:          tc,
		prompter:    prompter,
		inputs:      inputs,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		runCmd:      (*exec.Cmd).Run,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the compile/run loop for one unit until the operator
// skips it or the attempt budget is exhausted. A native build success
// resets the budget; interpreted invocations have no compile step, so
// only their launch failures move the counter. Exhaustion ends the
// loop without further prompting.
func (s *Supervisor) Run(unit Unit) error {
	attempts := 0
	for attempts < s.maxAttempts {
		q := fmt.Sprintf("RUN PROG? [y]es, [n]o, [i]nfiles --> %s:", unit.Name)
		resp, err := s.prompter.Ask(q, []string{"y", "n", "i"})
		if err != nil {
			return fmt.Errorf("prompt for %s: %w", unit.Name, err)
		}

		switch resp.Token {
		case "n":
			return nil
		case "i":
			s.listInputs()
			continue
		}

		input, ok := s.resolveInput(resp)
		if !ok {
			// invalid index does not consume an attempt
			continue
		}

		if err := s.buildAndRun(unit, input); err != nil {
			color.New(color.FgRed).Fprintf(s.stderr, "*** Error: compile/run failed for %s: %v ***\n", unit.Name, err)
			attempts++
			continue
		}
		if s.tc.NativeCompiled() {
			attempts = 0
		}
	}
	s.logger.Debug("attempt budget exhausted", "unit", unit.Name, "max", s.maxAttempts)
	return nil
}

func (s *Supervisor) listInputs() {
	for i, f := range s.inputs {
		fmt.Fprintf(s.stdout, "%d %s\n", i, f)
	}
}

// resolveInput maps the optional numeric argument of a "run" response
// to an input file path. Empty path means inherited stdin.
func (s *Supervisor) resolveInput(resp prompt.Response) (string, bool) {
	if !resp.HasArg {
		return "", true
	}
	idx, err := strconv.Atoi(resp.Arg)
	if err != nil || idx < 0 || idx >= len(s.inputs) {
		color.New(color.FgYellow).Fprintln(s.stderr, "*** Warning: index for input file is out of range ***")
		return "", false
	}
	input := s.inputs[idx]
	if _, err := os.Stat(input); err != nil {
		color.New(color.FgYellow).Fprintln(s.stderr, "*** Warning: input file does not exist ***")
		return "", false
	}
	return input, true
}

func (s *Supervisor) buildAndRun(unit Unit, input string) error {
	if !s.tc.NativeCompiled() {
		return s.interpret(unit, input)
	}
	if err := s.build(unit); err != nil {
		return err
	}
	return s.execute(unit, input)
}

// build invokes the native toolchain inside the unit's directory.
// Include-directory flags are only meaningful here.
func (s *Supervisor) build(unit Unit) error {
	args := slices.Clone(s.tc.Flags)
	args = append(args, "-o", s.tc.OutputName)
	for _, dir := range unit.IncludeDirs {
		args = append(args, s.tc.IncludeFlag+dir)
	}
	args = append(args, unit.Sources...)

	fmt.Fprintf(s.stdout, "\n*** compiling: %s %s ***\n\n", s.tc.Bin, strings.Join(args, " "))

	cmd := exec.Command(s.tc.Bin, args...)
	cmd.Dir = unit.Dir
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	if err := s.runCmd(cmd); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

// execute runs the binary the build produced, redirecting stdin from
// the selected input file if any. The binary is deleted afterwards
// regardless of how the program exited.
func (s *Supervisor) execute(unit Unit, input string) error {
	bin := filepath.Join(unit.Dir, s.tc.OutputName)
	defer os.Remove(bin)

	cmd := exec.Command(bin)
	cmd.Dir = unit.Dir
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr

	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		cmd.Stdin = f
	} else {
		cmd.Stdin = s.stdin
	}

	if err := s.runCmd(cmd); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// the program's own exit status is its business
			return nil
		}
		return fmt.Errorf("run %s: %w", bin, err)
	}
	return nil
}

// interpret runs an interpreted unit: the invocation is both compile
// and run, so only launch errors count against the budget and a clean
// launch never resets it.
func (s *Supervisor) interpret(unit Unit, input string) error {
	args := slices.Clone(s.tc.Flags)
	args = append(args, unit.Sources...)

	fmt.Fprintf(s.stdout, "\n*** running: %s %s ***\n\n", s.tc.Bin, strings.Join(args, " "))

	cmd := exec.Command(s.tc.Bin, args...)
	cmd.Dir = unit.Dir
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr

	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		cmd.Stdin = f
	} else {
		cmd.Stdin = s.stdin
	}

	if err := s.runCmd(cmd); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("run %s: %w", s.tc.Bin, err)
	}
	return nil
}
