package compile_test

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/programme-lv/grader/internal/compile"
	"github.com/programme-lv/grader/internal/prompt"
	"github.com/programme-lv/grader/internal/toolchain"
	"github.com/stretchr/testify/require"
)

func gpp(t *testing.T) *toolchain.Toolchain {
	t.Helper()
	tc, ok := toolchain.NewRegistry().Get("g++")
	require.True(t, ok)
	return tc
}

func python3(t *testing.T) *toolchain.Toolchain {
	t.Helper()
	tc, ok := toolchain.NewRegistry().Get("python3")
	require.True(t, ok)
	return tc
}

func quietStdio() compile.Option {
	return compile.WithStdio(nil, io.Discard, io.Discard)
}

func TestAttemptBudgetStopsAfterThreeFailures(t *testing.T) {
	builds := 0
	fail := func(cmd *exec.Cmd) error {
		builds++
		return errors.New("exit status 1")
	}
	// more "y" answers than the budget allows; the loop must stop on
	// its own before the script runs dry
	script := prompt.NewScript("y", "y", "y", "y", "y")

	s := compile.New(gpp(t), script, nil, nil, compile.WithRunFunc(fail), quietStdio())
	err := s.Run(compile.Unit{Name: "main.cpp", Dir: t.TempDir(), Sources: []string{"main.cpp"}})
	require.NoError(t, err)
	require.Equal(t, 3, builds)
	require.Len(t, script.Asked, 3)
}

func TestSuccessResetsAttemptCounter(t *testing.T) {
	// fail, fail, succeed (build+run), fail, fail, fail -> 6 builds;
	// without the reset the loop would stop after the first three.
	outcomes := []error{
		errors.New("exit status 1"),
		errors.New("exit status 1"),
		nil, nil, // build, then run of the produced binary
		errors.New("exit status 1"),
		errors.New("exit status 1"),
		errors.New("exit status 1"),
	}
	calls := 0
	run := func(cmd *exec.Cmd) error {
		err := outcomes[calls]
		calls++
		return err
	}
	script := prompt.NewScript("y", "y", "y", "y", "y", "y")

	s := compile.New(gpp(t), script, nil, nil, compile.WithRunFunc(run), quietStdio())
	err := s.Run(compile.Unit{Name: "main.cpp", Dir: t.TempDir(), Sources: []string{"main.cpp"}})
	require.NoError(t, err)
	require.Equal(t, len(outcomes), calls)
}

func TestSkipExitsWithoutBuilding(t *testing.T) {
	run := func(cmd *exec.Cmd) error {
		t.Fatal("nothing should be built on skip")
		return nil
	}
	script := prompt.NewScript("n")

	s := compile.New(gpp(t), script, nil, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.cpp", Dir: t.TempDir()}))
}

func TestInvalidInputIndexRepromptsWithoutAttempt(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		filepath.Join(dir, "in0.txt"),
		filepath.Join(dir, "missing.txt"),
	}
	require.NoError(t, os.WriteFile(inputs[0], []byte("1 2\n"), 0644))

	builds := 0
	run := func(cmd *exec.Cmd) error {
		builds++
		return nil
	}
	// out-of-range index, missing file, then skip
	script := prompt.NewScript("y 7", "y 1", "n")

	s := compile.New(gpp(t), script, inputs, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.cpp", Dir: dir}))
	require.Equal(t, 0, builds)
	require.Len(t, script.Asked, 3)
}

func TestNativeRunRedirectsStdinAndDeletesBinary(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in0.txt")
	require.NoError(t, os.WriteFile(input, []byte("42\n"), 0644))

	var runStdins []io.Reader
	run := func(cmd *exec.Cmd) error {
		if filepath.Base(cmd.Path) == "prog" {
			runStdins = append(runStdins, cmd.Stdin)
			return nil
		}
		// the build step produces the binary
		return os.WriteFile(filepath.Join(cmd.Dir, "prog"), []byte("#!ELF"), 0755)
	}
	script := prompt.NewScript("y 0", "n")

	s := compile.New(gpp(t), script, []string{input}, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.cpp", Dir: dir, Sources: []string{"main.cpp"}}))

	require.Len(t, runStdins, 1)
	f, ok := runStdins[0].(*os.File)
	require.True(t, ok)
	require.Equal(t, input, f.Name())
	require.NoFileExists(t, filepath.Join(dir, "prog"))
}

func TestNativeRunInheritsStdinWhenNoInputSelected(t *testing.T) {
	dir := t.TempDir()
	inherited := os.Stdin

	var runStdin io.Reader
	run := func(cmd *exec.Cmd) error {
		if filepath.Base(cmd.Path) == "prog" {
			runStdin = cmd.Stdin
			// non-zero program exit must not count as a failure
			return &exec.ExitError{}
		}
		return os.WriteFile(filepath.Join(cmd.Dir, "prog"), []byte("#!ELF"), 0755)
	}
	script := prompt.NewScript("y", "n")

	s := compile.New(gpp(t), script, nil, nil,
		compile.WithRunFunc(run),
		compile.WithStdio(inherited, io.Discard, io.Discard))
	require.NoError(t, s.Run(compile.Unit{Name: "main.cpp", Dir: dir, Sources: []string{"main.cpp"}}))

	require.Same(t, inherited, runStdin)
	require.NoFileExists(t, filepath.Join(dir, "prog"))
}

func TestBuildCommandShape(t *testing.T) {
	dir := t.TempDir()
	var buildArgs []string
	var buildDir string
	run := func(cmd *exec.Cmd) error {
		buildArgs = append([]string{}, cmd.Args...)
		buildDir = cmd.Dir
		return errors.New("exit status 1") // stop after one build
	}
	script := prompt.NewScript("y", "n")

	s := compile.New(gpp(t), script, nil, nil, compile.WithRunFunc(run), quietStdio())
	unit := compile.Unit{
		Name:        "part1",
		Dir:         dir,
		Sources:     []string{"main.cpp", "util/helper.cpp"},
		IncludeDirs: []string{dir, "util"},
	}
	require.NoError(t, s.Run(unit))

	require.Equal(t, dir, buildDir)
	require.Equal(t, []string{
		"g++", "-Wall", "-Wextra", "-pedantic", "-o", "prog",
		"-I" + dir, "-Iutil",
		"main.cpp", "util/helper.cpp",
	}, buildArgs)
}

func TestInterpretedSingleInvocation(t *testing.T) {
	dir := t.TempDir()
	var invocations [][]string
	run := func(cmd *exec.Cmd) error {
		invocations = append(invocations, append([]string{}, cmd.Args...))
		return nil
	}
	script := prompt.NewScript("y", "n")

	s := compile.New(python3(t), script, nil, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.py", Dir: dir, Sources: []string{"main.py"}}))

	require.Equal(t, [][]string{{"python3", "main.py"}}, invocations)
}

func TestInterpretedLaunchErrorCountsAgainstBudget(t *testing.T) {
	launches := 0
	run := func(cmd *exec.Cmd) error {
		launches++
		return errors.New("fork/exec: permission denied")
	}
	script := prompt.NewScript("y", "y", "y", "y")

	s := compile.New(python3(t), script, nil, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.py", Dir: t.TempDir(), Sources: []string{"main.py"}}))
	require.Equal(t, 3, launches)
}

func TestInterpretedSuccessDoesNotResetBudget(t *testing.T) {
	launches := 0
	run := func(cmd *exec.Cmd) error {
		launches++
		if launches == 3 {
			return nil
		}
		return errors.New("fork/exec: permission denied")
	}
	script := prompt.NewScript("y", "y", "y", "y", "y", "y")

	s := compile.New(python3(t), script, nil, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.py", Dir: t.TempDir(), Sources: []string{"main.py"}}))

	// two launch failures, one clean launch, one more failure: the
	// clean launch must not forgive the earlier ones
	require.Equal(t, 4, launches)
}

func TestListInputsDoesNotConsumeAttempt(t *testing.T) {
	builds := 0
	run := func(cmd *exec.Cmd) error {
		builds++
		return errors.New("exit status 1")
	}
	script := prompt.NewScript("i", "i", "y", "y", "y")

	s := compile.New(gpp(t), script, []string{"/tmp/in0.txt"}, nil, compile.WithRunFunc(run), quietStdio())
	require.NoError(t, s.Run(compile.Unit{Name: "main.cpp", Dir: t.TempDir(), Sources: []string{"main.cpp"}}))
	require.Equal(t, 3, builds)
	require.Len(t, script.Asked, 5)
}
