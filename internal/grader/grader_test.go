package grader_test

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/programme-lv/grader/internal/classify"
	"github.com/programme-lv/grader/internal/compile"
	"github.com/programme-lv/grader/internal/grader"
	"github.com/programme-lv/grader/internal/procreg"
	"github.com/programme-lv/grader/internal/prompt"
	"github.com/programme-lv/grader/internal/roster"
	"github.com/programme-lv/grader/internal/toolchain"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	events []string
}

func (l *eventLog) StartStudent(s *roster.Student, labIdx int) {
	l.events = append(l.events, "start "+s.ID)
}
func (l *eventLog) NoSubmission(s *roster.Student)    { l.events = append(l.events, "nolab "+s.ID) }
func (l *eventLog) StagingOK(sid string)              { l.events = append(l.events, "staged "+sid) }
func (l *eventLog) StagingFailed(sid string, _ error) { l.events = append(l.events, "failed "+sid) }
func (l *eventLog) MissingSubmissions(studs []roster.Student) {
	for _, s := range studs {
		l.events = append(l.events, "missing "+s.ID)
	}
}
func (l *eventLog) FinishSession() { l.events = append(l.events, "finished") }

type unitRecorder struct {
	units []compile.Unit
}

func (r *unitRecorder) Run(unit compile.Unit) error {
	r.units = append(r.units, unit)
	return nil
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func newSession(t *testing.T, cfg grader.Config, script *prompt.Script) (*grader.Grader, *eventLog, *unitRecorder) {
	t.Helper()
	tc, ok := toolchain.NewRegistry().Get("g++")
	require.True(t, ok)
	rec := &unitRecorder{}
	cl := classify.New(tc, script, rec, nil, nil, classify.WithOutput(io.Discard))
	log := &eventLog{}
	return grader.New(cfg, script, log, cl, procreg.New(), nil), log, rec
}

func TestSessionStagesClassifiesAndCompiles(t *testing.T) {
	labDir := t.TempDir()
	workDir := t.TempDir()
	writeTarGz(t, filepath.Join(labDir, "lab2_stu01.tar.gz"), map[string]string{
		"main.cpp": "int main() {}\n",
	})
	rosterPath := filepath.Join(t.TempDir(), "students.txt")
	require.NoError(t, os.WriteFile(rosterPath, []byte("stu01 Ada Lovelace\n"), 0644))

	script := prompt.NewScript(
		"y", // RUN LAB?
		"c", // USE DIRECTORY? (staging root as part)
		"n", // OPEN FILE? main.cpp
		"n", // RUN LAB? again: move on
	)
	g, log, rec := newSession(t, grader.Config{
		LabDir:     labDir,
		WorkDir:    workDir,
		RosterPath: rosterPath,
	}, script)

	require.NoError(t, g.Run())

	require.Equal(t, []string{"start stu01", "staged stu01", "start stu01", "finished"}, log.events)
	require.Len(t, rec.units, 1)
	require.Equal(t, filepath.Join(workDir, "stu01"), rec.units[0].Dir)
	require.Equal(t, []string{"main.cpp"}, rec.units[0].Sources)
}

func TestSessionOperatorExit(t *testing.T) {
	labDir := t.TempDir()
	workDir := t.TempDir()
	writeTarGz(t, filepath.Join(labDir, "lab2_stu01.tar.gz"), map[string]string{"main.cpp": "x"})
	rosterPath := filepath.Join(t.TempDir(), "students.txt")
	require.NoError(t, os.WriteFile(rosterPath, []byte("stu01 Ada\nstu02 Alan\n"), 0644))

	script := prompt.NewScript("x")
	g, log, rec := newSession(t, grader.Config{
		LabDir:     labDir,
		WorkDir:    workDir,
		RosterPath: rosterPath,
	}, script)

	require.NoError(t, g.Run())
	require.Equal(t, []string{"start stu01"}, log.events)
	require.Empty(t, rec.units)
	require.NoDirExists(t, filepath.Join(workDir, "stu01"))
}

func TestSessionReportsMissingSubmissions(t *testing.T) {
	labDir := t.TempDir()
	workDir := t.TempDir()
	rosterPath := filepath.Join(t.TempDir(), "students.txt")
	require.NoError(t, os.WriteFile(rosterPath, []byte("stu01 Ada\n"), 0644))

	script := prompt.NewScript()
	g, log, _ := newSession(t, grader.Config{
		LabDir:     labDir,
		WorkDir:    workDir,
		RosterPath: rosterPath,
	}, script)

	require.NoError(t, g.Run())
	require.Equal(t, []string{"start stu01", "nolab stu01", "missing stu01", "finished"}, log.events)
}

func TestCleanRemovesStagingDirectories(t *testing.T) {
	labDir := t.TempDir()
	workDir := t.TempDir()
	rosterPath := filepath.Join(t.TempDir(), "students.txt")
	require.NoError(t, os.WriteFile(rosterPath, []byte("stu01 Ada\nstu02 Alan\n"), 0644))

	for _, sid := range []string{"stu01", "stu02"} {
		require.NoError(t, os.MkdirAll(filepath.Join(workDir, sid, "src"), 0755))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "unrelated"), 0755))

	script := prompt.NewScript()
	g, _, _ := newSession(t, grader.Config{
		LabDir:     labDir,
		WorkDir:    workDir,
		RosterPath: rosterPath,
		Clean:      true,
	}, script)

	require.NoError(t, g.Run())
	require.NoDirExists(t, filepath.Join(workDir, "stu01"))
	require.NoDirExists(t, filepath.Join(workDir, "stu02"))
	require.DirExists(t, filepath.Join(workDir, "unrelated"))
}

func TestDisplayOnlySkipsProcessing(t *testing.T) {
	labDir := t.TempDir()
	workDir := t.TempDir()
	writeTarGz(t, filepath.Join(labDir, "lab2_stu01.tar.gz"), map[string]string{"main.cpp": "x"})
	rosterPath := filepath.Join(t.TempDir(), "students.txt")
	require.NoError(t, os.WriteFile(rosterPath, []byte("stu01 Ada\n"), 0644))

	script := prompt.NewScript() // no prompts may be consumed
	g, log, rec := newSession(t, grader.Config{
		LabDir:      labDir,
		WorkDir:     workDir,
		RosterPath:  rosterPath,
		DisplayOnly: true,
	}, script)

	require.NoError(t, g.Run())
	require.Equal(t, []string{"start stu01", "finished"}, log.events)
	require.Empty(t, rec.units)
	require.NoDirExists(t, filepath.Join(workDir, "stu01"))
}
