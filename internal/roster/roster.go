// Package roster loads the student info file and pairs each student
// with their submissions found in the lab directory.
package roster

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/programme-lv/grader/internal/pattern"
)

type Student struct {
	ID          string
	Name        string
	Submissions []string // absolute paths into the lab directory
	Pos         int      // position in the loaded roster, zero-based
}

// Label renders the student header shown before each submission. With
// idx >= 0 only that submission's file name is shown.
func (s *Student) Label(idx int) string {
	var labs []string
	for i, l := range s.Submissions {
		if idx >= 0 && i != idx {
			continue
		}
		labs = append(labs, filepath.Base(l))
	}
	return fmt.Sprintf("%d. %s (%s) --> [%s]", s.Pos+1, s.Name, s.ID, strings.Join(labs, ", "))
}

// Load reads the roster at rosterPath and locates each student's
// submissions in labDir by id substring match. Lines starting with
// '#' are comments. When startAt is non-empty, students before the
// first id matching it are skipped; that student and all following
// are kept. An empty rosterPath selects manual mode: one synthetic
// student owning every entry of the lab directory.
func Load(rosterPath, labDir, startAt string) ([]Student, error) {
	entries, err := os.ReadDir(labDir)
	if err != nil {
		return nil, fmt.Errorf("read lab directory: %w", err)
	}
	labs := make([]string, 0, len(entries))
	for _, e := range entries {
		labs = append(labs, e.Name())
	}

	if rosterPath == "" {
		subs := make([]string, 0, len(labs))
		for _, l := range labs {
			subs = append(subs, filepath.Join(labDir, l))
		}
		return []Student{{ID: "unknown", Name: "manual", Submissions: subs}}, nil
	}

	data, err := os.ReadFile(rosterPath)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	comments, err := pattern.Filter([]string{`^\s*#`}, lines)
	if err != nil {
		return nil, err
	}

	var students []Student
	selected := startAt == ""
	pos := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" || slices.Contains(comments, line) {
			continue
		}
		id, name := parseEntry(line)

		if !selected {
			match, err := pattern.Filter([]string{startAt}, []string{id})
			if err != nil {
				return nil, fmt.Errorf("student selection: %w", err)
			}
			if len(match) == 0 {
				continue
			}
			selected = true
		}

		found, err := pattern.Filter([]string{id}, labs)
		if err != nil {
			return nil, fmt.Errorf("locate submission for %s: %w", id, err)
		}
		subs := make([]string, 0, len(found))
		for _, l := range found {
			subs = append(subs, filepath.Join(labDir, l))
		}

		students = append(students, Student{ID: id, Name: name, Submissions: subs, Pos: pos})
		pos++
	}
	return students, nil
}

// parseEntry splits a whitespace-delimited roster line into id and
// display name. Compound last names are joined back together.
func parseEntry(line string) (id, name string) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		return fields[0], ""
	case 2:
		return fields[0], fields[1]
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
