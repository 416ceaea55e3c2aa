// Package classify drives the interactive walk over a staged
// submission. The operator sorts directories into compilation parts
// (or prunes them), may open individual files in a viewer, and source
// files are either compiled on the spot (before any part exists) or
// attributed to the part whose base directory they fall under.
package classify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/programme-lv/grader/internal/compile"
	"github.com/programme-lv/grader/internal/pattern"
	"github.com/programme-lv/grader/internal/prompt"
	"github.com/programme-lv/grader/internal/toolchain"
)

// DefaultPartCapacity bounds how many compilation parts one
// submission may be split into. The historical tool fixed this at two;
// it is a configurable default here, not a structural constant.
const DefaultPartCapacity = 2

// Patterns pruned from the walk before the operator ever sees them.
var (
	prunedDirPatterns  = []string{`^[ \t]*[.~]`, "MACOSX"}
	prunedFilePatterns = []string{`^[ \t]*[.~]`, `\.exe$`}
)

// errAborted unwinds the walk on an operator exit choice.
var errAborted = errors.New("classification aborted by operator")

// Part is one compilation part: the directories contributing include
// paths (first entry is the part's root, later entries are relative to
// it) and the source files attributed to it, relative to the root, in
// visitation order. Both lists are append-only; duplicates are kept.
type Part struct {
	Base    string // base directory name used for attribution
	Dirs    []string
	Sources []string
}

// Runner receives finished units for compilation. Satisfied by
// *compile.Supervisor.
type Runner interface {
	Run(unit compile.Unit) error
}

type ViewerFunc func(path string) error

type Classifier struct {
	tc       *toolchain.Toolchain
	prompter prompt.Prompter
	runner   Runner
	view     ViewerFunc
	capacity int
	out      io.Writer
	logger   *slog.Logger
}

type Option func(*Classifier)

func WithPartCapacity(n int) Option {
	return func(c *Classifier) { c.capacity = n }
}

func WithOutput(w io.Writer) Option {
	return func(c *Classifier) { c.out = w }
}

func New(tc *toolchain.Toolchain, prompter prompt.Prompter, runner Runner, view ViewerFunc, logger *slog.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if view == nil {
		view = func(string) error { return nil }
	}
	c := &Classifier{
		tc:       tc,
		prompter: prompter,
		runner:   runner,
		view:     view,
		capacity: DefaultPartCapacity,
		out:      os.Stdout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Walk interactively classifies the staging directory root. After a
// completed walk every part is handed to the runner in creation
// order; an operator abort unwinds without compiling pending parts.
func (c *Classifier) Walk(root string) error {
	var parts []*Part

	// The relative path of every visited directory starts with the
	// staging directory's own name, so marking the root as a part
	// makes attribution work the same as for any subdirectory.
	base := filepath.Base(root)

	if err := c.listDir(root, base); err != nil {
		return err
	}
	resp, err := c.askDirectory(base)
	if err != nil {
		return err
	}
	switch resp {
	case "c":
		c.markPart(&parts, "", base, root)
	case "n", "x":
		return nil
	}

	if err := c.walkTree(root, base, &parts); err != nil {
		if errors.Is(err, errAborted) {
			c.logger.Info("classification aborted", "dir", root)
			return nil
		}
		return err
	}

	for i, part := range parts {
		fmt.Fprintf(c.out, "\nCompiling lab part %d\n", i+1)
		unit := compile.Unit{
			Name:        part.Base,
			Dir:         part.Dirs[0],
			Sources:     part.Sources,
			IncludeDirs: part.Dirs,
		}
		if err := c.runner.Run(unit); err != nil {
			return fmt.Errorf("compile part %s: %w", part.Base, err)
		}
	}
	return nil
}

// walkTree handles one directory: classify its subdirectories, handle
// its files, then recurse into the kept subtrees.
func (c *Classifier) walkTree(dir, rel string, parts *[]*Part) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}

	var subdirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	subdirs = prune(subdirs, prunedDirPatterns)
	files = prune(files, prunedFilePatterns)

	var descend []string
	for _, name := range subdirs {
		sub := filepath.Join(dir, name)
		if err := c.listDir(sub, path.Join(rel, name)); err != nil {
			return err
		}
		resp, err := c.askDirectory(name)
		if err != nil {
			return err
		}
		switch resp {
		case "n":
			continue // prune: do not descend
		case "x":
			return errAborted
		case "c":
			c.markPart(parts, rel, name, sub)
		}
		descend = append(descend, name)
	}

	for _, name := range files {
		if err := c.handleFile(dir, rel, name, *parts); err != nil {
			return err
		}
	}

	for _, name := range descend {
		if err := c.walkTree(filepath.Join(dir, name), path.Join(rel, name), parts); err != nil {
			return err
		}
	}
	return nil
}

// markPart extends the part whose base directory the marked directory
// falls under, or opens a new part while capacity remains. A request
// beyond capacity is rejected, never overwrites an existing part.
func (c *Classifier) markPart(parts *[]*Part, rel, name, abs string) {
	if p, tail := partFor(*parts, rel); p != nil {
		p.Dirs = append(p.Dirs, path.Join(tail, name))
		return
	}
	if len(*parts) >= c.capacity {
		color.New(color.FgYellow).Fprintf(c.out, "*** Warning: part capacity (%d) reached, %s not marked ***\n", c.capacity, name)
		return
	}
	*parts = append(*parts, &Part{Base: name, Dirs: []string{abs}})
}

func (c *Classifier) handleFile(dir, rel, name string, parts []*Part) error {
	resp, err := c.askFile(path.Join(rel, name))
	if err != nil {
		return err
	}
	switch resp {
	case "x":
		return errAborted
	case "y":
		if err := c.view(filepath.Join(dir, name)); err != nil {
			c.logger.Warn("viewer failed", "file", name, "err", err)
		}
	}

	if !c.tc.IsSource(name) {
		return nil
	}
	if len(parts) == 0 {
		// flat mode: no part opened yet, compile the file by itself
		unit := compile.Unit{Name: name, Dir: dir, Sources: []string{name}}
		if err := c.runner.Run(unit); err != nil {
			return fmt.Errorf("compile %s: %w", name, err)
		}
		return nil
	}
	if p, tail := partFor(parts, rel); p != nil {
		p.Sources = append(p.Sources, path.Join(tail, name))
		return nil
	}
	// A source outside every part's base is dropped without telling
	// the operator. Documented behaviour, kept as-is.
	c.logger.Debug("source file matches no part, dropped", "file", path.Join(rel, name))
	return nil
}

// partFor finds the part whose base name occurs as a segment of the
// relative path and returns it with the path remainder below the base.
func partFor(parts []*Part, rel string) (*Part, string) {
	segs := strings.Split(rel, "/")
	for _, p := range parts {
		if i := slices.Index(segs, p.Base); i >= 0 {
			return p, strings.Join(segs[i+1:], "/")
		}
	}
	return nil, ""
}

func prune(names []string, patterns []string) []string {
	matched, err := pattern.Filter(patterns, names)
	if err != nil {
		// the built-in prune patterns always compile
		panic(err)
	}
	kept := names[:0:0]
	for _, n := range names {
		if !slices.Contains(matched, n) {
			kept = append(kept, n)
		}
	}
	return kept
}

func (c *Classifier) askDirectory(name string) (string, error) {
	q := fmt.Sprintf("USE DIRECTORY? [y]es, [n]o, [c]ompile, e[x]it --> %s:", name)
	resp, err := c.prompter.Ask(q, []string{"y", "n", "c", "x"})
	if err != nil {
		return "", fmt.Errorf("prompt for directory %s: %w", name, err)
	}
	return resp.Token, nil
}

func (c *Classifier) askFile(rel string) (string, error) {
	q := fmt.Sprintf("OPEN FILE? [y]es, [n]o, e[x]it --> %s:", rel)
	resp, err := c.prompter.Ask(q, []string{"y", "n", "x"})
	if err != nil {
		return "", fmt.Errorf("prompt for file %s: %w", rel, err)
	}
	return resp.Token, nil
}

// listDir prints a directory's surviving contents so the operator
// sees what a classification choice covers.
func (c *Classifier) listDir(dir, rel string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	names = prune(names, prunedDirPatterns)
	if len(names) > 0 {
		fmt.Fprintf(c.out, "\n%s/ %v\n", rel, names)
	}
	return nil
}
