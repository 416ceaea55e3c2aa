// Package toolchain describes the compiler or interpreter a grading
// run uses: how source files are recognized, how a build is invoked
// and what it produces.
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pelletier/go-toml/v2"
)

type Kind string

const (
	// Native toolchains compile sources into a binary that is run in
	// a separate step.
	Native Kind = "native"
	// Interpreted toolchains run the sources directly; the single
	// invocation is both compile and run.
	Interpreted Kind = "interpreted"
)

type Toolchain struct {
	Name        string
	Kind        Kind
	Bin         string
	Flags       []string
	IncludeFlag string // prepended to each include directory, native only
	OutputName  string // binary produced by a successful build, native only
	exts        mapset.Set[string]
}

func (t *Toolchain) NativeCompiled() bool { return t.Kind == Native }

// IsSource reports whether the file name carries one of the
// toolchain's recognized source extensions.
func (t *Toolchain) IsSource(name string) bool {
	return t.exts.Contains(strings.ToLower(filepath.Ext(name)))
}

func newToolchain(name string, kind Kind, bin string, flags []string, includeFlag, output string, exts []string) *Toolchain {
	set := mapset.NewSet[string]()
	for _, e := range exts {
		set.Add(strings.ToLower(e))
	}
	return &Toolchain{
		Name:        name,
		Kind:        kind,
		Bin:         bin,
		Flags:       flags,
		IncludeFlag: includeFlag,
		OutputName:  output,
		exts:        set,
	}
}

// Registry maps toolchain names to their descriptions. A fresh
// registry carries the built-in g++ and python3 entries; more can be
// merged in from a TOML file.
type Registry struct {
	byName map[string]*Toolchain
}

func NewRegistry() *Registry {
	r := &Registry{byName: map[string]*Toolchain{}}
	r.put(newToolchain(
		"g++", Native, "g++",
		[]string{"-Wall", "-Wextra", "-pedantic"},
		"-I", "prog",
		[]string{".cpp", ".c"},
	))
	r.put(newToolchain(
		"python3", Interpreted, "python3",
		nil, "", "",
		[]string{".py"},
	))
	return r
}

func (r *Registry) put(t *Toolchain) { r.byName[t.Name] = t }

func (r *Registry) Get(name string) (*Toolchain, bool) {
	t, ok := r.byName[name]
	return t, ok
}

type fileSpec struct {
	Name        string   `toml:"name"`
	Kind        string   `toml:"kind"`
	Bin         string   `toml:"bin"`
	Flags       []string `toml:"flags"`
	IncludeFlag string   `toml:"include_flag"`
	Output      string   `toml:"output"`
	Extensions  []string `toml:"extensions"`
}

type fileRoot struct {
	Toolchains []fileSpec `toml:"toolchains"`
}

// LoadFile merges toolchain definitions from a TOML file into the
// registry. Entries with a name already present replace the built-in.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read toolchains file: %w", err)
	}
	var root fileRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse toolchains file: %w", err)
	}
	for _, spec := range root.Toolchains {
		if spec.Name == "" || spec.Bin == "" {
			return fmt.Errorf("toolchain entry requires name and bin (name=%q)", spec.Name)
		}
		kind := Kind(spec.Kind)
		switch kind {
		case Native, Interpreted:
		default:
			return fmt.Errorf("toolchain %s: unknown kind %q", spec.Name, spec.Kind)
		}
		if kind == Native && spec.Output == "" {
			return fmt.Errorf("toolchain %s: native toolchains require an output name", spec.Name)
		}
		if len(spec.Extensions) == 0 {
			return fmt.Errorf("toolchain %s: at least one source extension is required", spec.Name)
		}
		r.put(newToolchain(spec.Name, kind, spec.Bin, spec.Flags, spec.IncludeFlag, spec.Output, spec.Extensions))
	}
	return nil
}
