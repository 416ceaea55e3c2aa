// Package procreg tracks child processes spawned on behalf of one
// submission (file viewers and the like) so an operator exit can take
// them down before the grader returns.
package procreg

import (
	"os"

	"github.com/puzpuzpuz/xsync/v3"
)

type Registry struct {
	procs *xsync.MapOf[int, *os.Process]
}

func New() *Registry {
	return &Registry{procs: xsync.NewMapOf[int, *os.Process]()}
}

func (r *Registry) Add(p *os.Process) {
	if p == nil {
		return
	}
	r.procs.Store(p.Pid, p)
}

func (r *Registry) Remove(pid int) {
	r.procs.Delete(pid)
}

func (r *Registry) Len() int {
	return r.procs.Size()
}

// KillAll terminates every registered process and empties the
// registry. Processes that already exited are simply dropped.
func (r *Registry) KillAll() {
	r.procs.Range(func(pid int, p *os.Process) bool {
		_ = p.Kill()
		r.procs.Delete(pid)
		return true
	})
}
