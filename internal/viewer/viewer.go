// Package viewer opens submission files in an external program picked
// by file extension. Viewers run detached with their output discarded;
// their handles go into the process registry so a global exit can
// close them.
package viewer

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/programme-lv/grader/internal/procreg"
)

type Viewer struct {
	registry *procreg.Registry
	logger   *slog.Logger

	// launch starts the command without waiting; swapped out in tests.
	launch func(*exec.Cmd) error
}

func New(registry *procreg.Registry, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		registry: registry,
		logger:   logger,
		launch:   (*exec.Cmd).Start,
	}
}

// programFor maps a file extension to the viewer binary to open it
// with. Unknown extensions are treated as plain text.
func programFor(ext string) string {
	switch ext {
	case ".cpp", ".hpp", ".c", ".h", ".py":
		return "/usr/bin/gedit"
	case ".doc", ".docx", ".rtf", ".odt":
		return "/usr/bin/lowriter"
	case ".xlsx":
		return "/usr/bin/localc"
	case ".pdf":
		return "/usr/bin/evince"
	case ".jpg", ".png":
		return "/usr/bin/gpicview"
	case ".mp4", ".avi":
		return "/usr/bin/vlc"
	default:
		return "/usr/bin/gedit"
	}
}

// Open spawns a viewer for the file and registers the child process.
func (v *Viewer) Open(path string) error {
	prog := programFor(strings.ToLower(filepath.Ext(path)))
	cmd := exec.Command(prog, path)
	// stdout/stderr stay nil: discarded, not inherited

	if err := v.launch(cmd); err != nil {
		return fmt.Errorf("open %s with %s: %w", path, prog, err)
	}
	v.logger.Debug("opened file in viewer", "file", path, "viewer", prog)
	if cmd.Process != nil {
		v.registry.Add(cmd.Process)
		// reap the viewer when it exits on its own
		go func() {
			pid := cmd.Process.Pid
			_ = cmd.Wait()
			v.registry.Remove(pid)
		}()
	}
	return nil
}
