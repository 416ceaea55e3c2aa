// Package extract stages a student submission into a per-student
// directory under the work directory. A submission is either a plain
// directory (copied recursively) or an archive in one of the supported
// container formats. The outcome is atomic from the caller's point of
// view: the staging directory is either fully populated or absent.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/nwaples/rardecode/v2"
)

// ErrUnsupportedFormat is returned when the submission filename carries
// a suffix that no extractor handles. The staging directory is not
// created in that case.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

type Extractor struct {
	workDir   string
	overwrite bool
	logger    *slog.Logger
}

func New(workDir string, overwrite bool, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{workDir: workDir, overwrite: overwrite, logger: logger}
}

// StagingDir returns the directory a submission for the given student
// id is staged into.
func (e *Extractor) StagingDir(sid string) string {
	return filepath.Join(e.workDir, sid)
}

// Extract stages submissionPath into StagingDir(sid) and reports
// whether a populated staging directory is in place afterwards.
//
// An existing staging directory is reused as-is unless the extractor
// was created with overwrite set. On any extraction failure the
// staging directory is removed entirely; only an error during that
// rollback itself is allowed to surface alongside the original cause.
func (e *Extractor) Extract(submissionPath, sid string) (bool, error) {
	dest := e.StagingDir(sid)

	if _, err := os.Stat(dest); err == nil {
		if !e.overwrite {
			e.logger.Info("staging directory exists, reusing", "sid", sid, "dir", dest)
			return true, nil
		}
		if err := os.RemoveAll(dest); err != nil {
			return false, fmt.Errorf("remove existing staging directory: %w", err)
		}
		e.logger.Info("staging directory overwritten", "sid", sid, "dir", dest)
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat staging directory: %w", err)
	}

	format := formatOf(submissionPath)

	if format == "" {
		// No suffix: the submission is a plain directory.
		if err := copyTree(submissionPath, dest); err != nil {
			return false, e.rollback(dest, fmt.Errorf("copy submission directory: %w", err))
		}
		return true, nil
	}

	if !supported(format) {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return false, fmt.Errorf("create staging directory: %w", err)
	}
	if err := e.extractArchive(submissionPath, format, dest, sid); err != nil {
		return false, e.rollback(dest, fmt.Errorf("extract %s archive: %w", format, err))
	}
	return true, nil
}

// rollback removes the staging directory after a failed extraction and
// returns the original cause. A failure during rollback itself leaves
// the staging area in an unknown state and is reported together with
// the cause; callers should treat it as fatal for this submission.
func (e *Extractor) rollback(dest string, cause error) error {
	if rbErr := os.RemoveAll(dest); rbErr != nil {
		return fmt.Errorf("rollback of %s failed (%v) after: %w", dest, rbErr, cause)
	}
	e.logger.Warn("extraction failed, staging directory removed", "dir", dest, "err", cause)
	return cause
}

// formatOf derives the container format tag from the filename suffix.
// The compressed-then-archived pair (".tar.gz", ".tar.bz2") is folded
// into a single compound tag. An empty tag means "plain directory".
func formatOf(path string) string {
	name := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(name)
	// a dot-prefixed name with no further dot has no suffix at all
	if ext == "" || ext == name {
		return ""
	}
	if rest := strings.TrimSuffix(name, ext); strings.HasSuffix(rest, ".tar") {
		ext = filepath.Ext(rest) + ext
	}
	return ext
}

func supported(format string) bool {
	switch format {
	case ".zip", ".rar", ".tar", ".tgz", ".tbz2", ".tar.gz", ".tar.bz2":
		return true
	}
	return false
}

func (e *Extractor) extractArchive(path, format, dest, sid string) error {
	switch format {
	case ".zip":
		return unzip(path, dest)
	case ".rar":
		return unrar(path, dest)
	case ".tar":
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return untar(f, dest)
	case ".tgz", ".tar.gz", ".tbz2", ".tar.bz2":
		return e.extractCompressedTar(path, format, dest, sid)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// extractCompressedTar decompresses the submission into a standalone
// tar file beside the staging area, extracts that, and removes the
// intermediate file again.
func (e *Extractor) extractCompressedTar(path, format, dest, sid string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	var decompressed io.Reader
	switch format {
	case ".tgz", ".tar.gz":
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		decompressed = gz
	case ".tbz2", ".tar.bz2":
		decompressed = bzip2.NewReader(in)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	// Unique name so concurrent grading runs in the same work
	// directory cannot clobber each other's intermediates.
	tmpTar := filepath.Join(e.workDir, fmt.Sprintf(".%s-%s.tar", sid, uuid.NewString()[:8]))
	out, err := os.Create(tmpTar)
	if err != nil {
		return fmt.Errorf("create intermediate tar: %w", err)
	}
	if _, err := io.Copy(out, decompressed); err != nil {
		out.Close()
		os.Remove(tmpTar)
		return fmt.Errorf("decompress into intermediate tar: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpTar)
		return err
	}
	defer os.Remove(tmpTar)

	f, err := os.Open(tmpTar)
	if err != nil {
		return err
	}
	defer f.Close()
	return untar(f, dest)
}

func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		target, err := memberPath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeMember(target, tr, fs.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			// Symlinks, devices etc. have no business in a lab
			// submission; skip them.
		}
	}
}

func unzip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := memberPath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()|0700); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip member %s: %w", f.Name, err)
		}
		err = writeMember(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func unrar(path, dest string) error {
	rr, err := rardecode.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	defer rr.Close()

	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rar header: %w", err)
		}
		target, err := memberPath(dest, hdr.Name)
		if err != nil {
			return err
		}
		if hdr.IsDir {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := writeMember(target, rr, hdr.Mode()); err != nil {
			return err
		}
	}
}

// memberPath resolves an archive member name inside dest and rejects
// names that would escape it.
func memberPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if rel, err := filepath.Rel(dest, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive member %q escapes staging directory", name)
	}
	return target, nil
}

func writeMember(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

func copyTree(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("submission %s has no recognized suffix and is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		info, err := d.Info()
		if err != nil {
			return err
		}
		return writeMember(target, in, info.Mode())
	})
}
