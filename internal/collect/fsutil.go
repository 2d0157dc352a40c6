package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CopyFile copies src into the staging tree at rel, preserving the source
// mode on the copy. When src is unreadable, its mode is widened through the
// ledger (and restored at the end of the run) before one retry.
func (s *Stage) CopyFile(src, rel string) error {
	dst := filepath.Join(s.Root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	in, err := os.Open(src)
	if errors.Is(err, fs.ErrPermission) {
		if info, serr := os.Stat(src); serr == nil {
			s.Ledger.Acquire(src, info.Mode().Perm()|0o400)
		}
		in, err = os.Open(src)
	}
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0o400)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %q: %w", src, err)
	}
	return out.Close()
}

// CopyTree copies the tree at src into the staging tree at rel. Entries that
// vanish or stay unreadable are logged and skipped; a partial copy of a
// mutating tree is expected.
func (s *Stage) CopyTree(src, rel string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return s.CopyFile(src, rel)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == src {
				return err
			}
			if errors.Is(err, fs.ErrPermission) {
				s.Ledger.Acquire(path, 0o555)
			}
			s.Log.Debug("skipping unreadable entry", "path", path, "error", err)
			return nil
		}

		relPath, rerr := filepath.Rel(src, path)
		if rerr != nil {
			return rerr
		}
		target := filepath.Join(rel, relPath)

		switch {
		case d.IsDir():
			_, err := s.EnsureDir(target)
			return err
		case d.Type().IsRegular():
			if err := s.CopyFile(path, target); err != nil {
				s.Log.Debug("skipping file", "path", path, "error", err)
			}
			return nil
		default:
			// Sockets, devices and symlinks carry no backup value here.
			return nil
		}
	})
}

// CaptureCommand runs a host command and stores its stdout as a staging file.
// The command must exist on PATH.
func (s *Stage) CaptureCommand(ctx context.Context, rel, name string, args ...string) error {
	if _, err := exec.LookPath(name); err != nil {
		return err
	}

	dst := filepath.Join(s.Root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	cctx, cancel := s.commandContext(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return out.Close()
}
