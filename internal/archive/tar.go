package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// TarTree writes the tree rooted at root into out as a tar stream, with
// entry names prefixed by prefix. With lenient set, entries that vanish or
// refuse to open mid-walk are skipped; that is the expected behavior when
// taring a live, mutating tree (the result is crash-consistent, not
// transactionally consistent).
func TarTree(out io.Writer, root, prefix string, lenient bool) error {
	tw := tar.NewWriter(out)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root || !lenient {
				return err
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if lenient {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				if lenient {
					return nil
				}
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}

		switch {
		case info.Mode().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				if lenient {
					return nil
				}
				return err
			}
			if err := tw.WriteHeader(hdr); err != nil {
				f.Close()
				return err
			}
			n, err := io.Copy(tw, f)
			f.Close()
			if err != nil {
				// A file that shrank under us mid-copy cannot produce a
				// valid entry, lenient or not.
				return fmt.Errorf("tar %q after %d bytes: %w", path, n, err)
			}
			return nil
		case info.IsDir(), info.Mode()&fs.ModeSymlink != 0:
			return tw.WriteHeader(hdr)
		default:
			// Sockets and devices are not archived.
			return nil
		}
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// TarTreeToFile tars root into a file at dst. The partial file is removed on
// error.
func TarTreeToFile(dst, root, prefix string, lenient bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}

	if err := TarTree(f, root, prefix, lenient); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// ErrEmptyTree is returned by Build when the staging tree has no entries.
var ErrEmptyTree = errors.New("staging tree is empty")
