// Package archive finalizes a staging tree into a single zstd-compressed tar
// archive.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Build produces a tar.zst of the staging tree at outPath and returns the
// archive size. The partial archive is removed on any error, so a failed run
// never leaves one behind.
func Build(stagingPath, outPath string) (int64, error) {
	entries, err := os.ReadDir(stagingPath)
	if err != nil {
		return 0, fmt.Errorf("read staging tree: %w", err)
	}
	if len(entries) == 0 {
		return 0, ErrEmptyTree
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
		return 0, err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	fail := func(err error) (int64, error) {
		out.Close()
		os.Remove(outPath)
		return 0, err
	}

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fail(fmt.Errorf("create zstd writer: %w", err))
	}

	prefix := archivePrefix(outPath)
	if err := TarTree(zw, stagingPath, prefix, false); err != nil {
		zw.Close()
		return fail(fmt.Errorf("archive staging tree: %w", err))
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("flush zstd stream: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return 0, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// archivePrefix derives the top-level directory name inside the archive from
// the archive filename, stripping the .tar.zst suffix.
func archivePrefix(outPath string) string {
	name := filepath.Base(outPath)
	for _, suffix := range []string{".zst", ".tar"} {
		if ext := filepath.Ext(name); ext == suffix {
			name = name[:len(name)-len(ext)]
		}
	}
	return name
}
