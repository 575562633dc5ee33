// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fswalk

import (
	"io/fs"

	"github.com/opencarve/opencarve/internal/parser"
)

// Walk writes every entry of fsys into sink: directories first (so a
// regular file's parent directory always exists before the file, mirroring
// spec.md §4.A's "directory ... recorded as a directory edge"), then
// regular files in filesInDiskOrder. Symlinks are the caller's concern —
// the formats this package currently serves (the single-file compressors
// gzip, bzip2 and xz, via singlefilefs) have none, and zip and tar write
// their own entries directly instead of going through an fs.FS.
func Walk(fsys fs.FS, sink parser.Sink) error {
	if err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." || !d.IsDir() {
			return nil
		}
		return sink.WriteDirectory(p)
	}); err != nil {
		return err
	}

	_, names := filesInDiskOrder(fsys)
	for name := range names {
		if err := writeOne(fsys, name, sink); err != nil {
			return err
		}
	}
	return nil
}

func writeOne(fsys fs.FS, name string, sink parser.Sink) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return sink.WriteRegularFile(name, f)
}
