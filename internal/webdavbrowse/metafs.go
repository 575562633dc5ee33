// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package webdavbrowse

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/opencarve/opencarve/internal/metadir"
)

// infoJSONName is a synthetic file under every meta-directory rendering
// that MD's info.mpk as human-readable JSON, since the real info.mpk is a
// binary msgpack blob not worth serving raw to a browser or the "show" CLI
// command.
const infoJSONName = "info.json"

// MetaFS presents a finished unpack root read-only as an fs.FS: the same
// on-disk layout spec.md §6 describes (pathname, rel/, abs/, extracted/
// symlinks keyed by logical name) is already directly browsable via
// os.DirFS, since metadir.Store materialises every child under its own
// directory and symlinks it in under its parent by logical path. MetaFS
// only adds the info.json synthesis on top.
type MetaFS struct {
	root string
	dir  fs.FS
}

// NewMetaFS opens unpackRoot (an already-scanned metadir.Store root, or one
// still being scanned) for read-only browsing.
func NewMetaFS(unpackRoot string) *MetaFS {
	return &MetaFS{root: unpackRoot, dir: os.DirFS(unpackRoot)}
}

func (m *MetaFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if path.Base(name) == infoJSONName {
		return m.openInfoJSON(path.Dir(name))
	}
	f, err := m.dir.Open(name)
	if err != nil {
		return nil, err
	}
	if rdf, ok := f.(fs.ReadDirFile); ok {
		return &decoratedDir{ReadDirFile: rdf, fsys: m, dirName: name}, nil
	}
	return f, nil
}

// openInfoJSON loads <unpack_root>/<mdDir>/info.mpk and renders it as
// indented JSON.
func (m *MetaFS) openInfoJSON(mdDir string) (fs.File, error) {
	raw, err := os.ReadFile(filepath.Join(m.root, filepath.FromSlash(mdDir), "info.mpk"))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: mdDir, Err: err}
	}
	info, err := metadir.DecodeInfo(raw)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: mdDir, Err: err}
	}
	pretty, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	return &memFile{name: infoJSONName, data: pretty, modTime: time.Now()}, nil
}

// hasInfo reports whether dirName (relative to the unpack root) is a meta-
// directory (i.e. it has an info.mpk next to it), so decoratedDir only
// injects the synthetic entry where it actually applies.
func (m *MetaFS) hasInfo(dirName string) bool {
	_, err := os.Stat(filepath.Join(m.root, filepath.FromSlash(dirName), "info.mpk"))
	return err == nil
}

// decoratedDir wraps a real directory handle to inject the synthetic
// info.json entry into full (n<=0) listings, the only form the WebDAV
// reporter's dirList and PROPFIND walk ever request.
type decoratedDir struct {
	fs.ReadDirFile
	fsys    *MetaFS
	dirName string
}

func (d *decoratedDir) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := d.ReadDirFile.ReadDir(n)
	if n > 0 || err != nil {
		return entries, err
	}
	if d.fsys.hasInfo(d.dirName) {
		entries = append(entries, infoDirEntry{})
	}
	return entries, nil
}

type infoDirEntry struct{}

func (infoDirEntry) Name() string               { return infoJSONName }
func (infoDirEntry) IsDir() bool                 { return false }
func (infoDirEntry) Type() fs.FileMode           { return 0 }
func (e infoDirEntry) Info() (fs.FileInfo, error) { return memFileInfo{e.Name()}, nil }

type memFileInfo struct{ name string }

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return 0 }
func (i memFileInfo) Mode() fs.FileMode  { return 0o444 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }

// memFile is a read-only in-memory fs.File, used for the synthesised
// info.json view.
type memFile struct {
	name    string
	data    []byte
	modTime time.Time
	r       *bytes.Reader
}

func (f *memFile) ensure() *bytes.Reader {
	if f.r == nil {
		f.r = bytes.NewReader(f.data)
	}
	return f.r
}

func (f *memFile) Read(p []byte) (int, error) { return f.ensure().Read(p) }
func (f *memFile) Close() error               { return nil }
func (f *memFile) Stat() (fs.FileInfo, error) { return f, nil }
func (f *memFile) Name() string               { return f.name }
func (f *memFile) Size() int64                { return int64(len(f.data)) }
func (f *memFile) Mode() fs.FileMode          { return 0o444 }
func (f *memFile) ModTime() time.Time         { return f.modTime }
func (f *memFile) IsDir() bool                { return false }
func (f *memFile) Sys() any                   { return nil }

// ReadAt lets http.ServeContent seek, same as any stdlib in-memory reader.
func (f *memFile) ReadAt(p []byte, off int64) (int, error) { return f.ensure().ReadAt(p, off) }

// Seek supports io.ReadSeeker, required by webdavbrowse's handleGetHead.
func (f *memFile) Seek(offset int64, whence int) (int64, error) { return f.ensure().Seek(offset, whence) }
