// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package metadir

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion is bumped whenever the on-disk shape of Info changes in a
// way a reader must know about. A reader that sees a higher version it
// doesn't recognise refuses to guess.
const FormatVersion = 1

// Hashes holds the digests computed once, in the same streaming pass that
// measures Size.
type Hashes struct {
	SHA256 string `msgpack:"sha256"`
	SHA1   string `msgpack:"sha1"`
	MD5    string `msgpack:"md5"`
	// TLSH is empty when the file was smaller than the minimum TLSH input
	// size, larger than the configured tlsh_maximum, or when no TLSH
	// implementation is wired in (see TLSHHasher).
	TLSH string `msgpack:"tlsh"`
}

// Info is the persisted per-MD record, serialised as info.mpk. It mirrors
// spec.md's §3 info mapping field for field.
type Info struct {
	FormatVersion int `msgpack:"format_version"`

	FilePath string `msgpack:"file_path"`
	Size     int64  `msgpack:"size"`
	Hashes   Hashes `msgpack:"hashes"`

	Labels   []string       `msgpack:"labels"`
	Metadata map[string]any `msgpack:"metadata"`

	// UnpackedRelativeFiles maps a logical child path, relative to this
	// file, to the child MD's ud_path.
	UnpackedRelativeFiles map[string]string `msgpack:"unpacked_relative_files"`
	// UnpackedAbsoluteFiles is the same, for children whose logical path
	// inside the parsed format was absolute; re-anchored under this MD's
	// abs/ subdirectory rather than the real filesystem root.
	UnpackedAbsoluteFiles map[string]string `msgpack:"unpacked_absolute_files"`
	// ExtractedFiles maps an "extracted/<hex-offset>-<hex-length>" span key
	// (see MD.ExtractedFilename) to the
	// child MD's ud_path, for content carved at a non-zero offset or that
	// didn't consume the whole parent.
	ExtractedFiles map[string]string `msgpack:"extracted_files"`

	// Directories and symlinks recorded structurally, with no backing
	// child MD (spec.md §4.A: "record the structural entry ... without
	// allocating a child MD").
	Directories map[string]bool   `msgpack:"directories"`
	Symlinks    map[string]string `msgpack:"symlinks"`
	Hardlinks   map[string]string `msgpack:"hardlinks"`

	// Propagated carries parent-to-child context (e.g. a suggested output
	// name) down to whichever parser handles a child MD next.
	Propagated map[string]any `msgpack:"propagated,omitempty"`

	// CanonicalUDPath is set when this MD is a dedup alias: its bytes are
	// identical (by sha256) to an MD that already exists, so this record
	// points at the canonical one instead of duplicating labels/metadata.
	CanonicalUDPath string `msgpack:"canonical_ud_path,omitempty"`
}

func newInfo() Info {
	return Info{
		FormatVersion:         FormatVersion,
		UnpackedRelativeFiles: map[string]string{},
		UnpackedAbsoluteFiles: map[string]string{},
		ExtractedFiles:        map[string]string{},
		Directories:           map[string]bool{},
		Symlinks:              map[string]string{},
		Hardlinks:             map[string]string{},
	}
}

func encodeInfo(info Info) ([]byte, error) {
	return msgpack.Marshal(&info)
}

// DecodeInfo exposes decodeInfo for read-only consumers outside this
// package (the "show" CLI command, the WebDAV browse reporter) that load
// an already-closed MD's info.mpk directly off disk instead of through a
// live Store.
func DecodeInfo(b []byte) (Info, error) {
	return decodeInfo(b)
}

func decodeInfo(b []byte) (Info, error) {
	var info Info
	if err := msgpack.Unmarshal(b, &info); err != nil {
		return Info{}, fmt.Errorf("metadir: decode info.mpk: %w", err)
	}
	if info.FormatVersion > FormatVersion {
		return Info{}, fmt.Errorf("metadir: info.mpk format_version %d is newer than this build understands (%d)", info.FormatVersion, FormatVersion)
	}
	if info.UnpackedRelativeFiles == nil {
		info.UnpackedRelativeFiles = map[string]string{}
	}
	if info.UnpackedAbsoluteFiles == nil {
		info.UnpackedAbsoluteFiles = map[string]string{}
	}
	if info.ExtractedFiles == nil {
		info.ExtractedFiles = map[string]string{}
	}
	if info.Directories == nil {
		info.Directories = map[string]bool{}
	}
	if info.Symlinks == nil {
		info.Symlinks = map[string]string{}
	}
	if info.Hardlinks == nil {
		info.Hardlinks = map[string]string{}
	}
	return info, nil
}
