// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package parser defines the contract every format parser satisfies:
// offered a window onto a file, a parser either claims and decodes it or
// rejects it, and nothing in between.
package parser

import (
	"errors"
	"fmt"
	"io"
)

// Input is what a parser is given to inspect. Offset is the position within
// Parent at which the candidate format is claimed to start; Parent may be
// read at any offset >= Offset, but a well-behaved parser never reads before
// it (some signatures, like ISO9660's, are declared with a large positive
// in-pattern offset specifically so the carving pipeline can place Offset
// correctly before the parser ever runs).
type Input struct {
	Parent io.ReaderAt
	Offset int64

	// ParentSize is the total size of Parent, so a parser can bound its reads
	// without its own extra stat call.
	ParentSize int64

	// Name is a filename hint propagated from the carving pipeline (the base
	// name of the parent's logical path, unmodified), used by parsers that
	// want to suggest a child's output name.
	Name string

	// Propagated carries parent-to-child context placed by an earlier parser
	// in the chain (see Info.Propagated in the metadir package), opaque
	// to the contract itself.
	Propagated map[string]any
}

// Sink is where a parser writes the files it unpacks. It mirrors the subset
// of the meta-directory store operations a parser is allowed to call; see
// the metadir package for the concrete implementation.
type Sink interface {
	// WriteRegularFile creates a child file at logicalPath (relative, unless
	// it begins with "/") and streams data into it, returning once fully
	// written.
	WriteRegularFile(logicalPath string, data io.Reader) error

	// WriteDirectory records a structural directory entry with no content.
	WriteDirectory(logicalPath string) error

	// WriteSymlink records a symlink entry. The link is never followed.
	WriteSymlink(logicalPath, target string) error
}

// Result is what a successful Parse call returns.
type Result struct {
	// UnpackedSize is the number of bytes, starting at Input.Offset, that
	// this parser claims. It must be > 0 and <= Input.ParentSize-Input.Offset.
	UnpackedSize int64

	// Labels are tags attached to the meta-directory for this span (e.g.
	// "gzip", "archive", "compressed", "encrypted").
	Labels []string

	// Metadata is free-form, format-specific information (e.g. a gzip
	// original filename, an ELF section list).
	Metadata map[string]any

	// SuggestedName, if non-empty, is a better logical name for the carved
	// child than the pipeline's own extracted/<offset>-<size> default
	// (propagated, for example, from a gzip header's original filename).
	SuggestedName string
}

// Unpacker is implemented by parsers for container formats: given the Sink
// for the MD that was created for the claimed span, it writes every
// contained entry. Parsers for non-container (stream) formats simply don't
// implement this interface; the carving pipeline type-asserts for it.
type Unpacker interface {
	Unpack(sink Sink) error
}

// Parser is the contract every concrete format parser satisfies.
type Parser interface {
	// PrettyName is a stable identifier for this parser, used in labels and
	// logs (e.g. "gzip", "tar", "zip").
	PrettyName() string

	// Parse inspects Input and either returns a Result or a RejectionError.
	// Any other error is treated as fatal to the surrounding job (see the
	// carve package's error taxonomy).
	//
	// Parse is pure with respect to Input.Parent: it may read it, but must
	// not mutate it, must not write outside of its own scratch area, and
	// must not follow symlinks it encounters while decoding. If Parse
	// returns successfully, UnpackedSize is final — parsers must not rely on
	// a later call to compute it.
	Parse(in Input) (Result, error)
}

// RejectionError is the only error a Parser may return to signal "this is
// not my format" (or "this is my format, but truncated/invalid/encrypted
// without a usable key"). Anything else propagates as a fatal error for the
// current job.
type RejectionError struct {
	Parser string
	Reason string
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Parser, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Parser, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// Reject builds a RejectionError. Concrete parsers should use this instead
// of ad-hoc errors so the carving pipeline can reliably distinguish "not my
// format" from a genuine fault.
func Reject(parserName, reason string, cause error) error {
	return &RejectionError{Parser: parserName, Reason: reason, Err: cause}
}

// IsRejection reports whether err is (or wraps) a RejectionError.
func IsRejection(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}

// Signature is an (offset, byte pattern) claim a parser registers with the
// signature index: the parser is a candidate wherever pattern appears at
// file offset (hit-position - offset-within-pattern).
type Signature struct {
	// OffsetWithinPattern is the position, relative to the start of the
	// claimed format, at which Pattern must appear. Usually 0; tar's ustar
	// marker sits at 0x101, ISO9660's at 32769.
	OffsetWithinPattern int64
	Pattern             []byte
}

// Descriptor is the static, immutable capability declaration a parser
// registers with the parser registry (component B). Constructing a new
// instance of the parser itself happens through New for each candidate.
type Descriptor struct {
	PrettyName string

	// Extensions are glob-style filename hints ("*.tar.gz", "*.gz"),
	// matched case-insensitively against the candidate's base name.
	Extensions []string

	Signatures []Signature

	// ScanIfFeatureless marks a parser that should also be tried, at offset
	// 0, against files that matched no signature and no extension.
	ScanIfFeatureless bool

	// New constructs a fresh Parser instance. Parsers are expected to be
	// stateless enough that a new value per candidate is cheap; any actual
	// parse state lives on the instance returned here, not in Descriptor.
	New func() Parser
}
