// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package gzipparser implements the gzip format parser, grounded on the
// teacher's own gzip branch in probe.go: wrap compress/gzip, disable
// multistream so one Parse call claims exactly one member (letting the
// carving pipeline re-invoke the parser at the next offset for
// concatenated streams), and recover the member's original filename from
// the header for SuggestedName.
package gzipparser

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/opencarve/opencarve/internal/parser"
	"github.com/opencarve/opencarve/internal/parsers/fswalk"
	"github.com/opencarve/opencarve/internal/singlefilefs"
	"github.com/opencarve/opencarve/internal/streamcache/blockcache"
)

const prettyName = "gzip"

// unknownSize stands in for "decompressed length not known ahead of time",
// mirroring the teacher's own sizeUnknown sentinel in probe.go; it must
// stay well below the range where off+len(p) could overflow in blockcache.
const unknownSize = int64(1) << 60

const blockSize = 32 * 1024

func Descriptor() *parser.Descriptor {
	return &parser.Descriptor{
		PrettyName: prettyName,
		Extensions: []string{"*.gz", "*.gzip", "*.tgz", "*.taz"},
		Signatures: []parser.Signature{
			{OffsetWithinPattern: 0, Pattern: []byte{0x1f, 0x8b, 0x08}},
		},
		New: func() parser.Parser { return &gzipParser{} },
	}
}

// gzipParser decodes one gzip member. Parse decompresses it once (to learn
// both the original size and the exact number of compressed bytes
// consumed) through a blockcache.ReaderAt backed by allegro/bigcache/v3;
// Unpack re-reads the same cache, so the second full pass over the member
// never re-runs the inflate loop.
type gzipParser struct {
	cache    *blockcache.ReaderAt
	size     int64
	origName string
}

func (p *gzipParser) PrettyName() string { return prettyName }

func (p *gzipParser) Parse(in parser.Input) (parser.Result, error) {
	src := io.NewSectionReader(in.Parent, in.Offset, in.ParentSize-in.Offset)
	cr := &countingReader{r: src}
	br := bufio.NewReaderSize(cr, 1)

	gz, err := gzip.NewReader(br)
	if err != nil {
		return parser.Result{}, parser.Reject(prettyName, "not a gzip stream", err)
	}
	gz.Multistream(false)
	p.origName = gz.Header.Name

	consumed := atomic.Int64{}
	step := stepper(gz, cr, br, &consumed)
	p.cache = blockcache.New(step, unknownSize, fmt.Sprintf("gzip@%d", in.Offset))

	buf := make([]byte, blockSize)
	var size int64
	for {
		n, rerr := p.cache.ReadAt(buf, size)
		size += int64(n)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return parser.Result{}, parser.Reject(prettyName, "truncated or corrupt gzip stream", rerr)
		}
	}
	p.size = size

	n := consumed.Load()
	if n <= 0 {
		return parser.Result{}, parser.Reject(prettyName, "empty gzip stream", nil)
	}

	res := parser.Result{
		UnpackedSize: n,
		Labels:       []string{"gzip", "archive", "compressed"},
		Metadata:     map[string]any{"gzip_original_name": p.origName},
	}
	if p.origName != "" {
		res.SuggestedName = p.origName
	}
	return res, nil
}

// Unpack streams the single decompressed member into the sink under its
// original name if the header carried one, otherwise under the fixed name
// "decompressed". It goes through
// singlefilefs.FS and fswalk.Walk rather than calling sink.WriteRegularFile
// directly: a gzip member is exactly the one-entry archive singlefilefs
// models, and routing it through the same fs.FS-to-sink bridge a future
// multi-file parser would use keeps that bridge exercised by something
// other than its own tests.
func (p *gzipParser) Unpack(sink parser.Sink) error {
	name := p.origName
	if name == "" {
		name = "decompressed"
	}
	fsys := &singlefilefs.FS{
		Name: name,
		FileOpener: func() (io.Reader, error) {
			return io.NewSectionReader(p.cache, 0, p.size), nil
		},
		Size: p.size,
	}
	return fswalk.Walk(fsys, sink)
}

// stepper decompresses gzip in fixed-size chunks for blockcache, and
// records the exact number of compressed bytes consumed (independent of
// any external tool, per spec.md §4.C) once the member is exhausted. br is
// a small bufio.Reader wrapping cr (bufio rounds the requested size 1 up to
// its 16-byte minimum), so cr.n can run ahead of what the flate
// decompressor used; subtracting br.Buffered() removes that read-ahead.
func stepper(gz *gzip.Reader, cr *countingReader, br *bufio.Reader, consumed *atomic.Int64) blockcache.Stepper {
	var step blockcache.Stepper
	step = func() (blockcache.Stepper, []byte, error) {
		buf := make([]byte, blockSize)
		n, err := io.ReadFull(gz, buf)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err == io.EOF {
			consumed.Store(cr.n - int64(br.Buffered()))
		}
		return step, buf[:n], err
	}
	return step
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
