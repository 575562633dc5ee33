// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package bzip2parser implements the bzip2 format parser, grounded on the
// same counting-reader technique as internal/parsers/gzipparser: compress/
// bzip2 only offers a Reader (there is no standard-library bzip2 encoder),
// so unlike gzip there is no Multistream knob to disable, but a bzip2 stream
// is still just a sequence of independently-terminated blocks and the
// decoder stops exactly at the end of one logical stream, which is all the
// carving pipeline needs.
package bzip2parser

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/opencarve/opencarve/internal/parser"
	"github.com/opencarve/opencarve/internal/parsers/fswalk"
	"github.com/opencarve/opencarve/internal/singlefilefs"
	"github.com/opencarve/opencarve/internal/streamcache/blockcache"
)

const prettyName = "bzip2"

// unknownSize mirrors gzipparser's sentinel: the decompressed length isn't
// known until the stream is fully consumed.
const unknownSize = int64(1) << 60

const blockSize = 32 * 1024

func Descriptor() *parser.Descriptor {
	return &parser.Descriptor{
		PrettyName: prettyName,
		Extensions: []string{"*.bz2", "*.tbz", "*.tbz2", "*.tb2"},
		Signatures: []parser.Signature{
			{OffsetWithinPattern: 0, Pattern: []byte("BZh")},
		},
		New: func() parser.Parser { return &bzip2Parser{} },
	}
}

// bzip2Parser decodes one bzip2 stream. Like gzipParser, it decompresses
// once during Parse into a blockcache.ReaderAt and Unpack re-reads that same
// cache, so the bzip2 decoder only ever runs once per candidate span.
type bzip2Parser struct {
	cache *blockcache.ReaderAt
	size  int64
}

func (p *bzip2Parser) PrettyName() string { return prettyName }

func (p *bzip2Parser) Parse(in parser.Input) (parser.Result, error) {
	src := io.NewSectionReader(in.Parent, in.Offset, in.ParentSize-in.Offset)
	cr := &countingReader{r: src}
	br := bufio.NewReaderSize(cr, 1)

	bz := bzip2.NewReader(br)

	consumed := atomic.Int64{}
	step := stepper(bz, cr, br, &consumed)
	p.cache = blockcache.New(step, unknownSize, fmt.Sprintf("bzip2@%d", in.Offset))

	buf := make([]byte, blockSize)
	var size int64
	for {
		n, rerr := p.cache.ReadAt(buf, size)
		size += int64(n)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return parser.Result{}, parser.Reject(prettyName, "truncated or corrupt bzip2 stream", rerr)
		}
	}
	p.size = size

	n := consumed.Load()
	if n <= 0 {
		return parser.Result{}, parser.Reject(prettyName, "empty bzip2 stream", nil)
	}

	return parser.Result{
		UnpackedSize: n,
		Labels:       []string{"bzip2", "archive", "compressed"},
	}, nil
}

// Unpack streams the decompressed content into the sink under the fixed
// name "decompressed" (bzip2 carries no internal filename field, unlike
// gzip). Like gzipparser, it goes through
// singlefilefs.FS and fswalk.Walk rather than writing directly, since a
// bzip2 stream is the same one-entry-archive shape.
func (p *bzip2Parser) Unpack(sink parser.Sink) error {
	fsys := &singlefilefs.FS{
		Name: "decompressed",
		FileOpener: func() (io.Reader, error) {
			return io.NewSectionReader(p.cache, 0, p.size), nil
		},
		Size: p.size,
	}
	return fswalk.Walk(fsys, sink)
}

func stepper(bz io.Reader, cr *countingReader, br *bufio.Reader, consumed *atomic.Int64) blockcache.Stepper {
	var step blockcache.Stepper
	step = func() (blockcache.Stepper, []byte, error) {
		buf := make([]byte, blockSize)
		n, err := io.ReadFull(bz, buf)
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
