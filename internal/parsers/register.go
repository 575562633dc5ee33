// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package parsers is the single place that lists every concrete format
// parser this build ships, mirroring the teacher's own probeArchive switch
// in probe.go: one function that knows about every format, instead of each
// format registering itself through an init side effect.
package parsers

import (
	"github.com/opencarve/opencarve/internal/parser"
	"github.com/opencarve/opencarve/internal/parsers/bzip2parser"
	"github.com/opencarve/opencarve/internal/parsers/gzipparser"
	"github.com/opencarve/opencarve/internal/parsers/tarparser"
	"github.com/opencarve/opencarve/internal/parsers/xzparser"
	"github.com/opencarve/opencarve/internal/parsers/zipparser"
)

// Descriptors returns every parser.Descriptor this build knows about, in
// the order a registry built from them should prefer when several formats
// could plausibly claim the same signature hit (more specific, narrower
// formats first).
func Descriptors() []*parser.Descriptor {
	return []*parser.Descriptor{
		zipparser.Descriptor(),
		tarparser.Descriptor(),
		gzipparser.Descriptor(),
		bzip2parser.Descriptor(),
		xzparser.Descriptor(),
	}
}
