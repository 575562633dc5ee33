// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package registry indexes every known parser two ways: by filename
// extension (a cheap hint) and by the multi-pattern signature automaton
// (the ground truth for where in a byte stream a format actually starts).
// The carve package consults both.
package registry

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencarve/opencarve/internal/parser"
)

// Candidate names a parser together with the offset, relative to a
// signature hit, at which the candidate format is claimed to begin.
type Candidate struct {
	Descriptor          *parser.Descriptor
	OffsetWithinPattern int64
}

// Registry is the built index over a fixed set of parser descriptors. It
// is immutable once built and safe for concurrent use by every scheduler
// worker.
type Registry struct {
	descriptors []*parser.Descriptor
	matcher     *Matcher
	// patternOwner maps a pattern index (as seen by Matcher.Scan) back to
	// its owning descriptor and declared offset-within-pattern.
	patternOwner []Candidate
	// featureless lists every parser that opted into being tried against
	// files that matched nothing else.
	featureless []*parser.Descriptor
}

// New builds a Registry from a fixed list of descriptors. Descriptors with
// no signatures and ScanIfFeatureless == false are still registered for
// extension matching; they simply never surface from the signature sweep
// (Matcher/Resolve).
func New(descriptors []*parser.Descriptor) *Registry {
	r := &Registry{descriptors: descriptors}

	var patterns [][]byte
	for _, d := range descriptors {
		for _, sig := range d.Signatures {
			patterns = append(patterns, sig.Pattern)
			r.patternOwner = append(r.patternOwner, Candidate{
				Descriptor:          d,
				OffsetWithinPattern: sig.OffsetWithinPattern,
			})
		}
		if d.ScanIfFeatureless {
			r.featureless = append(r.featureless, d)
		}
	}
	r.matcher = NewMatcher(patterns)
	return r
}

// Matcher exposes the built automaton for the carve package's streaming
// sweep.
func (r *Registry) Matcher() *Matcher { return r.matcher }

// Resolve translates a raw automaton Hit into the candidate format start
// offset and owning descriptor.
func (r *Registry) Resolve(hit Hit) (start int64, cand Candidate) {
	cand = r.patternOwner[hit.PatternIndex]
	return hit.End - int64(len(r.matcher.patterns[hit.PatternIndex])) - cand.OffsetWithinPattern, cand
}

// ExtensionCandidates returns every descriptor whose declared extension
// globs match name, matched case-insensitively via doublestar so patterns
// like "*.tar.gz" work the same way the teacher's own logical-path
// globbing does.
func (r *Registry) ExtensionCandidates(name string) []*parser.Descriptor {
	lower := strings.ToLower(name)
	var out []*parser.Descriptor
	for _, d := range r.descriptors {
		for _, ext := range d.Extensions {
			if ok, _ := doublestar.Match(strings.ToLower(ext), lower); ok {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Featureless returns every descriptor that asked to be tried, at offset
// zero, against content that matched no extension and no signature.
func (r *Registry) Featureless() []*parser.Descriptor {
	return r.featureless
}

// All returns every registered descriptor, in registration order.
func (r *Registry) All() []*parser.Descriptor {
	return r.descriptors
}
