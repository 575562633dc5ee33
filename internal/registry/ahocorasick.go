// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package registry

// This file implements a compact Aho-Corasick automaton for the signature
// index: given the set of byte patterns every registered parser declares,
// it finds every occurrence of every pattern in a single pass over a byte
// stream, reporting hits as (pattern index, end offset) pairs.
//
// No example repo in the retrieved pack depends on a multi-pattern string
// matching library, so this is written directly against the standard
// library rather than reached for externally.

type acNode struct {
	children map[byte]int
	fail     int
	// patterns are the indices (into the matcher's Patterns slice) of every
	// pattern that ends at this node, including those inherited through
	// fail links via the dictionary-suffix-link trick below.
	patterns []int
}

// Matcher is a built Aho-Corasick automaton over a fixed set of patterns.
type Matcher struct {
	nodes    []acNode
	patterns [][]byte
}

// NewMatcher builds a Matcher over patterns. Empty patterns are rejected by
// the caller (the registry never registers a zero-length signature).
func NewMatcher(patterns [][]byte) *Matcher {
	m := &Matcher{
		nodes:    []acNode{{children: map[byte]int{}}}, // node 0 is the root
		patterns: patterns,
	}
	for i, p := range patterns {
		m.insert(p, i)
	}
	m.buildFailLinks()
	return m
}

func (m *Matcher) insert(pattern []byte, idx int) {
	cur := 0
	for _, b := range pattern {
		next, ok := m.nodes[cur].children[b]
		if !ok {
			m.nodes = append(m.nodes, acNode{children: map[byte]int{}})
			next = len(m.nodes) - 1
			m.nodes[cur].children[b] = next
		}
		cur = next
	}
	m.nodes[cur].patterns = append(m.nodes[cur].patterns, idx)
}

func (m *Matcher) buildFailLinks() {
	var queue []int
	root := &m.nodes[0]
	for b, child := range root.children {
		m.nodes[child].fail = 0
		queue = append(queue, child)
		_ = b
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for b, child := range m.nodes[cur].children {
			queue = append(queue, child)
			fail := m.nodes[cur].fail
			for fail != 0 {
				if next, ok := m.nodes[fail].children[b]; ok {
					fail = next
					break
				}
				fail = m.nodes[fail].fail
			}
			if next, ok := m.nodes[fail].children[b]; ok && next != child {
				fail = next
			} else if fail == 0 {
				if next, ok := m.nodes[0].children[b]; ok && next != child {
					fail = next
				}
			}
			m.nodes[child].fail = fail
			m.nodes[child].patterns = append(m.nodes[child].patterns, m.nodes[fail].patterns...)
		}
	}
}

// Hit reports that pattern PatternIndex was found ending (exclusive) at
// offset End within the scanned stream.
type Hit struct {
	PatternIndex int
	End          int64
}

// Scan runs the automaton over buf, a contiguous chunk of the stream
// starting at baseOffset, calling report for every hit found entirely
// within buf. The caller is responsible for re-scanning overlap windows at
// chunk boundaries so that a pattern straddling two chunks is not missed;
// see the carve package's sliding-window sweep.
func (m *Matcher) Scan(buf []byte, baseOffset int64, report func(Hit)) {
	cur := 0
	for i, b := range buf {
		for cur != 0 {
			if _, ok := m.nodes[cur].children[b]; ok {
				break
			}
			cur = m.nodes[cur].fail
		}
		if next, ok := m.nodes[cur].children[b]; ok {
			cur = next
		}
		for _, pidx := range m.nodes[cur].patterns {
			report(Hit{PatternIndex: pidx, End: baseOffset + int64(i) + 1})
		}
	}
}

// MaxPatternLen returns the length of the longest registered pattern, used
// by the carve package to size its sliding-window overlap.
func (m *Matcher) MaxPatternLen() int {
	n := 0
	for _, p := range m.patterns {
		n = max(n, len(p))
	}
	return n
}
