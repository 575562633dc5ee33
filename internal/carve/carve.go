// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package carve implements the carving pipeline (component D): given one
// MD and a reader over its bytes, it locates every parseable region,
// carves it, and produces child MDs for the regions and for the gaps
// between them.
package carve

import (
	"fmt"
	"io"
	"sort"

	"github.com/opencarve/opencarve/internal/label"
	"github.com/opencarve/opencarve/internal/metadir"
	"github.com/opencarve/opencarve/internal/parser"
	"github.com/opencarve/opencarve/internal/registry"
	"github.com/opencarve/opencarve/internal/sectionreader"
)

// Config bounds the pipeline's memory and I/O behaviour, mirroring
// spec.md §6's enumerated options.
type Config struct {
	ReadSize           int64 // streaming chunk size, default 1 MiB
	SignatureChunkSize int64 // overlap-scan window, default 1 KiB (>= longest signature)
	MaxBytes           int64 // cap on how much of a span (whole file, extracted span or gap) the identification pass loads, default 10 MiB
}

func (c Config) withDefaults() Config {
	if c.ReadSize <= 0 {
		c.ReadSize = 1 << 20
	}
	if c.SignatureChunkSize <= 0 {
		c.SignatureChunkSize = 1 << 10
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	return c
}

// Pipeline runs the carving algorithm against a shared, immutable registry.
type Pipeline struct {
	reg *registry.Registry
	cfg Config
}

func New(reg *registry.Registry, cfg Config) *Pipeline {
	return &Pipeline{reg: reg, cfg: cfg.withDefaults()}
}

// consumedRange is a half-open [start, end) byte span already claimed by a
// successful parse.
type consumedRange struct{ start, end int64 }

type consumedSet []consumedRange

func (s consumedSet) overlaps(start, end int64) bool {
	for _, c := range s {
		if start < c.end && end > c.start {
			return true
		}
	}
	return false
}

func (s *consumedSet) add(start, end int64) {
	*s = append(*s, consumedRange{start, end})
	sort.Slice(*s, func(i, j int) bool { return (*s)[i].start < (*s)[j].start })
}

// Run executes the full algorithm from spec.md §4.D against md, whose bytes
// are read from parent at [0, size). enqueue is called once per child MD
// the pipeline wants recursively scanned (the files produced by a
// successful parser's Unpack); carved spans and gaps are finalised
// in-place by the pipeline itself since their format is already known.
func (p *Pipeline) Run(md *metadir.MD, parent io.ReaderAt, size int64, name string, enqueue func(*metadir.MD)) error {
	if size == 0 {
		md.ApplyParseResult([]string{label.Empty}, nil)
		return nil
	}

	var consumed consumedSet
	anyHit := false

	// Step 1: extension-directed attempt.
	for _, d := range p.reg.ExtensionCandidates(name) {
		inst, res, ok, err := p.tryParser(d, parent, 0, size, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		anyHit = true
		if res.UnpackedSize == size {
			return p.acceptWholeFile(md, parent, size, inst, res, enqueue)
		}
		consumed.add(0, res.UnpackedSize)
		if err := p.acceptExtracted(md, parent, inst, 0, res, enqueue); err != nil {
			return err
		}
		break
	}

	// Step 2: signature sweep.
	candidates, err := p.sweep(parent, size)
	if err != nil {
		return err
	}

	// Step 3 & 4: try each candidate in stream order; first success at a
	// given offset wins; overlapping later candidates are skipped.
	for _, c := range candidates {
		if consumed.overlaps(c.start, c.start+1) {
			continue
		}
		inst, res, ok, err := p.tryParser(c.descriptor, parent, c.start, size, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		anyHit = true
		end := c.start + res.UnpackedSize
		if consumed.overlaps(c.start, end) {
			continue
		}
		consumed.add(c.start, end)
		if c.start == 0 && res.UnpackedSize == size {
			return p.acceptWholeFile(md, parent, size, inst, res, enqueue)
		}
		if err := p.acceptExtracted(md, parent, inst, c.start, res, enqueue); err != nil {
			return err
		}
	}

	// Step 6: featureless pass, only if nothing matched at all.
	if !anyHit && len(consumed) == 0 {
		for _, d := range p.reg.Featureless() {
			inst, res, ok, err := p.tryParser(d, parent, 0, size, name)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if res.UnpackedSize == size {
				return p.acceptWholeFile(md, parent, size, inst, res, enqueue)
			}
			consumed.add(0, res.UnpackedSize)
			if err := p.acceptExtracted(md, parent, inst, 0, res, enqueue); err != nil {
				return err
			}
			break
		}
	}

	// Step 5: gap labelling over whatever remains unconsumed.
	return p.labelGaps(md, parent, size, consumed)
}

// tryParser instantiates d and calls Parse. A rejection (the parser
// deciding this isn't its format) is reported as ok == false with a nil
// error; any other error is fatal to the current job, per spec.md §7.
func (p *Pipeline) tryParser(d *parser.Descriptor, parent io.ReaderAt, offset, size int64, name string) (parser.Parser, parser.Result, bool, error) {
	inst := d.New()
	res, err := inst.Parse(parser.Input{
		Parent:     parent,
		Offset:     offset,
		ParentSize: size,
		Name:       name,
	})
	if err != nil {
		if parser.IsRejection(err) {
			return nil, parser.Result{}, false, nil
		}
		return nil, parser.Result{}, false, fmt.Errorf("carve: %s at offset %d: %w", d.PrettyName, offset, err)
	}
	if res.UnpackedSize <= 0 || res.UnpackedSize > size-offset {
		return nil, parser.Result{}, false, fmt.Errorf("carve: %s at offset %d: invariant violation: unpacked_size=%d, parent remaining=%d", d.PrettyName, offset, res.UnpackedSize, size-offset)
	}
	return inst, res, true, nil
}

type candidate struct {
	start      int64
	descriptor *parser.Descriptor
}

// sweep streams parent through the registry's signature automaton in
// chunks, with overlap equal to the longest registered pattern minus one
// byte so no match straddles a chunk boundary, per spec.md §4.D step 2.
func (p *Pipeline) sweep(parent io.ReaderAt, size int64) ([]candidate, error) {
	m := p.reg.Matcher()
	overlap := int64(m.MaxPatternLen())
	if overlap > 0 {
		overlap--
	}
	chunk := p.cfg.SignatureChunkSize
	if chunk < overlap+1 {
		chunk = overlap + 1
	}

	type seenKey struct {
		pattern int
		end     int64
	}
	seen := map[seenKey]bool{}
	var hits []registry.Hit

	buf := make([]byte, 0, chunk+overlap)
	for offset := int64(0); offset < size; {
		readLen := chunk
		if offset+readLen > size {
			readLen = size - offset
		}
		winStart := offset
		if winStart > 0 {
			winStart -= overlap
			if winStart < 0 {
				winStart = 0
			}
		}
		winEnd := offset + readLen
		length := winEnd - winStart
		if int64(cap(buf)) < length {
			buf = make([]byte, length)
		}
		buf = buf[:length]
		n, err := parent.ReadAt(buf, winStart)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("carve: signature sweep read at %d: %w", winStart, err)
		}
		buf = buf[:n]

		m.Scan(buf, winStart, func(h registry.Hit) {
			key := seenKey{h.PatternIndex, h.End}
			if seen[key] {
				return
			}
			seen[key] = true
			hits = append(hits, h)
		})
		offset += readLen
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].End < hits[j].End })

	var out []candidate
	for _, h := range hits {
		start, cand := p.reg.Resolve(h)
		if start < 0 || start >= size {
			continue
		}
		out = append(out, candidate{start: start, descriptor: cand.Descriptor})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out, nil
}

func (p *Pipeline) acceptWholeFile(md *metadir.MD, parent io.ReaderAt, size int64, inst parser.Parser, res parser.Result, enqueue func(*metadir.MD)) error {
	md.ApplyParseResult(res.Labels, res.Metadata)
	if err := p.augmentWithIdentification(md, parent, 0, size); err != nil {
		return err
	}
	if up, ok := inst.(parser.Unpacker); ok {
		if err := up.Unpack(metadir.NewSink(md, enqueue)); err != nil {
			return fmt.Errorf("carve: %s: unpack: %w", inst.PrettyName(), err)
		}
	}
	return nil
}

// augmentWithIdentification runs component F (internal/label.Identify)
// against a bounded prefix of [offset, offset+length) and adds whatever
// content-level labels it finds on top of whatever the parser already set,
// per spec.md §4.F: "these labels augment, rather than replace, labels set
// by the parser." Unlike ApplyParseResult this is never a no-op on an
// already-labelled MD — it is always additive.
func (p *Pipeline) augmentWithIdentification(md *metadir.MD, r io.ReaderAt, offset, length int64) error {
	buf, err := readBounded(r, offset, offset+length, p.cfg.MaxBytes)
	if err != nil {
		return fmt.Errorf("carve: read %s for identification: %w", md.UDPath, err)
	}
	md.AddLabels(label.Identify(buf).Labels...)
	return nil
}

// acceptExtracted materialises the span [offset, offset+res.UnpackedSize)
// as its own child MD, copying its bytes out of parent, then runs the
// parser's Unpack (if it has one) against that child. The files Unpack
// produces are enqueued for recursive scanning; the extracted span itself
// is not re-enqueued, since its format is already known.
func (p *Pipeline) acceptExtracted(md *metadir.MD, parent io.ReaderAt, inst parser.Parser, offset int64, res parser.Result, enqueue func(*metadir.MD)) error {
	logicalName := md.ExtractedFilename(offset, res.UnpackedSize)
	if res.SuggestedName != "" {
		logicalName = res.SuggestedName
	}
	child, sink, err := md.RecordExtracted(offset, res.UnpackedSize, logicalName)
	if err != nil {
		return fmt.Errorf("carve: record extracted span: %w", err)
	}
	if _, err := io.Copy(sink, io.NewSectionReader(sectionreader.Section(parent, offset, res.UnpackedSize), 0, res.UnpackedSize)); err != nil {
		sink.Close()
		return fmt.Errorf("carve: write extracted span: %w", err)
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("carve: close extracted span: %w", err)
	}

	child.ApplyParseResult(res.Labels, res.Metadata)
	if err := p.augmentWithIdentification(child, parent, offset, res.UnpackedSize); err != nil {
		return err
	}
	if up, ok := inst.(parser.Unpacker); ok {
		if err := up.Unpack(metadir.NewSink(child, enqueue)); err != nil {
			return fmt.Errorf("carve: %s: unpack: %w", inst.PrettyName(), err)
		}
	}
	// An extracted span's format is already known, so unlike the files its
	// own Unpack produces, it is never re-enqueued for scanning; the
	// pipeline closes it itself rather than leaving that to a scheduler
	// job that will never come.
	if err := child.Close(); err != nil {
		return fmt.Errorf("carve: close extracted span: %w", err)
	}
	child.MarkDone()
	return nil
}

func (p *Pipeline) labelGaps(md *metadir.MD, parent io.ReaderAt, size int64, consumed consumedSet) error {
	cursor := int64(0)
	for _, c := range consumed {
		if c.start > cursor {
			if err := p.emitGap(md, parent, cursor, c.start); err != nil {
				return err
			}
		}
		cursor = max(cursor, c.end)
	}
	if cursor < size {
		if err := p.emitGap(md, parent, cursor, size); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) emitGap(md *metadir.MD, parent io.ReaderAt, start, end int64) error {
	padding, err := isRepeatedByte(parent, start, end, p.cfg.ReadSize)
	if err != nil {
		return fmt.Errorf("carve: inspect gap [%d,%d): %w", start, end, err)
	}
	lbl := "synthesized"
	if padding {
		lbl = "padding"
	}

	child, sink, err := md.RecordExtracted(start, end-start, md.ExtractedFilename(start, end-start))
	if err != nil {
		return fmt.Errorf("carve: record gap: %w", err)
	}
	if _, err := io.Copy(sink, io.NewSectionReader(sectionreader.Section(parent, start, end-start), 0, end-start)); err != nil {
		sink.Close()
		return fmt.Errorf("carve: write gap: %w", err)
	}
	if err := sink.Close(); err != nil {
		return err
	}
	child.ApplyParseResult([]string{lbl}, nil)
	if !padding {
		// Component F augments the pipeline's own "synthesized" tag with
		// content-level labels (text/binary/base64/script), per spec.md
		// §4.F: identification runs on top of, not instead of, whatever
		// the carving pipeline already decided about a span. A padding
		// gap is already fully characterised by "padding" itself, so
		// there is nothing for identification to add.
		if err := p.augmentWithIdentification(child, parent, start, end-start); err != nil {
			return err
		}
	}
	if err := child.Close(); err != nil {
		return fmt.Errorf("carve: close gap: %w", err)
	}
	child.MarkDone()
	return nil
}

// readBounded reads up to maxBytes of [start,end) from r, the same
// "bounded prefix" load label.Identify's own doc comment allows for a span
// too large to classify in full.
func readBounded(r io.ReaderAt, start, end, maxBytes int64) ([]byte, error) {
	n := end - start
	if maxBytes > 0 && n > maxBytes {
		n = maxBytes
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(io.NewSectionReader(r, start, n), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// isRepeatedByte reports whether the span [start,end) of r is a single
// byte value repeated throughout, read in bounded chunks so an arbitrarily
// large gap doesn't have to be loaded into memory at once.
func isRepeatedByte(r io.ReaderAt, start, end, chunkSize int64) (bool, error) {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	sec := io.NewSectionReader(sectionreader.Section(r, start, end-start), 0, end-start)
	buf := make([]byte, chunkSize)
	var first byte
	haveFirst := false
	for {
		n, err := sec.Read(buf)
		for _, b := range buf[:n] {
			if !haveFirst {
				first, haveFirst = b, true
				continue
			}
			if b != first {
				return false, nil
			}
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}
