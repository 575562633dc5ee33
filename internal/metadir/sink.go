// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package metadir

import (
	"fmt"
	"io"

	"github.com/opencarve/opencarve/internal/parser"
)

// sinkAdapter bridges an MD's unpack operations to the narrow parser.Sink
// interface a concrete parser's Unpack method is given, and enqueues each
// produced child with the carve pipeline's job submitter.
type sinkAdapter struct {
	md     *MD
	enqueue func(child *MD)
}

// NewSink wraps md as a parser.Sink. enqueue is called once per child MD
// created, so the caller (the carve pipeline) can hand it to the scheduler.
func NewSink(md *MD, enqueue func(child *MD)) parser.Sink {
	return &sinkAdapter{md: md, enqueue: enqueue}
}

func (s *sinkAdapter) WriteRegularFile(logicalPath string, data io.Reader) error {
	child, w, err := s.md.UnpackRegularFile(logicalPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("metadir: write %s: %w", logicalPath, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	s.enqueue(child)
	return nil
}

func (s *sinkAdapter) WriteDirectory(logicalPath string) error {
	return s.md.UnpackDirectory(logicalPath)
}

func (s *sinkAdapter) WriteSymlink(logicalPath, target string) error {
	return s.md.UnpackSymlink(logicalPath, target)
}
