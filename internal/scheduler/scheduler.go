// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package scheduler drives a scan to completion: a FIFO queue of MDs feeds
// a fixed pool of workers, each running spec.md §4.E's per-MD sequence
// (open, hash once, dedup, carve only if not an alias, close) and enqueuing
// whatever children the carving pipeline produced. This generalises the
// teacher's own
// internal/spinner/concurrent.go coordination (a fixed pool of goroutines
// pulling work off a channel, reporting back over another) to a job queue
// instead of a block-cache multiplexer, built on golang.org/x/sync/errgroup
// and golang.org/x/sync/semaphore the way a modern equivalent of that
// pattern is usually written.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opencarve/opencarve/internal/carve"
	"github.com/opencarve/opencarve/internal/logging"
	"github.com/opencarve/opencarve/internal/metadir"
)

// Config bounds the scheduler's own concurrency, independent of the
// carve.Config and metadir.Options each worker uses once it dequeues a job.
type Config struct {
	// Workers is the number of MDs processed concurrently.
	Workers int
	// JobWaitTime is how long Run sleeps, when the queue is empty but jobs
	// are still running, before checking the queue again. The scan finishes
	// only once nothing is queued and nothing is running.
	JobWaitTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.JobWaitTime <= 0 {
		c.JobWaitTime = 10 * time.Second
	}
	return c
}

// job pairs an MD with however its bytes should be opened: the root MD's
// bytes live at an external filesystem path, every other MD's live under
// the store at ContentPath.
type job struct {
	md       *metadir.MD
	openPath string
}

// Scheduler runs the carving pipeline across every MD reachable from a
// single root input, one at a time per worker, until the queue drains.
type Scheduler struct {
	store    *metadir.Store
	pipeline *carve.Pipeline
	cfg      Config

	mu      sync.Mutex
	pending []job
	inFlight int
}

// New builds a Scheduler around an already-open Store and carve.Pipeline.
func New(store *metadir.Store, pipeline *carve.Pipeline, cfg Config) *Scheduler {
	return &Scheduler{store: store, pipeline: pipeline, cfg: cfg.withDefaults()}
}

// Run scans rootPath (the file the user asked opencarve to analyse) and
// every descendant it carves, blocking until the whole tree is done or ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context, rootPath string) error {
	root, err := s.store.CreateRoot(rootPath)
	if err != nil {
		return fmt.Errorf("scheduler: create root: %w", err)
	}
	s.enqueue(job{md: root, openPath: rootPath})

	sem := semaphore.NewWeighted(int64(s.cfg.Workers))
	g, ctx := errgroup.WithContext(ctx)

	for {
		j, ok := s.dequeue()
		if !ok {
			if s.idle() {
				break
			}
			select {
			case <-ctx.Done():
				return g.Wait()
			case <-time.After(s.cfg.JobWaitTime):
				continue
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		s.markInFlight(1)
		g.Go(func() error {
			defer sem.Release(1)
			defer s.markInFlight(-1)
			return s.process(ctx, j)
		})
	}

	return g.Wait()
}

func (s *Scheduler) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, j)
}

func (s *Scheduler) dequeue() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return job{}, false
	}
	j := s.pending[0]
	s.pending = s.pending[1:]
	return j, true
}

func (s *Scheduler) markInFlight(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight += delta
}

func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0 && s.inFlight == 0
}

// process runs spec.md §4.E's sequence for a single MD: open, hash once,
// dedup, then — only for the canonical copy of a given content — carve,
// enqueuing children as the pipeline discovers them, before close and mark
// done. An alias never reaches the pipeline at all: its content is already
// fully carved under its canonical MD.
func (s *Scheduler) process(ctx context.Context, j job) error {
	md := j.md
	logger := logging.ForJob(md.UDPath)

	if err := md.Open(); err != nil {
		return fmt.Errorf("scheduler: open %s: %w", md.UDPath, err)
	}

	f, err := os.Open(j.openPath)
	if err != nil {
		return fmt.Errorf("scheduler: read %s: %w", md.UDPath, err)
	}
	defer f.Close()

	if err := md.HashContent(f); err != nil {
		return err
	}

	canonical, isAlias, err := md.Dedup()
	if err != nil {
		return fmt.Errorf("scheduler: dedup %s: %w", md.UDPath, err)
	}
	if isAlias {
		logger.Info("dedupAlias", "canonical", canonical)
	} else {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("scheduler: stat %s: %w", md.UDPath, err)
		}
		name := filepath.Base(md.Info().FilePath)

		if err := s.pipeline.Run(md, f, info.Size(), name, func(child *metadir.MD) {
			s.enqueue(job{md: child, openPath: child.ContentPath()})
		}); err != nil {
			return fmt.Errorf("scheduler: carve %s: %w", md.UDPath, err)
		}
	}

	if err := md.Close(); err != nil {
		return fmt.Errorf("scheduler: close %s: %w", md.UDPath, err)
	}
	md.MarkDone()
	logger.Debug("scanDone", "size", md.Info().Size)
	return nil
}
