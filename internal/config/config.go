// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package config loads the scan options spec.md §6 enumerates from a YAML
// file, grounded on the mutagen-io example's own
// pkg/encoding/yaml.go (LoadAndUnmarshalYAML: read a path, decode strictly
// with gopkg.in/yaml.v3). CLI flags registered by cmd/opencarve are layered
// on top of whatever a config file supplies.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option spec.md §6 assigns to the external interface,
// plus their documented defaults.
type Config struct {
	// UnpackDirectory is where MDs are materialised. Required.
	UnpackDirectory string `yaml:"unpack_directory"`

	// TemporaryDirectory is where parsers may write scratch files. Required.
	TemporaryDirectory string `yaml:"temporary_directory"`

	// MaxBytes bounds how much of a file a parser may hold in memory at
	// once, default 10 MiB.
	MaxBytes int64 `yaml:"max_bytes"`

	// ReadSize is the streaming chunk size used throughout the carving
	// pipeline, default 1 MiB.
	ReadSize int64 `yaml:"read_size"`

	// SignatureChunkSize is the overlap-scan window for the signature
	// sweep, default 1 KiB, and must be at least as large as the longest
	// registered signature.
	SignatureChunkSize int64 `yaml:"signature_chunk_size"`

	// TLSHMaximum is the size above which TLSH fuzzy hashing is skipped.
	// Zero means no TLSH ceiling is applied (bounded only by whether a
	// TLSHHasher is wired in at all).
	TLSHMaximum int64 `yaml:"tlsh_maximum"`

	// MinFreeBytes is the floor on the unpack directory's filesystem free
	// space; materialising a carved child is refused once available space
	// drops under it. Zero disables the check.
	MinFreeBytes int64 `yaml:"min_free_bytes"`

	// JobWaitTime is how long an idle worker waits on the job queue before
	// re-checking the drain condition, default 10s.
	JobWaitTime time.Duration `yaml:"job_wait_time"`

	// Workers is the fixed worker pool size.
	Workers int `yaml:"workers"`

	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose"`
}

// Default returns a Config populated with every documented default, leaving
// UnpackDirectory and TemporaryDirectory empty since spec.md requires the
// caller to supply both.
func Default() Config {
	return Config{
		MaxBytes:           10 << 20,
		ReadSize:           1 << 20,
		SignatureChunkSize: 1 << 10,
		MinFreeBytes:       100 << 20,
		JobWaitTime:        10 * time.Second,
		Workers:            4,
	}
}

// Load reads and strictly decodes a YAML config file at path on top of
// Default(), the same read-then-unmarshal shape as the mutagen-io example's
// LoadAndUnmarshalYAML: unknown fields are rejected rather than silently
// ignored, since a typo'd option key should fail loudly rather than fall
// back to its default unnoticed.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the two options spec.md marks required and checks the
// signature_chunk_size/longest-signature relationship callers are expected
// to maintain.
func (c Config) Validate(longestSignature int) error {
	if c.UnpackDirectory == "" {
		return fmt.Errorf("config: unpack_directory is required")
	}
	if c.TemporaryDirectory == "" {
		return fmt.Errorf("config: temporary_directory is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive")
	}
	if longestSignature > 0 && c.SignatureChunkSize < int64(longestSignature) {
		return fmt.Errorf("config: signature_chunk_size (%d) must be >= the longest registered signature (%d)",
			c.SignatureChunkSize, longestSignature)
	}
	return nil
}
