// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package metadir

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// TLSHHasher is a pluggable fuzzy-hash implementation. No example repo in
// the retrieved pack carries a TLSH binding, so the shipped implementation
// (noopTLSH) reports unavailability rather than fabricating one; a real
// binding can be wired in later by supplying a different TLSHHasher to
// Store.
type TLSHHasher interface {
	// Write feeds bytes in file order, mirroring hash.Hash.
	Write(p []byte) (int, error)
	// Sum returns the finished digest string, or "" if this file was too
	// small or otherwise unsuitable for a fuzzy hash.
	Sum() string
}

type noopTLSH struct{}

func (noopTLSH) Write(p []byte) (int, error) { return len(p), nil }
func (noopTLSH) Sum() string                 { return "" }

// hashingPass computes size and every configured digest in one streamed
// read, per spec.md §4.E step 2 ("compute size and hashes once, streamed in
// a single pass").
type hashingPass struct {
	size int64
	h256 hash.Hash
	h1   hash.Hash
	hmd5 hash.Hash
	tlsh TLSHHasher
}

func newHashingPass(tlsh TLSHHasher) *hashingPass {
	if tlsh == nil {
		tlsh = noopTLSH{}
	}
	return &hashingPass{
		h256: sha256.New(),
		h1:   sha1.New(),
		hmd5: md5.New(),
		tlsh: tlsh,
	}
}

func (p *hashingPass) Write(b []byte) (int, error) {
	p.size += int64(len(b))
	p.h256.Write(b)
	p.h1.Write(b)
	p.hmd5.Write(b)
	p.tlsh.Write(b)
	return len(b), nil
}

// run drains r through the pass and returns the finished Hashes and size.
func (p *hashingPass) run(r io.Reader) (Hashes, int64, error) {
	if _, err := io.Copy(p, r); err != nil {
		return Hashes{}, 0, err
	}
	h, size := p.finish()
	return h, size, nil
}

// finish reports the digests accumulated so far without reading anything
// further, for callers (like a streamed file write) that feed the pass
// incrementally rather than handing it a single io.Reader.
func (p *hashingPass) finish() (Hashes, int64) {
	return Hashes{
		SHA256: hex.EncodeToString(p.h256.Sum(nil)),
		SHA1:   hex.EncodeToString(p.h1.Sum(nil)),
		MD5:    hex.EncodeToString(p.hmd5.Sum(nil)),
		TLSH:   p.tlsh.Sum(),
	}, p.size
}
