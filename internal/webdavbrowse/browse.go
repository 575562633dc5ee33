// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package webdavbrowse is a read-only WebDAV reporter over a finished (or
// in-progress) meta-directory tree, adapted from the teacher's own
// internal/webdav package: the WebDAV protocol machinery (webdav.go,
// prop.go, xml.go) is generic RFC 4918 plumbing that owes nothing to any
// particular fs.FS, so it is kept close to the teacher's version; the
// domain-specific contribution is MetaFS, which presents a metadir.Store's
// on-disk layout — including a synthesised JSON view of each node's
// otherwise-binary info.mpk — as the fs.FS the handler serves.
package webdavbrowse

import "net/http"

// NewHandler builds an http.Handler that serves unpackRoot read-only over
// WebDAV (and plain GET) for browsing with any WebDAV client or a web
// browser.
func NewHandler(unpackRoot string) http.Handler {
	return &Handler{FS: NewMetaFS(unpackRoot)}
}
