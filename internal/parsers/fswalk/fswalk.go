// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fswalk walks a small fs.FS produced by a container-format parser
// (one zip.Reader, one tar listing, one singlefilefs.FS) and feeds every
// entry into a metadir sink in as close to on-disk order as the underlying
// format exposes, adapted from the teacher's internal/walk package (there
// used to decide replay order for its lazily-mounted archive views; here
// used once, eagerly, to decide the order children are written into the
// meta-directory tree).
package fswalk

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"
)

// filesInDiskOrder returns every regular-file path under fsys, in whatever
// order the format itself suggests (zip: central-directory order; anything
// else: an inode-like ordering hint if the entries' FileInfo exposes one,
// falling back to a plain recursive walk order).
func filesInDiskOrder(fsys fs.FS) (string, <-chan string) {
	if zr, ok := fsys.(zipFileOrder); ok {
		ret := make(chan string)
		go func() {
			defer close(ret)
			for _, name := range zr.FileOrder() {
				ret <- name
			}
		}()
		return "zip-file-order", ret
	}
	return sortPaths(fsys, walkAsync(fsys))
}

// zipFileOrder lets a parser's fs.FS expose the archive's own entry order
// without fswalk needing to import archive/zip itself.
type zipFileOrder interface {
	FileOrder() []string
}

func walkAsync(fsys fs.FS) <-chan string {
	ch, wg := make(chan string), new(sync.WaitGroup)
	wg.Add(1)
	go recurse(fsys, ".", ch, wg)
	go func() { wg.Wait(); close(ch) }()
	return ch
}

func recurse(fsys fs.FS, name string, ch chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	f, err := fsys.Open(name)
	if err != nil {
		return
	}
	defer f.Close()
	dir, ok := f.(fs.ReadDirFile)
	if !ok {
		panic(fmt.Sprintf("%q is a %T, does not satisfy ReadDirFile", name, f))
	}
	for {
		l, err := dir.ReadDir(10)
		for _, de := range l {
			switch {
			case de.IsDir():
				wg.Add(1)
				go recurse(fsys, path.Join(name, de.Name()), ch, wg)
			case de.Type().IsRegular():
				ch <- path.Join(name, de.Name())
			}
		}
		if err != nil {
			return
		}
	}
}

// sortPaths orders a channel of paths by whatever ordering hint their
// FileInfo exposes (an inode number on a real filesystem, a declared byte
// offset for a format that reports one); if nothing in the tree can supply
// a key, the original walk order is kept.
func sortPaths(fsys fs.FS, ch <-chan string) (string, <-chan string) {
	out := make(chan string)
	f1, ok := <-ch
	if !ok {
		close(out)
		return "no-files", out
	}

	var (
		k1      uint64
		waysort string
		cansort bool
	)
	stat1, err := fs.Stat(fsys, f1)
	if err != nil {
		waysort = err.Error()
	} else {
		k1, waysort, cansort = sortKey(stat1)
		if !cansort {
			waysort = "walk-order"
		}
	}

	if cansort {
		go func() {
			defer close(out)
			sortlist := fileSlice{file{path: f1, key: k1}}
			for f := range ch {
				el := file{path: f}
				if info, err := fs.Stat(fsys, f); err == nil {
					el.key, _, _ = sortKey(info)
				}
				sortlist = append(sortlist, el)
			}
			sort.Sort(sortlist)
			for _, f := range sortlist {
				out <- f.path
			}
		}()
		return waysort, out
	}

	go func() {
		defer close(out)
		out <- f1
		for f := range ch {
			out <- f
		}
	}()
	return waysort, out
}

type fileSlice []file
type file struct {
	path string
	key  uint64
}

func (x fileSlice) Len() int           { return len(x) }
func (x fileSlice) Less(i, j int) bool { return x[i].key < x[j].key }
func (x fileSlice) Swap(i, j int)      { x[i], x[j] = x[j], x[i] }

func sortKey(i fs.FileInfo) (uint64, string, bool) {
	if ino, ok := tryInode(i); ok {
		return ino, "inode-number", true
	}
	switch t := i.Sys().(type) {
	case interface{ ByteOffset() int64 }:
		return uint64(t.ByteOffset()), "byte-offset", true
	case interface{ Inode() uint64 }:
		return t.Inode(), "inode-number", true
	}
	return 0, "", false
}

var tryInode = func(fs.FileInfo) (uint64, bool) { return 0, false }
