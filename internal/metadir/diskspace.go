// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package metadir

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ensureFreeSpace refuses to materialise another carved child once the
// unpack root's filesystem free space drops under the store's configured
// floor. A zero floor disables the check (the default unless Options sets
// one).
func (s *Store) ensureFreeSpace() error {
	if s.minFreeBytes <= 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		return fmt.Errorf("metadir: statfs %s: %w", s.root, err)
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < s.minFreeBytes {
		return fmt.Errorf("metadir: refusing to materialise content under %s: %d bytes free, floor is %d",
			s.root, available, s.minFreeBytes)
	}
	return nil
}
