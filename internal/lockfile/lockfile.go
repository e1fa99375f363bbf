// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Process-level advisory lock and PID file lifecycle for the worker
// daemon (spec §5 "Shared resources"): a `.lock` directory under the
// data directory prevents two worker processes from racing on the same
// catalog, and a PID file records the running process for operators.
// Neither is backed by a pack library — no example repo manages its
// own single-instance locking this way — so both are built directly on
// stdlib `os`, the same weight as internal/cache's stdlib-only TTL map.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
)

// AcquireDir creates dir as an advisory lock: os.Mkdir fails with
// ErrExist if another process already holds it. The returned release
// func removes the directory; callers should defer it from main so the
// lock is freed on normal shutdown (crash recovery is an operator
// responsibility, per spec §5).
func AcquireDir(dir string) (release func() error, err error) {
	if dir == "" {
		return func() error { return nil }, nil
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lockfile: %s already held by another process", dir)
		}
		return nil, fmt.Errorf("lockfile: acquiring %s: %w", dir, err)
	}
	return func() error { return os.Remove(dir) }, nil
}

// WritePID writes the current process id to path. The returned remove
// func deletes it; callers should defer it from main.
func WritePID(path string) (remove func() error, err error) {
	if path == "" {
		return func() error { return nil }, nil
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("lockfile: writing pid file %s: %w", path, err)
	}
	return func() error { return os.Remove(path) }, nil
}
