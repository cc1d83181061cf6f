package runtime

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/layout"
)

// homeLock is a process-local guard layered on top of the advisory OS
// file lock: it rejects a second in-process Runtime.New(home) attempt
// without needing to round-trip through the kernel, and it remembers the
// fd so Release can free both layers. Keyed by the home path exactly as
// passed to AcquireHomeLock.
var (
	inProcMu    sync.Mutex
	inProcHomes = map[string]bool{}
)

// HomeLock is the advisory exclusive lock on <home>/.lock that enforces
// single-writer-per-home across the OS (spec.md §4.1).
type HomeLock struct {
	path string
	file *os.File
}

// AcquireHomeLock acquires the exclusive, non-blocking lock on home's
// .lock file. It fails with boxerr.RuntimeBusy if another process, or
// another Runtime in this process, already holds it.
func AcquireHomeLock(home string) (*HomeLock, error) {
	layout := layout.HomeLayout{Home: home}
	path := layout.LockFile()

	inProcMu.Lock()
	if inProcHomes[home] {
		inProcMu.Unlock()
		return nil, boxerr.New(boxerr.KindRuntimeBusy, fmt.Sprintf("home %s already locked in this process", home), nil)
	}
	inProcHomes[home] = true
	inProcMu.Unlock()

	release := func() {
		inProcMu.Lock()
		delete(inProcHomes, home)
		inProcMu.Unlock()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		release()
		return nil, boxerr.Newf(boxerr.KindInternal, err, "open lock file %s", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		release()
		if err == unix.EWOULDBLOCK {
			return nil, boxerr.New(boxerr.KindRuntimeBusy, fmt.Sprintf("home %s already locked", home), nil)
		}
		return nil, boxerr.Newf(boxerr.KindInternal, err, "flock %s", path)
	}

	return &HomeLock{path: path, file: f}, nil
}

// Release drops both the OS-level flock and the in-process reservation.
// Idempotent: calling Release twice is a no-op on the second call.
func (l *HomeLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	inProcMu.Lock()
	// path is <home>/.lock; recover home by trimming the suffix the
	// caller constructed it with.
	home := l.path[:len(l.path)-len("/.lock")]
	delete(inProcHomes, home)
	inProcMu.Unlock()

	if err != nil {
		return boxerr.Newf(boxerr.KindInternal, err, "unlock %s", l.path)
	}
	return closeErr
}
