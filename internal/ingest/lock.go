package ingest

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
)

// LockName is the lock file created in the watch directory.
const LockName = ".txn-audit.lock"

// ErrLocked means another process already runs a loop over the watch
// directory. The ledger has a single writer.
var ErrLocked = eris.New("ingest: watch directory is locked by another process")

// Lock holds the single-writer lock for a watch directory.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock for watchDir without blocking.
func AcquireLock(watchDir string) (*Lock, error) {
	fl := flock.New(filepath.Join(watchDir, LockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: lock %s", fl.Path())
	}
	if !ok {
		return nil, eris.Wrapf(ErrLocked, "ingest: %s", fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return eris.Wrap(l.fl.Unlock(), "ingest: unlock")
}

// Held reports whether some process currently holds the lock for watchDir.
func Held(watchDir string) (bool, error) {
	if _, err := os.Stat(watchDir); os.IsNotExist(err) {
		return false, nil
	}
	lk, err := AcquireLock(watchDir)
	if eris.Is(err, ErrLocked) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, lk.Release()
}
