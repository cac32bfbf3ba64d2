package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrRunInProgress is returned when another sync holds the run lock for a data dir.
var ErrRunInProgress = errors.New("sync run already in progress")

const lockFileName = ".ragsync.lock"

// RunLock is an exclusive advisory lock on a data dir, held for the length of a run.
type RunLock struct {
	fl *flock.Flock
}

// AcquireRunLock takes the lock for dataDir without blocking, creating the directory
// if needed. It fails with ErrRunInProgress when the lock is held elsewhere.
func AcquireRunLock(dataDir string) (*RunLock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fl := flock.New(filepath.Join(dataDir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, dataDir)
	}
	return &RunLock{fl: fl}, nil
}

// Release unlocks. The lock file itself is left in place.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
