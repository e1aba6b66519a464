//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitAttach attaches to the named segment, waiting up to timeout for a
// producer to create it. A zero or negative timeout degenerates to a
// plain Attach. Creation is observed through inotify on /dev/shm rather
// than by polling.
func WaitAttach(ctx context.Context, name string, timeout time.Duration) (*Segment, error) {
	seg, err := Attach(name)
	if err == nil || !errors.Is(err, ErrNotFound) || timeout <= 0 {
		return seg, err
	}

	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", shmDir, err)
	}
	defer watcher.Close()
	if err := watcher.Add(shmDir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", shmDir, err)
	}

	// The producer may have created the segment between the first
	// Attach and the watch being registered.
	if seg, err := Attach(name); err == nil || !errors.Is(err, ErrNotFound) {
		return seg, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s did not appear within %v", ErrNotFound, path, timeout)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("%w: watch on %s closed", ErrNotFound, path)
			}
			if ev.Name != path || !ev.Has(fsnotify.Create) {
				continue
			}
			// Let the producer finish sizing and initializing the
			// header before the attach validates it.
			if seg, err := attachReady(filepath.Base(path), time.Second); err == nil {
				return seg, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("%w: watch on %s closed", ErrNotFound, path)
			}
			return nil, fmt.Errorf("watch %s: %w", shmDir, err)
		}
	}
}

// attachReady retries Attach briefly while the producer is still
// writing the header of a freshly created file.
func attachReady(name string, limit time.Duration) (*Segment, error) {
	const probe = 10 * time.Millisecond
	var err error
	for waited := time.Duration(0); waited < limit; waited += probe {
		var seg *Segment
		if seg, err = Attach(name); err == nil {
			return seg, nil
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidSegment) {
			return nil, err
		}
		time.Sleep(probe)
	}
	return nil, err
}
