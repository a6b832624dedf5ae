package configfile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 250 * time.Millisecond

// Watch calls onChange with the re-read file each time path changes,
// until ctx ends. A file that fails to parse or validate is reported
// through err and the previous configuration should be kept.
//
// The parent directory is watched, so replacing the file by rename is seen.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(f *File, err error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configfile: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("configfile: watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer w.Close()

		timer := time.NewTimer(debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				timer.Reset(debounce)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				onChange(nil, fmt.Errorf("configfile: watch: %w", err))

			case <-timer.C:
				onChange(Read(path))
			}
		}
	}()
	return nil
}
