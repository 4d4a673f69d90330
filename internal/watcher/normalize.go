package watcher

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

// Index maps paths to keys and knows which keys exist.
type Index interface {
	Key(path string) (string, error)
	InScope(key string) bool
	KeysWithPrefix(dir string) []string
}

// Normalize turns a raw notification for path into change events. The
// kind of notification does not matter: the current state of path decides.
//
//   - an existing file is modified
//   - an existing directory has every file below it modified, which covers
//     directories moved into scope
//   - a missing path is deleted, unless keys are known below it: then it
//     was a directory and each of those keys is deleted instead
//
// Paths outside the base directory, excluded keys and temporary files
// produce nothing.
func Normalize(index Index, path string) []ChangeEvent {
	key, err := index.Key(path)
	if err != nil || key == "" {
		return nil
	}

	info, err := os.Lstat(path)
	switch {
	case err == nil && info.IsDir():
		return modifiedBelow(index, path)

	case err == nil:
		if index.InScope(key) {
			return []ChangeEvent{{Type: Modified, Key: key}}
		}
		return nil

	case errors.Is(err, fs.ErrNotExist):
		known := index.KeysWithPrefix(key)
		if len(known) == 0 {
			if index.InScope(key) {
				return []ChangeEvent{{Type: Deleted, Key: key}}
			}
			return nil
		}
		// a removed directory
		var events []ChangeEvent
		slices.Sort(known)
		for _, k := range known {
			if index.InScope(k) {
				events = append(events, ChangeEvent{Type: Deleted, Key: k})
			}
		}
		return events

	default:
		slog.Warn("watcher stat", "path", path, "error", err)
		return nil
	}
}

func modifiedBelow(index Index, dir string) []ChangeEvent {
	var events []ChangeEvent
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		key, err := index.Key(path)
		if err != nil || !index.InScope(key) {
			return nil
		}
		events = append(events, ChangeEvent{Type: Modified, Key: key})
		return nil
	})
	return events
}
