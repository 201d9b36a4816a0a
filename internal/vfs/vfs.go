// Package vfs implements the host side of the wire protocol's read-only
// filesystem browsing messages: directory listings, chunking, a single
// file-read path, and fsnotify-backed directory watches. Grounded on the
// original hostagent's vfs.rs (read_directory/chunk_entries/validate_path)
// for exact listing-order and path-validation semantics, with the watch
// lifecycle added using github.com/fsnotify/fsnotify, a dependency already
// present in the teacher's own go.mod.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/comacode/comacode/internal/wire"
)

// ChunkSize is the default page size for a directory listing, matching the
// reference implementation's chunk_entries default.
const ChunkSize = 150

// MaxFileReadSize bounds ReadFile, keeping it consistent with the framing
// codec's own bounded-allocation discipline.
const MaxFileReadSize = 1 * 1024 * 1024

var (
	// ErrPathNotFound mirrors the reference VfsError::PathNotFound.
	ErrPathNotFound = errors.New("vfs: path not found")
	// ErrNotADirectory mirrors the reference VfsError::NotADirectory.
	ErrNotADirectory = errors.New("vfs: not a directory")
	// ErrPermissionDenied mirrors the reference VfsError::PermissionDenied,
	// also used for rejected path-traversal attempts.
	ErrPermissionDenied = errors.New("vfs: permission denied")
)

// ValidatePath resolves path and confirms it stays within allowedBase,
// rejecting any ".."/symlink escape exactly as the reference
// implementation's validate_path does.
func ValidatePath(path, allowedBase string) error {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}

	allowedCanonical, err := filepath.EvalSymlinks(allowedBase)
	if err != nil {
		allowedCanonical = allowedBase
	}
	allowedCanonical, err = filepath.Abs(allowedCanonical)
	if err != nil {
		allowedCanonical = allowedBase
	}

	rel, err := filepath.Rel(allowedCanonical, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: path traversal not allowed", ErrPermissionDenied)
	}
	return nil
}

// ReadDirectory lists path's entries, directories first then alphabetically,
// matching the reference implementation's ordering.
func ReadDirectory(path string) ([]wire.DirEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("vfs: read dir %s: %w", path, err)
	}

	entries := make([]wire.DirEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			continue
		}

		var size *uint64
		if !fi.IsDir() {
			s := uint64(fi.Size())
			size = &s
		}
		modified := fi.ModTime()

		entries = append(entries, wire.DirEntry{
			Name:     de.Name(),
			Path:     filepath.Join(path, de.Name()),
			IsDir:    fi.IsDir(),
			IsSymlnk: fi.Mode()&os.ModeSymlink != 0,
			Size:     size,
			Modified: &modified,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// ChunkEntries splits entries into pages of at most chunkSize, mirroring
// the reference implementation's chunk_entries.
func ChunkEntries(entries []wire.DirEntry, chunkSize int) [][]wire.DirEntry {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	var chunks [][]wire.DirEntry
	for i := 0; i < len(entries); i += chunkSize {
		end := i + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[i:end])
	}
	return chunks
}

// ReadFile returns a small file's contents, capped at MaxFileReadSize.
func ReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("vfs: %s is a directory", path)
	}
	if info.Size() > MaxFileReadSize {
		return nil, fmt.Errorf("vfs: %s exceeds %d bytes", path, MaxFileReadSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("vfs: read %s: %w", path, err)
	}
	return data, nil
}

// Watch is one active fsnotify subscription on a single directory.
type Watch struct {
	ID     string
	Path   string
	Events <-chan wire.FileEvent
	Errors <-chan error

	watcher *fsnotify.Watcher
}

// StartWatch begins watching path (non-recursively, matching fsnotify's own
// semantics) and returns a handle whose Events channel reports changes
// until Close is called.
func StartWatch(path string) (*Watch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("vfs: create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("vfs: watch %s: %w", path, err)
	}

	events := make(chan wire.FileEvent, 64)
	errs := make(chan error, 4)

	watch := &Watch{
		ID:      uuid.NewString(),
		Path:    path,
		Events:  events,
		Errors:  errs,
		watcher: w,
	}

	go func() {
		defer close(events)
		defer close(errs)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				kind, ok := translateOp(ev.Op)
				if !ok {
					continue
				}
				events <- wire.FileEvent{WatchID: watch.ID, Path: ev.Name, Kind: kind}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				errs <- err
			}
		}
	}()

	return watch, nil
}

func translateOp(op fsnotify.Op) (wire.FileEventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return wire.FileEventCreate, true
	case op&fsnotify.Write != 0:
		return wire.FileEventWrite, true
	case op&fsnotify.Remove != 0:
		return wire.FileEventRemove, true
	case op&fsnotify.Rename != 0:
		return wire.FileEventRename, true
	default:
		return 0, false
	}
}

// Close tears down the underlying fsnotify watcher.
func (w *Watch) Close() error {
	return w.watcher.Close()
}
