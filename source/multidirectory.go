package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dotrongnhan/saplgo/pdplog"
)

// MultiDirectorySource watches a root directory whose immediate
// subdirectories are each an independent pdpId's configuration directory
// (spec.md §4.4.2). Optionally, files directly under the root are also
// loaded as a "default" pdpId.
type MultiDirectorySource struct {
	root              string
	sink              VoterSink
	includeRootFiles  bool
	log               *pdplog.Logger
	watcher           *fsnotify.Watcher
	done              chan struct{}

	mu       sync.Mutex
	children map[string]*DirectorySource
	disposed bool
}

// defaultPdpID names the pseudo-pdpId used for files found directly under
// the watched root when includeRootFiles is set.
const defaultPdpID = "default"

// NewMultiDirectorySource starts a child DirectorySource for every immediate
// subdirectory of root, keyed by subdirectory name as pdpId, and watches
// root for subdirectories being added or removed.
func NewMultiDirectorySource(root string, includeRootFiles bool, sink VoterSink) (*MultiDirectorySource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source: stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %q is not a directory", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source: create watcher: %w", err)
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("source: watch %q: %w", root, err)
	}

	m := &MultiDirectorySource{
		root:             root,
		sink:             sink,
		includeRootFiles: includeRootFiles,
		log:              pdplog.New("source.multidirectory"),
		watcher:          watcher,
		done:             make(chan struct{}),
		children:         make(map[string]*DirectorySource),
	}

	if includeRootFiles {
		if child, err := NewDirectorySource(root, defaultPdpID, sink); err == nil {
			m.children[defaultPdpID] = child
		} else {
			m.log.Warnf("default pdpId load skipped: %v", err)
		}
	}
	m.rescan()
	go m.watch()
	return m, nil
}

func (m *MultiDirectorySource) watch() {
	for {
		select {
		case <-m.done:
			return
		case _, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.rescan()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Errorf("watch %q: %v", m.root, err)
		}
	}
}

// rescan reconciles m.children against root's current immediate
// subdirectories: new ones get a DirectorySource, removed ones are disposed
// and their pdpId unloaded.
func (m *MultiDirectorySource) rescan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.log.Errorf("rescan %q: %v", m.root, err)
		return
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !m.entryIsDir(e) {
			continue
		}
		pdpID := e.Name()
		present[pdpID] = true
		if _, ok := m.children[pdpID]; ok {
			continue
		}
		child, err := NewDirectorySource(filepath.Join(m.root, pdpID), pdpID, m.sink)
		if err != nil {
			m.log.Warnf("subdirectory %q skipped: %v", pdpID, err)
			continue
		}
		m.children[pdpID] = child
	}

	for pdpID, child := range m.children {
		if pdpID == defaultPdpID {
			continue
		}
		if !present[pdpID] {
			child.Dispose()
			delete(m.children, pdpID)
			m.sink.RemoveConfigurationForPdp(pdpID)
		}
	}
}

// entryIsDir reports whether e names a subdirectory of root, following
// symlinks: os.DirEntry.IsDir() reflects Lstat and reports false for a
// symlink regardless of what it points at, which would otherwise silently
// skip a symlinked pdpId directory (spec.md §9 "Symbolic-link
// subdirectories are permitted and followed").
func (m *MultiDirectorySource) entryIsDir(e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(m.root, e.Name()))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Dispose stops watching root and disposes every child directory source.
// Idempotent (spec.md §4.4).
func (m *MultiDirectorySource) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	close(m.done)
	m.watcher.Close()
	for _, child := range m.children {
		child.Dispose()
	}
}
