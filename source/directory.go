package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dotrongnhan/saplgo/pdpconfig"
	"github.com/dotrongnhan/saplgo/pdplog"
)

// DirectorySource watches one directory for a pdp.json file and its
// immediate *.sapl children, republishing a PDPConfiguration on every
// relevant change (spec.md §4.4.1). The watch loop generalises the
// placeholder fsnotify-less watcher pattern into a real implementation.
type DirectorySource struct {
	dir   string
	pdpID string
	sink  VoterSink
	log   *pdplog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.Mutex
	disposed bool
}

// NewDirectorySource validates dir and pdpID, performs the initial load, and
// starts watching dir for changes. Construction fails only for structural
// problems (dir is not a directory, pdpID is invalid); an oversized or
// malformed initial load is not a construction failure — the source is
// created and continues watching (spec.md §4.4.1).
func NewDirectorySource(dir, pdpID string, sink VoterSink) (*DirectorySource, error) {
	if err := pdpconfig.ValidatePdpID(pdpID); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source: stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %q is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("source: watch %q: %w", dir, err)
	}

	s := &DirectorySource{
		dir:     dir,
		pdpID:   pdpID,
		sink:    sink,
		log:     pdplog.New("source.directory"),
		watcher: watcher,
		done:    make(chan struct{}),
	}

	s.reload()
	go s.watch()
	return s, nil
}

// Dispose stops the watch loop and closes the underlying watcher. Idempotent;
// a second call is a no-op (spec.md §4.4).
func (s *DirectorySource) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	close(s.done)
	s.watcher.Close()
}

func (s *DirectorySource) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *DirectorySource) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if relevant(ev.Name) {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Errorf("watch %q: %v", s.dir, err)
		}
	}
}

func relevant(name string) bool {
	base := filepath.Base(name)
	return base == "pdp.json" || strings.HasSuffix(base, ".sapl")
}

// reload re-scans the directory and publishes a fresh configuration. Errors
// are logged and swallowed: a transient bad write (e.g. a half-written file)
// must not tear the source down, it must simply skip that publication and
// keep watching for the next event.
func (s *DirectorySource) reload() {
	if s.isDisposed() {
		return
	}
	cfg, err := loadDirectoryConfiguration(s.dir, s.pdpID)
	if err != nil {
		s.log.Warnf("skipping load for pdpId %q: %v", s.pdpID, err)
		return
	}
	if cfg == nil {
		return
	}
	s.sink.LoadConfiguration(*cfg, true)
}

// loadDirectoryConfiguration reads dir/pdp.json (defaulting if absent) and
// every immediate dir/*.sapl file, enforcing the total-size and file-count
// caps (spec.md §4.4.1). Returns an error when the caps are exceeded; reload
// logs it and keeps watching without publishing.
func loadDirectoryConfiguration(dir, pdpID string) (*pdpconfig.PDPConfiguration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: read dir %q: %w", dir, err)
	}

	var pdpJSONBytes []byte
	saplFiles := make(map[string][]byte)
	var totalBytes int64

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(dir, name)
		switch {
		case name == "pdp.json":
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("source: read %q: %w", full, err)
			}
			pdpJSONBytes = data
		case strings.HasSuffix(name, ".sapl"):
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("source: read %q: %w", full, err)
			}
			saplFiles[name] = data
			totalBytes += int64(len(data))
		}
	}

	if len(saplFiles) > MaxSaplFileCount || totalBytes > MaxTotalSaplBytes {
		return nil, fmt.Errorf("source: directory %q exceeds limits (%d files, %d bytes)", dir, len(saplFiles), totalBytes)
	}

	if pdpJSONBytes == nil {
		pdpJSONBytes = []byte(`{}`)
	}
	doc, err := pdpconfig.ParsePdpJSON(pdpJSONBytes)
	if err != nil {
		return nil, err
	}

	contents := make(map[string][]byte, len(saplFiles)+1)
	contents["pdp.json"] = pdpJSONBytes
	docs := make([]string, 0, len(saplFiles))
	for name, data := range saplFiles {
		contents[name] = data
		docs = append(docs, string(data))
	}

	confID := doc.ConfigurationID
	if confID == "" {
		confID = pdpconfig.ConfigurationID("directory", dir, contents)
	}

	return &pdpconfig.PDPConfiguration{
		PdpID:              pdpID,
		ConfigurationID:    confID,
		CombiningAlgorithm: doc.CombiningAlgorithm,
		Variables:          doc.Variables,
		SaplDocuments:      docs,
	}, nil
}
