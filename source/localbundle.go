package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dotrongnhan/saplgo/bundle"
	"github.com/dotrongnhan/saplgo/pdpconfig"
	"github.com/dotrongnhan/saplgo/pdplog"
)

// saplBundleExt is the file extension a LocalBundleSource watches for.
const saplBundleExt = ".saplbundle"

// LocalBundleSource watches a directory for *.saplbundle files, treating
// each file's name (minus extension) as its pdpId (spec.md §4.4.3).
type LocalBundleSource struct {
	dir    string
	sink   VoterSink
	policy BundleSecurityPolicy
	log    *pdplog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.Mutex
	loaded   map[string]bool
	disposed bool
}

// NewLocalBundleSource starts watching dir for *.saplbundle files, loading
// any already present.
func NewLocalBundleSource(dir string, policy BundleSecurityPolicy, sink VoterSink) (*LocalBundleSource, error) {
	if policy == nil {
		return nil, fmt.Errorf("source: policy must not be nil")
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

	s := &LocalBundleSource{
		dir:     dir,
		sink:    sink,
		policy:  policy,
		log:     pdplog.New("source.localbundle"),
		watcher: watcher,
		done:    make(chan struct{}),
		loaded:  make(map[string]bool),
	}

	s.rescan()
	go s.watch()
	return s, nil
}

func (s *LocalBundleSource) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(ev.Name, saplBundleExt) {
				s.rescan()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Errorf("watch %q: %v", s.dir, err)
		}
	}
}

func (s *LocalBundleSource) rescan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Errorf("rescan %q: %v", s.dir, err)
		return
	}

	present := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), saplBundleExt) {
			continue
		}
		pdpID := strings.TrimSuffix(e.Name(), saplBundleExt)
		present[pdpID] = true
		s.loadOne(filepath.Join(s.dir, e.Name()), pdpID)
	}

	for pdpID := range s.loaded {
		if !present[pdpID] {
			delete(s.loaded, pdpID)
			s.sink.RemoveConfigurationForPdp(pdpID)
		}
	}
}

func (s *LocalBundleSource) loadOne(path, pdpID string) {
	if err := pdpconfig.ValidatePdpID(pdpID); err != nil {
		s.log.Warnf("skipping %q: %v", path, err)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		s.log.Warnf("read %q: %v", path, err)
		return
	}
	b, err := bundle.Parse(raw)
	if err != nil {
		s.log.Warnf("parse %q: %v", path, err)
		return
	}
	if err := s.policy.Verify(b.Manifest, b.Files()); err != nil {
		s.log.Warnf("reject %q: %v", path, err)
		return
	}

	doc, err := pdpconfig.ParsePdpJSON(b.PdpJSON)
	if err != nil {
		s.log.Warnf("parse pdp.json in %q: %v", path, err)
		return
	}

	confID := doc.ConfigurationID
	if confID == "" {
		confID = pdpconfig.ConfigurationID("bundle", filepath.Base(path), b.Files())
	}
	docs := make([]string, 0, len(b.Policies))
	for _, data := range b.Policies {
		docs = append(docs, string(data))
	}

	cfg := pdpconfig.PDPConfiguration{
		PdpID:              pdpID,
		ConfigurationID:    confID,
		CombiningAlgorithm: doc.CombiningAlgorithm,
		Variables:          doc.Variables,
		SaplDocuments:      docs,
	}
	s.loaded[pdpID] = true
	s.sink.LoadConfiguration(cfg, true)
}

// Dispose stops watching and closes the underlying watcher. Idempotent.
func (s *LocalBundleSource) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	close(s.done)
	s.watcher.Close()
}
