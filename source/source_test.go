package source

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotrongnhan/saplgo/bundle"
	"github.com/dotrongnhan/saplgo/pdpconfig"
)

type fakeSink struct {
	mu      sync.Mutex
	loaded  map[string]pdpconfig.PDPConfiguration
	removed map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{loaded: make(map[string]pdpconfig.PDPConfiguration), removed: make(map[string]int)}
}

func (f *fakeSink) LoadConfiguration(cfg pdpconfig.PDPConfiguration, replace bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded[cfg.PdpID] = cfg
}

func (f *fakeSink) RemoveConfigurationForPdp(pdpID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.loaded, pdpID)
	f.removed[pdpID]++
}

func (f *fakeSink) get(pdpID string) (pdpconfig.PDPConfiguration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.loaded[pdpID]
	return cfg, ok
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestDirectorySourceInitialLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pdp.json"), []byte(`{"algorithm":{"votingMode":"FIRST"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.sapl"), []byte(`policy "a" permit`), 0o644))

	sink := newFakeSink()
	src, err := NewDirectorySource(dir, "app1", sink)
	require.NoError(t, err)
	defer src.Dispose()

	cfg, ok := sink.get("app1")
	require.True(t, ok)
	assert.Len(t, cfg.SaplDocuments, 1)
}

func TestDirectorySourceRejectsInvalidPdpID(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDirectorySource(dir, "bad id with spaces", newFakeSink())
	assert.Error(t, err)
}

func TestDirectorySourceRejectsNonDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err := NewDirectorySource(f, "app1", newFakeSink())
	assert.Error(t, err)
}

func TestDirectorySourceRepublishesOnFileChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pdp.json"), []byte(`{}`), 0o644))

	sink := newFakeSink()
	src, err := NewDirectorySource(dir, "app1", sink)
	require.NoError(t, err)
	defer src.Dispose()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.sapl"), []byte(`policy "a" permit`), 0o644))
	waitFor(t, 2*time.Second, func() bool {
		cfg, ok := sink.get("app1")
		return ok && len(cfg.SaplDocuments) == 1
	})
}

func TestDirectorySourceDisposeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pdp.json"), []byte(`{}`), 0o644))
	src, err := NewDirectorySource(dir, "app1", newFakeSink())
	require.NoError(t, err)
	src.Dispose()
	assert.NotPanics(t, func() { src.Dispose() })
}

func TestMultiDirectorySourceTracksSubdirectories(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "app1")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "pdp.json"), []byte(`{}`), 0o644))

	sink := newFakeSink()
	m, err := NewMultiDirectorySource(root, false, sink)
	require.NoError(t, err)
	defer m.Dispose()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := sink.get("app1")
		return ok
	})

	require.NoError(t, os.RemoveAll(sub))
	waitFor(t, 2*time.Second, func() bool {
		_, ok := sink.get("app1")
		return !ok
	})
}

func TestMultiDirectorySourceFollowsSymlinkedSubdirectory(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(t.TempDir(), "app1")
	require.NoError(t, os.Mkdir(real, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(real, "pdp.json"), []byte(`{}`), 0o644))

	link := filepath.Join(root, "app1")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	sink := newFakeSink()
	m, err := NewMultiDirectorySource(root, false, sink)
	require.NoError(t, err)
	defer m.Dispose()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := sink.get("app1")
		return ok
	})
}

func TestLocalBundleSourceLoadsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	raw, err := bundle.Build(bundle.Bundle{
		PdpJSON:  []byte(`{}`),
		Policies: map[string][]byte{"a.sapl": []byte(`policy "a" permit`)},
	})
	require.NoError(t, err)
	bundlePath := filepath.Join(dir, "app1.saplbundle")
	require.NoError(t, os.WriteFile(bundlePath, raw, 0o644))

	policy, err := Unverified(true)
	require.NoError(t, err)
	sink := newFakeSink()
	src, err := NewLocalBundleSource(dir, policy, sink)
	require.NoError(t, err)
	defer src.Dispose()

	waitFor(t, 2*time.Second, func() bool {
		cfg, ok := sink.get("app1")
		return ok && len(cfg.SaplDocuments) == 1
	})

	require.NoError(t, os.Remove(bundlePath))
	waitFor(t, 2*time.Second, func() bool {
		_, ok := sink.get("app1")
		return !ok
	})
}

func TestUnverifiedRequiresAcceptRisk(t *testing.T) {
	_, err := Unverified(false)
	assert.Error(t, err)
}

func TestNewLocalBundleSourceRejectsNilPolicy(t *testing.T) {
	_, err := NewLocalBundleSource(t.TempDir(), nil, newFakeSink())
	assert.Error(t, err)
}

func TestNewRemoteBundleSourceRejectsNilPolicy(t *testing.T) {
	_, err := NewRemoteBundleSource(RemoteBundleOptions{
		BaseURL: "http://example.invalid",
		PdpIDs:  []string{"app1"},
	}, nil, newFakeSink())
	assert.Error(t, err)
}

func TestRemoteBundleSourcePollsAndHandlesNotModified(t *testing.T) {
	raw, err := bundle.Build(bundle.Bundle{
		PdpJSON:  []byte(`{}`),
		Policies: map[string][]byte{"a.sapl": []byte(`policy "a" permit`)},
	})
	require.NoError(t, err)

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == "v1" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", "v1")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}))
	defer srv.Close()

	policy, err := Unverified(true)
	require.NoError(t, err)
	sink := newFakeSink()
	src, err := NewRemoteBundleSource(RemoteBundleOptions{
		BaseURL:      srv.URL,
		PdpIDs:       []string{"app1"},
		Mode:         Polling,
		PollInterval: 20 * time.Millisecond,
	}, policy, sink)
	require.NoError(t, err)
	defer src.Dispose()

	waitFor(t, 2*time.Second, func() bool {
		cfg, ok := sink.get("app1")
		return ok && len(cfg.SaplDocuments) == 1
	})
}

func TestVerifiedPolicyRejectsUnsignedBundle(t *testing.T) {
	policy := Verified(nil)
	err := policy.Verify((*bundle.Manifest)(nil), map[string][]byte{})
	assert.Error(t, err)
}
