package bundleserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotrongnhan/saplgo/bundle"
)

func writeBundle(t *testing.T, dir, pdpID string) {
	t.Helper()
	raw, err := bundle.Build(bundle.Bundle{
		PdpJSON:  []byte(`{}`),
		Policies: map[string][]byte{"p1.sapl.json": []byte(`{"type":"policy","name":"p1","effect":"PERMIT"}`)},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, pdpID+".saplbundle"), raw, 0o644))
}

func TestServerServesBundleAndHonoursETag(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "app1")

	srv := httptest.NewServer(New(dir).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body)
	etag := resp.Header.Get("ETag")
	assert.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/app1", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp2.StatusCode)
}

func TestServerReturnsNotFoundForUnknownPdp(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(New(dir).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(New(dir).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/..%2Fetc%2Fpasswd")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}
