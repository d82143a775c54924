package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// zipMagic is the four-byte local-file-header signature; a bundle entry
// whose body starts with it is rejected as a nested archive (spec.md
// §4.4.3).
var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// Bundle is the logical, already-parsed wire format: pdp.json bytes, named
// policy documents, and an optional manifest (spec.md §3 "Bundle").
type Bundle struct {
	PdpJSON  []byte
	Policies map[string][]byte
	Manifest *Manifest
}

// Build serialises b into a deflate-compressed ZIP archive with one level
// of entries: pdp.json, each policy file, and MANIFEST when b.Manifest is
// set (spec.md §6.4).
func Build(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	if err := writeEntry(w, "pdp.json", b.PdpJSON); err != nil {
		return nil, err
	}
	for name, data := range b.Policies {
		if err := writeEntry(w, name, data); err != nil {
			return nil, err
		}
	}
	if b.Manifest != nil {
		raw, err := json.Marshal(b.Manifest)
		if err != nil {
			return nil, fmt.Errorf("bundle: marshal manifest: %w", err)
		}
		if err := writeEntry(w, "MANIFEST", raw); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bundle: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(w *zip.Writer, name string, data []byte) error {
	f, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("bundle: create entry %q: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("bundle: write entry %q: %w", name, err)
	}
	return nil
}

// Parse reads a .saplbundle archive, rejecting nested archives and
// path-traversing entries (spec.md §4.4.3). A missing pdp.json is an error;
// callers treat any Parse error as "skip this bundle, not fatal".
func Parse(data []byte) (Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Bundle{}, fmt.Errorf("bundle: not a valid zip archive: %w", err)
	}

	out := Bundle{Policies: make(map[string][]byte)}
	var manifestRaw []byte

	for _, f := range zr.File {
		if err := validateEntryPath(f.Name); err != nil {
			return Bundle{}, err
		}
		rc, err := f.Open()
		if err != nil {
			return Bundle{}, fmt.Errorf("bundle: open entry %q: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Bundle{}, fmt.Errorf("bundle: read entry %q: %w", f.Name, err)
		}
		if len(body) >= 4 && bytes.Equal(body[:4], zipMagic) {
			return Bundle{}, fmt.Errorf("bundle: entry %q is a nested archive", f.Name)
		}

		switch {
		case f.Name == "pdp.json":
			out.PdpJSON = body
		case f.Name == "MANIFEST":
			manifestRaw = body
		case strings.HasSuffix(f.Name, ".sapl"):
			out.Policies[f.Name] = body
		}
	}

	if out.PdpJSON == nil {
		return Bundle{}, fmt.Errorf("bundle: missing pdp.json")
	}
	if manifestRaw != nil {
		var m Manifest
		if err := json.Unmarshal(manifestRaw, &m); err != nil {
			return Bundle{}, fmt.Errorf("bundle: parse manifest: %w", err)
		}
		out.Manifest = &m
	}
	return out, nil
}

// validateEntryPath rejects entries whose path escapes the archive root:
// absolute paths, backslashes, or any ".." segment (spec.md §4.4.3).
func validateEntryPath(name string) error {
	if strings.Contains(name, "\\") {
		return fmt.Errorf("bundle: entry %q contains a backslash", name)
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("bundle: entry %q is an absolute path", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("bundle: entry %q escapes the archive root", name)
		}
	}
	return nil
}

// Files returns every named byte payload a Manifest might hash: pdp.json
// plus every policy file (MANIFEST itself is never hashed).
func (b Bundle) Files() map[string][]byte {
	out := make(map[string][]byte, len(b.Policies)+1)
	out["pdp.json"] = b.PdpJSON
	for name, data := range b.Policies {
		out[name] = data
	}
	return out
}
