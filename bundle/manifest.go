// Package bundle implements the signed distributable archive format: a ZIP
// container carrying pdp.json, policy documents, and an optional Ed25519
// signature manifest (spec.md §6.4, the "Bundle Format & Signer" component).
package bundle

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Manifest is the optional "MANIFEST" entry's decoded shape (spec.md §6.4).
type Manifest struct {
	Version      string            `json:"version"`
	HashAlgorithm string           `json:"hashAlgorithm"`
	CreatedAt    string            `json:"createdAt"`
	Files        map[string]string `json:"files"`
	Signature    *Signature        `json:"signature,omitempty"`
}

// Signature is the Ed25519 signature attached to a Manifest.
type Signature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"keyId"`
	Value     string `json:"value"` // base64-raw-signature
}

// canonicalManifestJSON produces the deterministic serialisation the
// signature covers: {version, hashAlgorithm, createdAt, files (keys sorted
// ascending)} with compact separators and UTF-8 encoding, excluding the
// signature field itself (spec.md §6.4 "Signature input").
func canonicalManifestJSON(m Manifest) ([]byte, error) {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeJSONField(&buf, "version", m.Version, true)
	writeJSONField(&buf, "hashAlgorithm", m.HashAlgorithm, false)
	writeJSONField(&buf, "createdAt", m.CreatedAt, false)
	buf.WriteString(`,"files":{`)
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.Files[name])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func writeJSONField(buf *bytes.Buffer, name, val string, first bool) {
	if !first {
		buf.WriteByte(',')
	}
	k, _ := json.Marshal(name)
	v, _ := json.Marshal(val)
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
}

// HashFiles computes the SHA-256 hash of every file's raw bytes, for
// populating Manifest.Files before signing.
func HashFiles(files map[string][]byte) map[string]string {
	out := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha256.Sum256(data)
		out[name] = hex.EncodeToString(sum[:])
	}
	return out
}

// Sign computes the Ed25519 signature over m's canonical serialisation and
// returns a Manifest carrying it, leaving m itself unmodified.
func Sign(m Manifest, keyID string, priv ed25519.PrivateKey) (Manifest, error) {
	payload, err := canonicalManifestJSON(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("bundle: canonicalize manifest: %w", err)
	}
	sig := ed25519.Sign(priv, payload)
	out := m
	out.Signature = &Signature{
		Algorithm: "Ed25519",
		KeyID:     keyID,
		Value:     base64.StdEncoding.EncodeToString(sig),
	}
	return out, nil
}

// HasSignature reports whether m carries a signature block, satisfying
// source.VerifiableManifest.
func (m *Manifest) HasSignature() bool {
	return m != nil && m.Signature != nil
}

// VerifyAgainst is Verify with pointer receiver semantics, satisfying
// source.VerifiableManifest so a *Manifest can stand in for the interface
// without that package importing bundle.
func (m *Manifest) VerifyAgainst(pub ed25519.PublicKey, files map[string][]byte) error {
	if m == nil {
		return fmt.Errorf("bundle: manifest is nil")
	}
	return Verify(*m, pub, files)
}

// Verify reports whether m's signature is valid for pub, and whether every
// file in files hashes to the value recorded in m.Files. A tampered file (or
// a byte-flipped signature) fails verification (spec.md §8 invariant 3).
func Verify(m Manifest, pub ed25519.PublicKey, files map[string][]byte) error {
	if m.Signature == nil {
		return fmt.Errorf("bundle: signature missing")
	}
	if m.Signature.Algorithm != "Ed25519" {
		return fmt.Errorf("bundle: unsupported signature algorithm %q", m.Signature.Algorithm)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature.Value)
	if err != nil {
		return fmt.Errorf("bundle: decode signature: %w", err)
	}

	unsigned := m
	unsigned.Signature = nil
	payload, err := canonicalManifestJSON(unsigned)
	if err != nil {
		return fmt.Errorf("bundle: canonicalize manifest: %w", err)
	}
	if !ed25519.Verify(pub, payload, sig) {
		return fmt.Errorf("bundle: signature verification failed")
	}

	for name, wantHash := range m.Files {
		data, ok := files[name]
		if !ok {
			return fmt.Errorf("bundle: manifest references missing file %q", name)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != wantHash {
			return fmt.Errorf("bundle: file %q hash mismatch", name)
		}
	}
	return nil
}
