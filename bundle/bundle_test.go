package bundle

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/dotrongnhan/saplgo/pdpconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedBundle(t *testing.T) (Bundle, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	b := Bundle{
		PdpJSON:  []byte(`{}`),
		Policies: map[string][]byte{"policy.sapl": []byte(`policy "p" permit`)},
	}
	m := Manifest{Version: "1", HashAlgorithm: "SHA-256", CreatedAt: "2026-01-01T00:00:00Z", Files: HashFiles(b.Files())}
	signed, err := Sign(m, "k1", priv)
	require.NoError(t, err)
	b.Manifest = &signed
	return b, pub
}

func TestBuildParseRoundTripPreservesBytes(t *testing.T) {
	b := Bundle{
		PdpJSON:  []byte(`{"algorithm":{"votingMode":"PRIORITY_DENY"}}`),
		Policies: map[string][]byte{"a.sapl": []byte("policy a"), "b.sapl": []byte("policy b")},
	}
	raw, err := Build(b)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, b.PdpJSON, parsed.PdpJSON)
	assert.Equal(t, b.Policies, parsed.Policies)
}

func TestSignAndVerifySucceeds(t *testing.T) {
	b, pub := signedBundle(t)
	err := Verify(*b.Manifest, pub, b.Files())
	assert.NoError(t, err)
}

// spec.md §8 invariant 3: for all byte-flips of a signed bundle, verify
// fails.
func TestTamperedFileFailsVerification(t *testing.T) {
	b, pub := signedBundle(t)
	tampered := map[string][]byte{
		"pdp.json":    b.PdpJSON,
		"policy.sapl": append([]byte{}, b.Policies["policy.sapl"]...),
	}
	tampered["policy.sapl"][0] ^= 0xFF
	err := Verify(*b.Manifest, pub, tampered)
	assert.Error(t, err)
}

func TestTamperedSignatureFailsVerification(t *testing.T) {
	b, pub := signedBundle(t)
	sig := *b.Manifest
	raw := []byte(sig.Signature.Value)
	raw[0] ^= 0xFF
	sig.Signature.Value = string(raw)
	err := Verify(sig, pub, b.Files())
	assert.Error(t, err)
}

func TestVerifyWrongKeyFails(t *testing.T) {
	b, _ := signedBundle(t)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	err = Verify(*b.Manifest, otherPub, b.Files())
	assert.Error(t, err)
}

func TestParseRejectsPathTraversal(t *testing.T) {
	b := Bundle{PdpJSON: []byte(`{}`), Policies: map[string][]byte{"../evil.sapl": []byte("x")}}
	raw, err := Build(b)
	require.NoError(t, err)
	_, err = Parse(raw)
	assert.Error(t, err)
}

func TestParseRejectsNestedArchive(t *testing.T) {
	inner, err := Build(Bundle{PdpJSON: []byte(`{}`)})
	require.NoError(t, err)
	outer := Bundle{PdpJSON: []byte(`{}`), Policies: map[string][]byte{"nested.sapl": inner}}
	raw, err := Build(outer)
	require.NoError(t, err)
	_, err = Parse(raw)
	assert.Error(t, err)
}

func TestParseRejectsMissingPdpJSON(t *testing.T) {
	raw, err := Build(Bundle{Policies: map[string][]byte{"a.sapl": []byte("x")}})
	require.NoError(t, err)
	_, err = Parse(raw)
	assert.Error(t, err)
}

// spec.md §8 invariant 5: configurationId(parse(b)) == configurationId(parse(b)).
func TestConfigurationIDReproducibleAcrossParses(t *testing.T) {
	b, _ := signedBundle(t)
	raw, err := Build(b)
	require.NoError(t, err)

	p1, err := Parse(raw)
	require.NoError(t, err)
	p2, err := Parse(raw)
	require.NoError(t, err)

	id1 := pdpconfig.ConfigurationID("bundle", "test.saplbundle", p1.Files())
	id2 := pdpconfig.ConfigurationID("bundle", "test.saplbundle", p2.Files())
	assert.Equal(t, id1, id2)
}
