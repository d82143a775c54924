package source

import (
	"crypto/ed25519"
	"fmt"
)

// BundleSecurityPolicy decides whether a parsed bundle's manifest is
// acceptable before its configuration is published (spec.md §4.4.3).
type BundleSecurityPolicy interface {
	// Verify checks a manifest (may be nil if the bundle carried none)
	// against files, returning an error if the bundle must be rejected.
	Verify(manifest VerifiableManifest, files map[string][]byte) error
}

// VerifiableManifest is the subset of bundle.Manifest a security policy
// needs; *bundle.Manifest implements it.
type VerifiableManifest interface {
	VerifyAgainst(pub ed25519.PublicKey, files map[string][]byte) error
	HasSignature() bool
}

// verifiedPolicy requires every bundle to carry a valid Ed25519 signature
// under the configured public key.
type verifiedPolicy struct {
	publicKey ed25519.PublicKey
}

// Verified builds a policy that rejects any bundle lacking a valid Ed25519
// signature under pub.
func Verified(pub ed25519.PublicKey) BundleSecurityPolicy {
	return verifiedPolicy{publicKey: pub}
}

func (p verifiedPolicy) Verify(manifest VerifiableManifest, files map[string][]byte) error {
	if manifest == nil || !manifest.HasSignature() {
		return fmt.Errorf("source: unsigned bundle rejected by verified security policy")
	}
	return manifest.VerifyAgainst(p.publicKey, files)
}

// unverifiedPolicy accepts any bundle, signed or not. Construction fails
// unless the caller explicitly sets acceptRisk, so that "no verification" is
// never a silent default (spec.md §4.4.3).
type unverifiedPolicy struct{}

// Unverified builds a policy that accepts bundles regardless of signature.
// acceptRisk must be true or construction fails; this keeps the unsafe path
// an explicit, reviewable choice rather than an accidental default.
func Unverified(acceptRisk bool) (BundleSecurityPolicy, error) {
	if !acceptRisk {
		return nil, fmt.Errorf("source: Unverified requires acceptRisk=true")
	}
	return unverifiedPolicy{}, nil
}

func (unverifiedPolicy) Verify(VerifiableManifest, map[string][]byte) error {
	return nil
}
