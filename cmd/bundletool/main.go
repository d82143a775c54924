// Command bundletool builds, signs, and verifies bundle.Bundle archives
// from the filesystem, the spec.md §6.4 signed-bundle-format analogue of
// the teacher's cmd/migrate seeding tool.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotrongnhan/saplgo/bundle"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "genkey":
		err = cmdGenKey(os.Args[2:])
	case "build":
		err = cmdBuild(os.Args[2:])
	case "verify":
		err = cmdVerify(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("bundletool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("🛠️  saplgo bundletool")
	fmt.Println("usage:")
	fmt.Println("  bundletool genkey <private-key-out> <public-key-out>")
	fmt.Println("  bundletool build <source-dir> <output.saplbundle> [private-key-file] [keyId]")
	fmt.Println("  bundletool verify <bundle-file> <public-key-file>")
}

// cmdGenKey writes a freshly generated Ed25519 keypair, hex-encoded, one
// key per file.
func cmdGenKey(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("genkey requires <private-key-out> <public-key-out>")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(args[0], []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(args[1], []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	fmt.Println("✅ keypair written")
	return nil
}

// cmdBuild packages sourceDir (expected to hold pdp.json and *.sapl
// policy documents) into a bundle archive, signing it if a private key
// file is given.
func cmdBuild(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("build requires <source-dir> <output.saplbundle> [private-key-file] [keyId]")
	}
	sourceDir, output := args[0], args[1]

	b, err := loadBundleDir(sourceDir)
	if err != nil {
		return err
	}

	if len(args) >= 3 {
		priv, err := loadPrivateKey(args[2])
		if err != nil {
			return err
		}
		keyID := "default"
		if len(args) >= 4 {
			keyID = args[3]
		}
		manifest := bundle.Manifest{
			Version:       "1",
			HashAlgorithm: "sha256",
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
			Files:         bundle.HashFiles(b.Files()),
		}
		signed, err := bundle.Sign(manifest, keyID, priv)
		if err != nil {
			return fmt.Errorf("sign manifest: %w", err)
		}
		b.Manifest = &signed
	}

	raw, err := bundle.Build(b)
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	if err := os.WriteFile(output, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Printf("✅ wrote %s (%d bytes, %d policies, signed=%v)\n", output, len(raw), len(b.Policies), b.Manifest != nil)
	return nil
}

// cmdVerify parses a bundle archive and checks its manifest signature and
// file hashes against pub.
func cmdVerify(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("verify requires <bundle-file> <public-key-file>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	b, err := bundle.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}
	if b.Manifest == nil {
		return fmt.Errorf("bundle carries no manifest")
	}
	pub, err := loadPublicKey(args[1])
	if err != nil {
		return err
	}
	if err := b.Manifest.VerifyAgainst(pub, b.Files()); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Println("✅ signature and file hashes verified")
	return nil
}

// loadBundleDir reads pdp.json and every *.sapl file in dir into a
// bundle.Bundle, mirroring source.loadDirectoryConfiguration's file
// selection rule.
func loadBundleDir(dir string) (bundle.Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return bundle.Bundle{}, fmt.Errorf("read %s: %w", dir, err)
	}

	b := bundle.Bundle{Policies: make(map[string][]byte)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return bundle.Bundle{}, fmt.Errorf("read %s: %w", path, err)
		}
		switch {
		case name == "pdp.json":
			b.PdpJSON = data
		case strings.HasSuffix(name, ".sapl"):
			b.Policies[name] = data
		}
	}
	if b.PdpJSON == nil {
		b.PdpJSON = []byte(`{}`)
	}
	return b, nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has wrong length %d", len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has wrong length %d", len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}
