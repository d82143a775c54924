package pdpconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// ConfigurationID builds the canonical "<prefix>:<path>@sha256:<hex>" form
// (spec.md §3 "PDPConfiguration"). prefix distinguishes the origin
// ("directory", "bundle", "resource"); path is the source-specific
// identifier (directory path, bundle filename); contents is hashed over
// every named file's bytes, sorted by name, so that identical content always
// yields the same id regardless of read order.
func ConfigurationID(prefix, path string, contents map[string][]byte) string {
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(contents[name])
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%s@sha256:%s", prefix, path, hex.EncodeToString(h.Sum(nil)))
}
