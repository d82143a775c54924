// Package source implements the configuration sources that produce
// PDPConfiguration records and publish them to a voter sink: directory,
// multi-directory, local bundle, and remote bundle sources (spec component
// C4).
package source

import (
	"github.com/dotrongnhan/saplgo/pdpconfig"
)

// VoterSink receives PDPConfiguration publications from a source. The
// decision point's PdpVoterSource is the production implementation.
type VoterSink interface {
	// LoadConfiguration installs cfg, replacing any existing snapshot for
	// cfg.PdpID when replace is true.
	LoadConfiguration(cfg pdpconfig.PDPConfiguration, replace bool)
	// RemoveConfigurationForPdp unloads the active snapshot for pdpId, if
	// any.
	RemoveConfigurationForPdp(pdpId string)
}

// ConfigSource is a disposable producer of PDPConfiguration publications.
// Dispose is idempotent; operations issued after Dispose are silently
// ignored (spec.md §4.4).
type ConfigSource interface {
	Dispose()
}

const (
	// MaxTotalSaplBytes bounds the combined size of a directory source's
	// *.sapl files (spec.md §4.4.1).
	MaxTotalSaplBytes = 10 * 1024 * 1024
	// MaxSaplFileCount bounds the number of *.sapl files a directory source
	// will load (spec.md §4.4.1).
	MaxSaplFileCount = 1000
)
