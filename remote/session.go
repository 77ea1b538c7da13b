// Package remote defines the protocol-neutral lister and metadata prober
// (spec component C4): a Session abstracts LIST/DATE/SIZE/FETCH/DELETE
// over whichever pull protocol a directory's URL names, and tracks the
// per-session capability flags that make DATE/SIZE probing optional.
package remote

import (
	"context"
	"io"
	"time"
)

// ProbeResult is the outcome of probing one remote name for its size
// and/or modification time (spec §3 retrieve-list entry fields `size`,
// `file_mtime`, `got_date`, and the `special_flag` bits `RL_GOT_EXACT_SIZE`/
// `RL_GOT_EXACT_DATE`/`RL_GOT_SIZE_DATE`).
type ProbeResult struct {
	Size      int64 // -1 if unknown
	SizeKnown bool
	Mtime     time.Time
	DateKnown bool
}

// Entry is one name returned by List, already stripped of a leading "./"
// (spec §4.4 edge case).
type Entry struct {
	Name string
}

// Session is a protocol-specific connection capable of the five fetch-core
// operations. One Session instance lives for one keep-alive window (spec
// §4.7); its capability flags are not shared across sessions.
type Session interface {
	// List returns the directory listing, names only, "./" stripped.
	List(ctx context.Context) ([]Entry, error)
	// Probe returns what the server will tell us about name without
	// transferring its body. Capability flags (see Capabilities) govern
	// whether DATE/SIZE are even attempted.
	Probe(ctx context.Context, name string) (ProbeResult, error)
	// Fetch opens name for reading starting at offset (0 for a full
	// fetch, >0 for append_only's ranged restart, spec §4.6 step 2).
	Fetch(ctx context.Context, name string, offset int64) (io.ReadCloser, error)
	// Delete removes name from the remote side (spec §4.5/§4.6's
	// `remove`-mode and filter-reject delete paths).
	Delete(ctx context.Context, name string) error
	// Capabilities exposes this session's sticky capability flags.
	Capabilities() *Capabilities
	// Close tears the session down (spec §4.7 "close session and exit").
	Close() error
}

// Capabilities tracks probe_date_supported/probe_size_supported for the
// lifetime of one session (spec §4.4). Once a protocol reports a
// definitive "not supported" response, the corresponding flag is driven to
// false and never re-probed; a transient error must never touch these
// flags (spec §4.4: "A transient failure ... must not flip the flag").
type Capabilities struct {
	dateSupported bool
	sizeSupported bool
}

// NewCapabilities returns capability flags optimistically set to true; a
// protocol session clears them the first time it receives a definitive
// not-supported response.
func NewCapabilities() *Capabilities {
	return &Capabilities{dateSupported: true, sizeSupported: true}
}

// DateSupported reports whether DATE probing is still worth attempting.
func (c *Capabilities) DateSupported() bool { return c.dateSupported }

// SizeSupported reports whether SIZE probing is still worth attempting.
func (c *Capabilities) SizeSupported() bool { return c.sizeSupported }

// MarkDateUnsupported flips probe_date_supported to false, sticky for the
// rest of the session.
func (c *Capabilities) MarkDateUnsupported() { c.dateSupported = false }

// MarkSizeUnsupported flips probe_size_supported to false, sticky for the
// rest of the session.
func (c *Capabilities) MarkSizeUnsupported() { c.sizeSupported = false }

// ErrNotSupported is returned by a protocol's DATE/SIZE implementation to
// signal a definitive "not supported" response (distinguished from a
// transient transport error, which must be returned as a plain error and
// must not touch the capability flags).
var ErrNotSupported = notSupportedError{}

type notSupportedError struct{}

func (notSupportedError) Error() string { return "remote: capability not supported by server" }
