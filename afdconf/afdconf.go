// Package afdconf loads the YAML directory/host descriptor files that
// seed a process's FRA/FSA tables and per-directory filter rules. It
// mirrors the teacher's own flat, tag-free config-struct idiom
// (fstest/test_all/config.go's Test/Backend structs decoded straight
// off a YAML document) rather than the teacher's separate ini-backed
// fs/config machinery, since the retrieve-list family has no existing
// persisted-secret store to integrate with.
package afdconf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afdcore/afd/filter"
	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
	"github.com/afdcore/afd/urlcfg"
)

// Descriptor is the top-level shape of one YAML configuration document:
// a flat list of directories and a flat list of hosts, joined by alias
// at load time rather than nested, matching spec §3's two independent
// tables.
type Descriptor struct {
	Directories []DirectorySpec `yaml:"directories"`
	Hosts       []HostSpec      `yaml:"hosts"`
}

// DirectorySpec is one YAML directory entry: everything needed to build
// an fra.Entry, plus the filter rule lines and recipient URL that live
// alongside the FRA entry in a real deployment's job record (spec §4.1
// "Configuration").
type DirectorySpec struct {
	Alias             string   `yaml:"alias"`
	URL               string   `yaml:"url"`
	StagingPath       string   `yaml:"staging_path"`
	HostAlias         string   `yaml:"host_alias"`
	FilterRules       []string `yaml:"filter_rules"`
	MaxCopiedFiles    int32    `yaml:"max_copied_files"`
	MaxCopiedFileSize int64    `yaml:"max_copied_file_size"`
	StupidMode        string   `yaml:"stupid_mode"`
	Remove            bool     `yaml:"remove"`
	IgnoreSize        int64    `yaml:"ignore_size"`
	IgnoreSizeOp      string   `yaml:"ignore_size_op"`
	IgnoreFileTime    int64    `yaml:"ignore_file_time"`
	IgnoreFileTimeOp  string   `yaml:"ignore_file_time_op"`
	AcceptDotFiles    bool     `yaml:"accept_dot_files"`
	DeleteUnknown     bool     `yaml:"delete_unknown_files"`
	DeleteOldLocked   bool     `yaml:"delete_old_locked_files"`
	DistributedHelper bool     `yaml:"distributed_helper_job"`
	MaxErrors         uint32   `yaml:"max_errors"`
	LockedFileTime    int64    `yaml:"locked_file_time_seconds"`
	UnknownFileTime   int64    `yaml:"unknown_file_time_seconds"`
	KeepConnected     int64    `yaml:"keep_connected_seconds"`
}

// HostSpec is one YAML host entry: everything needed to build an
// fsa.Entry.
type HostSpec struct {
	Alias             string `yaml:"alias"`
	RealHostname0     string `yaml:"real_hostname_primary"`
	RealHostname1     string `yaml:"real_hostname_secondary"`
	AllowedTransfers  int32  `yaml:"allowed_transfers"`
	TransferRateLimit int64  `yaml:"transfer_rate_limit_bytes_per_sec"`
	TransferTimeout   int64  `yaml:"transfer_timeout_seconds"`
	BlockSize         int32  `yaml:"block_size_bytes"`
}

// Load reads and decodes one YAML descriptor file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("afdconf: read %s: %w", path, err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("afdconf: parse %s: %w", path, err)
	}
	for i := range d.Directories {
		if d.Directories[i].Alias == "" {
			return nil, fmt.Errorf("afdconf: %s: directory at index %d missing alias", path, i)
		}
	}
	for i := range d.Hosts {
		if d.Hosts[i].Alias == "" {
			return nil, fmt.Errorf("afdconf: %s: host at index %d missing alias", path, i)
		}
	}
	return &d, nil
}

// HostByAlias finds the host spec a directory spec references.
func (d *Descriptor) HostByAlias(alias string) (*HostSpec, bool) {
	for i := range d.Hosts {
		if d.Hosts[i].Alias == alias {
			return &d.Hosts[i], true
		}
	}
	return nil, false
}

var stupidModes = map[string]fra.StupidMode{
	"":                 fra.ModeNone,
	"none":             fra.ModeNone,
	"get_once_exact":   fra.ModeGetOnceExact,
	"get_once_inexact": fra.ModeGetOnceInexact,
	"append_only":      fra.ModeAppendOnly,
	"remove":           fra.ModeRemove,
}

var comparators = map[string]fra.Comparator{
	"":     fra.CompareNone,
	"none": fra.CompareNone,
	"eq":   fra.CompareEqual,
	"lt":   fra.CompareLess,
	"gt":   fra.CompareGreater,
}

// Entry builds the fra.Entry this directory spec describes.
func (d *DirectorySpec) Entry() (*fra.Entry, error) {
	mode, ok := stupidModes[d.StupidMode]
	if !ok {
		return nil, fmt.Errorf("afdconf: directory %q: unknown stupid_mode %q", d.Alias, d.StupidMode)
	}
	sizeOp, ok := comparators[d.IgnoreSizeOp]
	if !ok {
		return nil, fmt.Errorf("afdconf: directory %q: unknown ignore_size_op %q", d.Alias, d.IgnoreSizeOp)
	}
	timeOp, ok := comparators[d.IgnoreFileTimeOp]
	if !ok {
		return nil, fmt.Errorf("afdconf: directory %q: unknown ignore_file_time_op %q", d.Alias, d.IgnoreFileTimeOp)
	}

	var flag fra.DirFlag
	if d.AcceptDotFiles {
		flag |= fra.FlagAcceptDotFiles
	}
	if d.DeleteUnknown {
		flag |= fra.FlagDeleteUnknownFiles
	}
	if d.DeleteOldLocked {
		flag |= fra.FlagDeleteOldLockedFiles
	}
	if d.DistributedHelper {
		flag |= fra.FlagDistributedHelperJob
	}

	return &fra.Entry{
		DirAlias:          d.Alias,
		URL:               d.URL,
		StagingPath:       d.StagingPath,
		MaxCopiedFiles:    d.MaxCopiedFiles,
		MaxCopiedFileSize: d.MaxCopiedFileSize,
		StupidMode:        mode,
		Remove:            d.Remove,
		IgnoreSize:        d.IgnoreSize,
		IgnoreSizeOp:      sizeOp,
		IgnoreFileTime:    d.IgnoreFileTime,
		IgnoreFileTimeOp:  timeOp,
		DirFlag:           flag,
		MaxErrors:         d.MaxErrors,
		LockedFileTime:    d.LockedFileTime,
		UnknownFileTime:   d.UnknownFileTime,
		KeepConnected:     time.Duration(d.KeepConnected) * time.Second,
	}, nil
}

// FilterGroup compiles this directory's filter_rules lines.
func (d *DirectorySpec) FilterGroup() (filter.Group, error) {
	g, err := filter.ParseGroup(d.FilterRules)
	if err != nil {
		return filter.Group{}, fmt.Errorf("afdconf: directory %q: %w", d.Alias, err)
	}
	return g, nil
}

// ParsedURL decodes this directory's recipient URL.
func (d *DirectorySpec) ParsedURL() (*urlcfg.URL, error) {
	u, err := urlcfg.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("afdconf: directory %q: %w", d.Alias, err)
	}
	return u, nil
}

// Entry builds the fsa.Entry this host spec describes. active_transfers
// starts at zero; trl_per_process is left to be derived by the table's
// own accounting as transfers are acquired (spec §3's
// "transfer_rate_limit / max(1, active_transfers)" derivation, applied
// at acquire-time rather than at load-time since active_transfers isn't
// known yet).
func (h *HostSpec) Entry() (*fsa.Entry, error) {
	return &fsa.Entry{
		HostAlias:         h.Alias,
		RealHostname:      [2]string{h.RealHostname0, h.RealHostname1},
		HostToggle:        fsa.HostToggle1,
		AllowedTransfers:  h.AllowedTransfers,
		TransferRateLimit: h.TransferRateLimit,
		TransferTimeout:   h.TransferTimeout,
		BlockSize:         h.BlockSize,
	}, nil
}
