// Package metrics exposes the shared FRA/FSA tables' counters as
// prometheus gauges, for the directory-status/file-transfer-status
// external consumers named alongside the retrieve-list and counter
// tables. It does not maintain its own state: every Collect call rereads
// the tables directly, so the exposed values are always as fresh as the
// underlying shared memory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
)

// Collector implements prometheus.Collector over a pair of attached
// FRA/FSA tables. It is safe to register once per process and scrape
// repeatedly; each Collect call walks both tables' current entry count.
type Collector struct {
	fraTbl *fra.Table
	fsaTbl *fsa.Table

	dirErrorCounter  *prometheus.Desc
	dirDisabledGauge *prometheus.Desc

	hostActiveTransfers  *prometheus.Desc
	hostAllowedTransfers *prometheus.Desc
	hostErrorCounter     *prometheus.Desc
	hostFilesTransferred *prometheus.Desc
	hostBytesTransferred *prometheus.Desc
}

// New builds a Collector over the given tables. Either table may be nil
// if this process only ever attaches one of the two (e.g. a directory-
// only inspector tool); a nil table simply contributes no series.
func New(fraTbl *fra.Table, fsaTbl *fsa.Table) *Collector {
	return &Collector{
		fraTbl: fraTbl,
		fsaTbl: fsaTbl,

		dirErrorCounter: prometheus.NewDesc(
			"afd_directory_error_counter",
			"Consecutive remote-listing/probe error count for a directory.",
			[]string{"dir_alias"}, nil,
		),
		dirDisabledGauge: prometheus.NewDesc(
			"afd_directory_all_disabled",
			"1 when a directory's ALL_DISABLED flag is set, else 0.",
			[]string{"dir_alias"}, nil,
		),
		hostActiveTransfers: prometheus.NewDesc(
			"afd_host_active_transfers",
			"Current in-flight transfer count for a remote host.",
			[]string{"host_alias"}, nil,
		),
		hostAllowedTransfers: prometheus.NewDesc(
			"afd_host_allowed_transfers",
			"Configured concurrent-transfer ceiling for a remote host.",
			[]string{"host_alias"}, nil,
		),
		hostErrorCounter: prometheus.NewDesc(
			"afd_host_error_counter",
			"Consecutive transfer-error count for a remote host.",
			[]string{"host_alias"}, nil,
		),
		hostFilesTransferred: prometheus.NewDesc(
			"afd_host_files_transferred_total",
			"Cumulative file count successfully retrieved from a remote host.",
			[]string{"host_alias"}, nil,
		),
		hostBytesTransferred: prometheus.NewDesc(
			"afd_host_bytes_transferred_total",
			"Cumulative byte count successfully retrieved from a remote host.",
			[]string{"host_alias"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dirErrorCounter
	ch <- c.dirDisabledGauge
	ch <- c.hostActiveTransfers
	ch <- c.hostAllowedTransfers
	ch <- c.hostErrorCounter
	ch <- c.hostFilesTransferred
	ch <- c.hostBytesTransferred
}

// Collect implements prometheus.Collector, rereading both tables.
// Per-entry errors are skipped rather than surfaced: a torn read of one
// slot (racing a concurrent writer) should not fail the whole scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.fraTbl != nil {
		for i := 0; i < c.fraTbl.Count(); i++ {
			e, err := c.fraTbl.Entry(i)
			if err != nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.dirErrorCounter, prometheus.GaugeValue, float64(e.ErrorCounter), e.DirAlias)
			disabled := 0.0
			if e.DirFlag&fra.FlagAllDisabled != 0 {
				disabled = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.dirDisabledGauge, prometheus.GaugeValue, disabled, e.DirAlias)
		}
	}

	if c.fsaTbl != nil {
		for i := 0; i < c.fsaTbl.Count(); i++ {
			e, err := c.fsaTbl.Entry(i)
			if err != nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.hostActiveTransfers, prometheus.GaugeValue, float64(e.ActiveTransfers), e.HostAlias)
			ch <- prometheus.MustNewConstMetric(c.hostAllowedTransfers, prometheus.GaugeValue, float64(e.AllowedTransfers), e.HostAlias)
			ch <- prometheus.MustNewConstMetric(c.hostErrorCounter, prometheus.GaugeValue, float64(e.ErrorCounter), e.HostAlias)
			ch <- prometheus.MustNewConstMetric(c.hostFilesTransferred, prometheus.CounterValue, float64(e.TotalFileCounter), e.HostAlias)
			ch <- prometheus.MustNewConstMetric(c.hostBytesTransferred, prometheus.CounterValue, float64(e.TotalFileSize), e.HostAlias)
		}
	}
}
