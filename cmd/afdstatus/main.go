// Command afdstatus is a read-only inspector over the shared FRA/FSA
// tables and a directory's retrieve list: it stands in for the
// widget-toolkit status dashboards this system excludes, rendering the
// same information as plain text (and, via "serve-metrics", as
// Prometheus gauges/counters for the collaborator tables spec §1 names
// as external consumers).
package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/afdcore/afd/fra"
	"github.com/afdcore/afd/fsa"
	"github.com/afdcore/afd/metrics"
	"github.com/afdcore/afd/retrlist"
)

var version = "dev"

func main() {
	var fraPath, fsaPath, retrlistPath, metricsAddr string

	root := &cobra.Command{
		Use:     "afdstatus",
		Short:   "Inspect the shared FRA/FSA tables and a directory's retrieve list",
		Version: version,
	}
	root.PersistentFlags().StringVar(&fraPath, "fra", "", "path to the FRA table file")
	root.PersistentFlags().StringVar(&fsaPath, "fsa", "", "path to the FSA table file")

	dirsCmd := &cobra.Command{
		Use:   "directories",
		Short: "Print every FRA entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printDirectories(fraPath)
		},
	}

	hostsCmd := &cobra.Command{
		Use:   "hosts",
		Short: "Print every FSA entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printHosts(fsaPath)
		},
	}

	listCmd := &cobra.Command{
		Use:   "retrieve-list <path>",
		Short: "Print one directory's retrieve-list entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retrlistPath = args[0]
			return printRetrieveList(retrlistPath)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics scraped from the FRA/FSA tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMetrics(fraPath, fsaPath, metricsAddr)
		},
	}
	serveCmd.Flags().StringVar(&metricsAddr, "addr", ":9136", "listen address for the /metrics endpoint")

	root.AddCommand(dirsCmd, hostsCmd, listCmd, serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printDirectories(path string) error {
	if path == "" {
		return fmt.Errorf("afdstatus: --fra is required")
	}
	tbl, err := fra.Open(path, existingCapacity(path, fra.HeaderSize, fra.EntrySize))
	if err != nil {
		return fmt.Errorf("afdstatus: open fra: %w", err)
	}
	defer tbl.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "IDX\tALIAS\tMODE\tREMOVE\tERRORS\tFLAGS\tLAST_RETRIEVAL")
	for i := 0; i < tbl.Count(); i++ {
		e, err := tbl.Entry(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d/%d\t0x%x\t%s\n",
			i, e.DirAlias, stupidModeName(e.StupidMode), e.Remove, e.ErrorCounter, e.MaxErrors, uint32(e.DirFlag), formatUnixOrNever(e.LastRetrieval))
	}
	return w.Flush()
}

func printHosts(path string) error {
	if path == "" {
		return fmt.Errorf("afdstatus: --fsa is required")
	}
	tbl, err := fsa.Open(path, existingCapacity(path, fsa.HeaderSize, fsa.EntrySize))
	if err != nil {
		return fmt.Errorf("afdstatus: open fsa: %w", err)
	}
	defer tbl.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "IDX\tALIAS\tACTIVE/ALLOWED\tRATE_LIMIT\tERRORS\tSTATUS\tFILES\tBYTES")
	for i := 0; i < tbl.Count(); i++ {
		e, err := tbl.Entry(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d/%d\t%d\t%d\t0x%x\t%d\t%d\n",
			i, e.HostAlias, e.ActiveTransfers, e.AllowedTransfers, e.TransferRateLimit,
			e.ErrorCounter, uint32(e.HostStatus), e.TotalFileCounter, e.TotalFileSize)
	}
	return w.Flush()
}

func printRetrieveList(path string) error {
	store, err := retrlist.Attach(path, retrlist.ModeRequired)
	if err != nil {
		return fmt.Errorf("afdstatus: attach retrieve list: %w", err)
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "IDX\tNAME\tSIZE\tIN_LIST\tRETRIEVED\tWORKER")
	for i := 0; i < store.Count(); i++ {
		e, err := store.Entry(i)
		if err != nil {
			continue
		}
		worker := "-"
		if id, ok := e.WorkerID(); ok {
			worker = fmt.Sprintf("%d", id)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%t\t%s\n", i, e.FileName, e.Size, e.InList, e.Retrieved, worker)
	}
	return w.Flush()
}

func serveMetrics(fraPath, fsaPath, addr string) error {
	var fraTbl *fra.Table
	var fsaTbl *fsa.Table

	if fraPath != "" {
		tbl, err := fra.Open(fraPath, existingCapacity(fraPath, fra.HeaderSize, fra.EntrySize))
		if err != nil {
			return fmt.Errorf("afdstatus: open fra: %w", err)
		}
		defer tbl.Close()
		fraTbl = tbl
	}
	if fsaPath != "" {
		tbl, err := fsa.Open(fsaPath, existingCapacity(fsaPath, fsa.HeaderSize, fsa.EntrySize))
		if err != nil {
			return fmt.Errorf("afdstatus: open fsa: %w", err)
		}
		defer tbl.Close()
		fsaTbl = tbl
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.New(fraTbl, fsaTbl))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	fmt.Fprintf(os.Stdout, "afdstatus: serving /metrics on %s\n", addr)
	return server.ListenAndServe()
}

func stupidModeName(m fra.StupidMode) string {
	switch m {
	case fra.ModeNone:
		return "none"
	case fra.ModeGetOnceExact:
		return "get_once_exact"
	case fra.ModeGetOnceInexact:
		return "get_once_inexact"
	case fra.ModeAppendOnly:
		return "append_only"
	case fra.ModeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// existingCapacity sizes a read-only Open call to the entry count the
// table's backing file already holds, so inspecting a table never
// truncates the view down to an empty header the way passing capacity 0
// against an already-populated file would (fra/fsa's growFile only
// grows, so the mmap size given at Open must cover what's really there).
func existingCapacity(path string, headerSize, entrySize int) int {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	remaining := info.Size() - int64(headerSize)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / int64(entrySize))
}

func formatUnixOrNever(sec int64) string {
	if sec <= 0 {
		return "never"
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
