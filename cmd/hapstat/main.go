package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nitis/hapstat/internal/analysis"
	"github.com/nitis/hapstat/internal/config"
	"github.com/nitis/hapstat/internal/filter"
	"github.com/nitis/hapstat/internal/logging"
	"github.com/nitis/hapstat/internal/types"
)

var (
	logPath    string
	commands   []string
	startArg   string
	deltaArg   string
	filterArgs []string
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hapstat",
	Short: "Hapstat analyzes HAProxy access logs.",
	Long: `Hapstat reads an HAProxy access log in one pass and runs a set of
report commands (traffic counters, status code breakdowns, slow request
detection) over the lines selected by a time window and filters.`,
	SilenceUsage: true,
	RunE:         runAnalyze,
}

var listCommandsCmd = &cobra.Command{
	Use:   "list-commands",
	Short: "List the available report commands",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range analysis.NewRegistry().Names() {
			fmt.Println(name)
		}
	},
}

var listFiltersCmd = &cobra.Command{
	Use:   "list-filters",
	Short: "List the available filters",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range filter.NewRegistry().Names() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&logPath, "log", "l", "", "HAProxy log file to analyze")
	rootCmd.Flags().StringSliceVarP(&commands, "commands", "c", nil, "report commands to run, in order")
	rootCmd.Flags().StringVarP(&startArg, "start", "s", "", "window start, e.g. 11/Dec/2013:13:14:15")
	rootCmd.Flags().StringVarP(&deltaArg, "delta", "d", "", "window span from start, e.g. 45s, 2m, 13h, 1d")
	rootCmd.Flags().StringArrayVarP(&filterArgs, "filter", "f", nil, "filter activation, name or name:argument (repeatable)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML request file; explicit flags win")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log scan diagnostics")
	rootCmd.AddCommand(listCommandsCmd)
	rootCmd.AddCommand(listFiltersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, verbose)
	engine := analysis.NewEngine(analysis.NewRegistry(), filter.NewRegistry(), logger)

	result, err := engine.Run(*req)
	if err != nil {
		return err
	}

	for _, report := range result.Reports {
		printReport(os.Stdout, report)
	}
	printDiagnostics(os.Stdout, result.Diagnostics)
	return nil
}

// buildRequest merges the config file under explicit flags and parses
// the window arguments. Everything here fails before any log file I/O.
func buildRequest(cmd *cobra.Command) (*analysis.Request, error) {
	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if !flags.Changed("log") && cfg.Log != "" {
		logPath = cfg.Log
	}
	if !flags.Changed("commands") && len(cfg.Commands) > 0 {
		commands = cfg.Commands
	}
	if !flags.Changed("start") && cfg.Start != "" {
		startArg = cfg.Start
	}
	if !flags.Changed("delta") && cfg.Delta != "" {
		deltaArg = cfg.Delta
	}
	if !flags.Changed("verbose") && cfg.Verbose {
		verbose = true
	}

	if logPath == "" {
		return nil, fmt.Errorf("a log file is required (--log or config)")
	}
	if len(commands) == 0 {
		return nil, fmt.Errorf("at least one command is required (--commands, see list-commands)")
	}

	req := &analysis.Request{LogPath: logPath, Commands: commands}
	if startArg != "" {
		start, err := filter.ParseStart(startArg)
		if err != nil {
			return nil, err
		}
		req.Start = &start
	}
	if deltaArg != "" {
		delta, err := filter.ParseDelta(deltaArg)
		if err != nil {
			return nil, err
		}
		req.Delta = &delta
	}

	for _, spec := range cfg.Filters {
		req.Filters = append(req.Filters, analysis.FilterSpec{Name: spec.Name, Arg: spec.Arg})
	}
	for _, raw := range filterArgs {
		name, arg, _ := strings.Cut(raw, ":")
		req.Filters = append(req.Filters, analysis.FilterSpec{Name: name, Arg: arg})
	}
	return req, nil
}

func printReport(w io.Writer, report types.Report) {
	fmt.Fprintf(w, "== %s ==\n", report.Command)
	switch {
	case report.Flagged != nil || report.Command == "slow_requests":
		printFlagged(w, report)
	case report.Series != nil || report.Command == "requests_per_minute":
		printSeries(w, report)
	case report.Command == "queue_peaks":
		printPeaks(w, report)
	case report.Counts != nil:
		printCounts(w, report.Counts)
	case report.Value != nil:
		printValue(w, report)
	default:
		fmt.Fprintln(w, "  (no data)")
	}
	fmt.Fprintln(w)
}

func printCounts(w io.Writer, counts map[string]int64) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "  (no data)")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
}

func printValue(w io.Writer, report types.Report) {
	switch report.Command {
	case "bytes_transferred":
		fmt.Fprintf(w, "  %s (%d bytes)\n", humanize.Bytes(uint64(*report.Value)), int64(*report.Value))
	case "counter":
		fmt.Fprintf(w, "  %d\n", int64(*report.Value))
	default:
		fmt.Fprintf(w, "  %.2f ms\n", *report.Value)
	}
}

func printFlagged(w io.Writer, report types.Report) {
	if len(report.Flagged) == 0 {
		fmt.Fprintln(w, "  (no slow requests)")
		return
	}
	for _, rec := range report.Flagged {
		request := "-"
		if rec.Request != nil {
			request = rec.Request.Method + " " + rec.Request.Path
		}
		fmt.Fprintf(w, "  %s  %6dms  %s/%s  %s\n",
			rec.Time.Format("02/Jan/2006:15:04:05"),
			rec.Timers.Response.Milliseconds(),
			rec.Backend, rec.Server, request)
	}
	if report.Value != nil {
		fmt.Fprintf(w, "  p95: %.0fms over %d flagged\n", *report.Value, len(report.Flagged))
	}
}

func printSeries(w io.Writer, report types.Report) {
	if len(report.Series) == 0 {
		fmt.Fprintln(w, "  (no data)")
		return
	}
	for _, point := range report.Series {
		fmt.Fprintf(w, "  %s  %d\n", point.Minute.Format("02/Jan/2006:15:04"), point.Count)
	}
	if report.Value != nil && *report.Value > 0 {
		fmt.Fprintf(w, "  smoothed rate: %.1f req/min\n", *report.Value)
	}
}

func printPeaks(w io.Writer, report types.Report) {
	if len(report.Peaks) == 0 {
		fmt.Fprintln(w, "  (queues stayed empty)")
		return
	}
	for _, peak := range report.Peaks {
		fmt.Fprintf(w, "  peak %d over %d requests, %s .. %s\n",
			peak.Peak, peak.Spans,
			peak.First.Format("02/Jan/2006:15:04:05"),
			peak.Last.Format("02/Jan/2006:15:04:05"))
	}
}

func printDiagnostics(w io.Writer, diag types.Diagnostics) {
	fmt.Fprintf(w, "valid: %d  filtered out: %d  malformed: %d\n",
		diag.Valid, diag.FilteredOut, diag.Malformed)
	if diag.Start != nil {
		window := "window: from " + diag.Start.Format("02/Jan/2006:15:04:05")
		if diag.Delta != nil {
			window += " for " + diag.Delta.String()
		}
		fmt.Fprintln(w, window)
	}
}
