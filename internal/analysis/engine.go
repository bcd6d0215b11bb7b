package analysis

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitis/hapstat/internal/filter"
	"github.com/nitis/hapstat/internal/parser"
	"github.com/nitis/hapstat/internal/source"
	"github.com/nitis/hapstat/internal/types"
)

// ConfigError marks a request rejected before any file access: unknown
// command or filter, invalid filter argument, delta without start.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ResourceError marks a request that failed on the input file itself.
type ResourceError struct {
	Err error
}

func (e *ResourceError) Error() string { return "resource: " + e.Err.Error() }
func (e *ResourceError) Unwrap() error { return e.Err }

// FilterSpec names one filter activation and its argument.
type FilterSpec struct {
	Name string
	Arg  string
}

// Request is one analysis invocation over one log file. A nil Delta
// means no upper bound; a zero Delta is the empty window.
type Request struct {
	LogPath  string
	Commands []string
	Start    *time.Time
	Delta    *time.Duration
	Filters  []FilterSpec
}

// Result carries one report per requested command, in request order,
// plus the scan diagnostics.
type Result struct {
	Reports     []types.Report
	Diagnostics types.Diagnostics
}

// Engine wires the log source to the requested commands. Commands run
// as a fan-out over one shared traversal: every aggregator observes the
// same record sequence it would see running alone, so batched and
// standalone runs produce identical reports.
type Engine struct {
	commands *Registry
	filters  *filter.Registry
	log      zerolog.Logger
}

// NewEngine creates an engine over the given registries.
func NewEngine(commands *Registry, filters *filter.Registry, log zerolog.Logger) *Engine {
	return &Engine{commands: commands, filters: filters, log: log}
}

// Run validates the request, scans the file once and returns the
// reports. Validation failures surface before the file is opened, and
// no partial result is ever returned alongside an error.
func (e *Engine) Run(req Request) (*Result, error) {
	aggregators, chain, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(req.LogPath)
	if err != nil {
		return nil, &ResourceError{Err: err}
	}
	defer f.Close()

	window := filter.Window{Start: req.Start, Delta: req.Delta}
	src := source.New(f, parser.New(), window, chain)

	start := time.Now()
	for {
		rec, ok := src.Next()
		if !ok {
			break
		}
		for _, agg := range aggregators {
			agg.Observe(rec)
		}
	}
	if err := src.Err(); err != nil {
		return nil, &ResourceError{Err: fmt.Errorf("reading %s: %w", req.LogPath, err)}
	}

	e.log.Debug().
		Int("valid", src.Valid()).
		Int("malformed", src.Malformed()).
		Int("filtered_out", src.FilteredOut()).
		Dur("elapsed", time.Since(start)).
		Str("log", req.LogPath).
		Msg("scan complete")

	result := &Result{
		Diagnostics: types.Diagnostics{
			Valid:       src.Valid(),
			Malformed:   src.Malformed(),
			FilteredOut: src.FilteredOut(),
			Start:       req.Start,
			Delta:       req.Delta,
		},
	}
	for _, agg := range aggregators {
		result.Reports = append(result.Reports, agg.Report())
	}
	return result, nil
}

// prepare builds every aggregator and filter up front so configuration
// problems abort the request before any file I/O.
func (e *Engine) prepare(req Request) ([]Aggregator, filter.Chain, error) {
	if len(req.Commands) == 0 {
		return nil, nil, &ConfigError{Err: fmt.Errorf("no commands requested")}
	}
	if req.Delta != nil && req.Start == nil {
		return nil, nil, &ConfigError{Err: fmt.Errorf("delta requires a start time")}
	}
	if req.Delta != nil && *req.Delta < 0 {
		return nil, nil, &ConfigError{Err: fmt.Errorf("delta must not be negative")}
	}

	aggregators := make([]Aggregator, 0, len(req.Commands))
	for _, name := range req.Commands {
		agg, err := e.commands.Create(name)
		if err != nil {
			return nil, nil, &ConfigError{Err: err}
		}
		aggregators = append(aggregators, agg)
	}

	chain := make(filter.Chain, 0, len(req.Filters))
	for _, spec := range req.Filters {
		f, err := e.filters.Create(spec.Name, spec.Arg)
		if err != nil {
			return nil, nil, &ConfigError{Err: err}
		}
		chain = append(chain, f)
	}
	return aggregators, chain, nil
}
