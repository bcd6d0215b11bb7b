package filter

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/nitis/hapstat/internal/types"
)

// Filter selects a subset of records by one criterion.
type Filter interface {
	Name() string
	Match(rec *types.Record) bool
}

// Factory builds a filter from its raw string argument. Factories
// validate the argument eagerly so a bad activation fails before any
// line is scanned.
type Factory func(arg string) (Filter, error)

// Chain is the logical AND of its filters.
type Chain []Filter

// Match reports whether rec satisfies every filter in the chain.
func (c Chain) Match(rec *types.Record) bool {
	for _, f := range c {
		if !f.Match(rec) {
			return false
		}
	}
	return true
}

// ErrUnknown is wrapped by Registry.Create for unregistered names.
var ErrUnknown = fmt.Errorf("unknown filter")

// Registry maps filter names to factories. Built once at startup and
// passed by reference; there is no package-level registration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("ip", ipFilter)
	r.Register("ip_range", ipRangeFilter)
	r.Register("path", pathFilter)
	r.Register("ssl", sslFilter)
	r.Register("frontend", nameFilter("frontend", func(rec *types.Record) string { return rec.Frontend }))
	r.Register("backend", nameFilter("backend", func(rec *types.Record) string { return rec.Backend }))
	r.Register("server", nameFilter("server", func(rec *types.Record) string { return rec.Server }))
	r.Register("status_code", statusCodeFilter)
	r.Register("status_code_family", statusFamilyFilter)
	r.Register("http_method", methodFilter)
	r.Register("response_size", responseSizeFilter)
	r.Register("slow_requests", slowRequestsFilter)
	r.Register("wait_on_queues", waitOnQueuesFilter)
	return r
}

// Register adds a factory under a name, replacing any previous one.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Create builds the named filter from its argument.
func (r *Registry) Create(name, arg string) (Filter, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return factory(arg)
}

// Names lists the registered filters, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// funcFilter adapts a predicate closure to the Filter interface.
type funcFilter struct {
	name  string
	match func(*types.Record) bool
}

func (f funcFilter) Name() string                 { return f.name }
func (f funcFilter) Match(rec *types.Record) bool { return f.match(rec) }

func ipFilter(arg string) (Filter, error) {
	if net.ParseIP(arg) == nil {
		return nil, fmt.Errorf("filter ip: %q is not a valid address", arg)
	}
	return funcFilter{name: "ip", match: func(rec *types.Record) bool {
		return rec.ClientIP == arg
	}}, nil
}

func ipRangeFilter(arg string) (Filter, error) {
	_, cidr, err := net.ParseCIDR(arg)
	if err != nil {
		return nil, fmt.Errorf("filter ip_range: %w", err)
	}
	return funcFilter{name: "ip_range", match: func(rec *types.Record) bool {
		ip := net.ParseIP(rec.ClientIP)
		return ip != nil && cidr.Contains(ip)
	}}, nil
}

func pathFilter(arg string) (Filter, error) {
	if arg == "" {
		return nil, fmt.Errorf("filter path: argument required")
	}
	return funcFilter{name: "path", match: func(rec *types.Record) bool {
		return rec.Request != nil && strings.Contains(rec.Request.Path, arg)
	}}, nil
}

func sslFilter(arg string) (Filter, error) {
	if arg != "" {
		return nil, fmt.Errorf("filter ssl: takes no argument")
	}
	return funcFilter{name: "ssl", match: func(rec *types.Record) bool {
		return rec.IsSSL()
	}}, nil
}

func nameFilter(name string, pick func(*types.Record) string) Factory {
	return func(arg string) (Filter, error) {
		if arg == "" {
			return nil, fmt.Errorf("filter %s: argument required", name)
		}
		return funcFilter{name: name, match: func(rec *types.Record) bool {
			return pick(rec) == arg
		}}, nil
	}
}

func statusCodeFilter(arg string) (Filter, error) {
	code, err := strconv.Atoi(arg)
	if err != nil || code < 100 || code > 599 {
		return nil, fmt.Errorf("filter status_code: %q is not an HTTP status", arg)
	}
	return funcFilter{name: "status_code", match: func(rec *types.Record) bool {
		return rec.Status.Valid && rec.Status.Int == code
	}}, nil
}

func statusFamilyFilter(arg string) (Filter, error) {
	family, err := strconv.Atoi(arg)
	if err != nil || family < 1 || family > 5 {
		return nil, fmt.Errorf("filter status_code_family: %q is not in 1..5", arg)
	}
	return funcFilter{name: "status_code_family", match: func(rec *types.Record) bool {
		return rec.Status.Valid && rec.Status.Int/100 == family
	}}, nil
}

func methodFilter(arg string) (Filter, error) {
	if arg == "" {
		return nil, fmt.Errorf("filter http_method: argument required")
	}
	method := strings.ToUpper(arg)
	return funcFilter{name: "http_method", match: func(rec *types.Record) bool {
		return rec.Request != nil && rec.Request.Method == method
	}}, nil
}

func responseSizeFilter(arg string) (Filter, error) {
	size, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("filter response_size: %q is not a byte count", arg)
	}
	return funcFilter{name: "response_size", match: func(rec *types.Record) bool {
		return rec.BytesRead >= size
	}}, nil
}

func slowRequestsFilter(arg string) (Filter, error) {
	ms, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || ms < 0 {
		return nil, fmt.Errorf("filter slow_requests: %q is not a millisecond threshold", arg)
	}
	threshold := types.Millis(ms)
	return funcFilter{name: "slow_requests", match: func(rec *types.Record) bool {
		return rec.Timers.Response.Valid && rec.Timers.Response.Duration > threshold.Duration
	}}, nil
}

func waitOnQueuesFilter(arg string) (Filter, error) {
	ms, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || ms < 0 {
		return nil, fmt.Errorf("filter wait_on_queues: %q is not a millisecond threshold", arg)
	}
	threshold := types.Millis(ms)
	return funcFilter{name: "wait_on_queues", match: func(rec *types.Record) bool {
		return rec.Timers.Queue.Valid && rec.Timers.Queue.Duration > threshold.Duration
	}}, nil
}
