package analysis

import (
	"fmt"
	"sort"

	"github.com/nitis/hapstat/internal/types"
)

// ErrUnknownCommand is wrapped by Registry.Create for unregistered names.
var ErrUnknownCommand = fmt.Errorf("unknown command")

// Registry maps command names to aggregator factories. Built once at
// startup and handed to the engine; there is no package-level state.
type Registry struct {
	factories map[string]func() Aggregator
}

// NewRegistry returns a registry preloaded with the built-in commands.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Aggregator)}

	r.Register("counter", func() Aggregator { return &counter{} })
	r.Register("http_methods", func() Aggregator { return newMapCounter("http_methods", methodKey) })
	r.Register("status_codes", func() Aggregator { return newMapCounter("status_codes", statusKey) })
	r.Register("status_classes", func() Aggregator { return newMapCounter("status_classes", statusClassKey) })
	r.Register("ip_counter", func() Aggregator { return newMapCounter("ip_counter", ipKey) })
	r.Register("request_path_counter", func() Aggregator { return newMapCounter("request_path_counter", pathKey) })
	r.Register("server_load", func() Aggregator { return newMapCounter("server_load", serverKey) })
	r.Register("connection_type", func() Aggregator { return newMapCounter("connection_type", connectionTypeKey) })
	r.Register("top_ips", func() Aggregator {
		return &topCounter{mapCounter: newMapCounter("top_ips", ipKey), limit: topN}
	})
	r.Register("top_request_paths", func() Aggregator {
		return &topCounter{mapCounter: newMapCounter("top_request_paths", pathKey), limit: topN}
	})
	r.Register("slow_requests", func() Aggregator { return &slowRequests{} })
	r.Register("average_response_time", func() Aggregator {
		return &averageTimer{name: "average_response_time", pick: func(rec *types.Record) types.NullDuration {
			return rec.Timers.Response
		}}
	})
	r.Register("average_waiting_time", func() Aggregator {
		return &averageTimer{name: "average_waiting_time", pick: func(rec *types.Record) types.NullDuration {
			return rec.Timers.Queue
		}}
	})
	r.Register("bytes_transferred", func() Aggregator { return &bytesTransferred{} })
	r.Register("queue_peaks", func() Aggregator { return &queuePeaks{} })
	r.Register("requests_per_minute", func() Aggregator { return &requestsPerMinute{} })

	return r
}

// Register adds a factory under a name, replacing any previous one.
func (r *Registry) Register(name string, factory func() Aggregator) {
	r.factories[name] = factory
}

// Create builds a fresh aggregator for the named command.
func (r *Registry) Create(name string) (Aggregator, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return factory(), nil
}

// Names lists the registered commands, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
