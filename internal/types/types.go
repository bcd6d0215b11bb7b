package types

import (
	"strings"
	"time"
)

// NullDuration is a duration that may be absent. HAProxy logs -1 for a
// timer that never applied to the session (for example Tc when no server
// connection was attempted); those values parse as Valid=false and must
// stay out of sums and averages.
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// Millis builds a valid NullDuration from a millisecond count.
func Millis(ms int64) NullDuration {
	return NullDuration{Duration: time.Duration(ms) * time.Millisecond, Valid: true}
}

// Milliseconds returns the duration as whole milliseconds.
func (d NullDuration) Milliseconds() int64 {
	return d.Duration.Milliseconds()
}

// NullInt is an integer that may be absent. The status code is -1 when
// the connection was closed before HAProxy saw a response.
type NullInt struct {
	Int   int
	Valid bool
}

// HTTPRequest is the request line quoted at the end of an HTTP-mode log
// line. It is nil on a Record produced from a TCP-mode line.
type HTTPRequest struct {
	Method   string
	Path     string
	Protocol string
}

// Timers holds the five session timers of a log line, in log order.
type Timers struct {
	Request  NullDuration // Tq: waiting for a complete client request
	Queue    NullDuration // Tw: waiting in queues
	Connect  NullDuration // Tc: establishing the server connection
	Response NullDuration // Tr: waiting for the server response
	Total    NullDuration // Tt: total session duration
}

// ConnCounts are the connection counters at logging time.
type ConnCounts struct {
	Active   int
	Frontend int
	Backend  int
	Server   int
	Retries  int
}

// Queues are the queue depths at logging time.
type Queues struct {
	Server  int
	Backend int
}

// Record is the structured form of one successfully parsed log line.
// Records are only built from lines matching the full grammar; a partial
// match produces a ParseFailure instead.
type Record struct {
	Time             time.Time
	ClientIP         string
	ClientPort       int
	Frontend         string
	Backend          string
	Server           string
	Timers           Timers
	Status           NullInt
	BytesRead        int64
	TerminationState string
	Conns            ConnCounts
	Queues           Queues
	Request          *HTTPRequest
	Raw              string
}

// IsSSL reports whether the request was served on the HTTPS port, judged
// from the request path the way HAProxy logs it for SSL frontends.
func (r *Record) IsSSL() bool {
	if r.Request == nil {
		return false
	}
	return strings.Contains(r.Request.Path, ":443") ||
		strings.HasPrefix(r.Request.Path, "https://")
}

// FailureReason classifies why a line could not become a Record.
type FailureReason string

const (
	// ReasonStructure covers grammar mismatches: wrong field counts,
	// missing sections, a request segment that is not METHOD PATH PROTO.
	ReasonStructure FailureReason = "structure"
	// ReasonValue covers lines with the right shape but an unparsable
	// timestamp or number.
	ReasonValue FailureReason = "value"
)

// ParseFailure wraps a line that could not be parsed. It is data, not an
// error: failures are counted and the scan continues.
type ParseFailure struct {
	Raw    string
	Reason FailureReason
}

// RatePoint is one minute of traffic in a requests_per_minute report.
type RatePoint struct {
	Minute time.Time
	Count  int64
}

// QueuePeak describes a span of consecutive records during which the
// backend queue was non-empty.
type QueuePeak struct {
	Peak  int
	Spans int // records in the span
	First time.Time
	Last  time.Time
}

// Report is the result of one command over the selected records. Exactly
// one of the result fields is populated, depending on the command.
type Report struct {
	Command    string
	Considered int

	Counts  map[string]int64
	Value   *float64
	Flagged []*Record
	Series  []RatePoint
	Peaks   []QueuePeak
}

// Diagnostics summarizes one scan of the log file. Start and Delta are
// nil when the corresponding bound was not requested.
type Diagnostics struct {
	Valid       int
	Malformed   int
	FilteredOut int
	Start       *time.Time
	Delta       *time.Duration
}
