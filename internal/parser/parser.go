package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nitis/hapstat/internal/types"
)

// Default HAProxy HTTP log format, with an optional syslog prefix:
//
//	Feb  6 12:14:14 localhost haproxy[14389]: 10.0.1.2:33313 [06/Feb/2009:12:14:14.655] http-in static/srv1 10/0/30/69/109 200 2750 - - ---- 1/1/1/1/0 0/0 "GET /index.html HTTP/1.1"
//
// The quoted request is absent on TCP-mode lines. Captured header blocks
// between the queue section and the request are skipped.
var lineRegex = regexp.MustCompile(
	`^(?:\S{3} +\d{1,2} +\d{2}:\d{2}:\d{2} +\S+ +\S+\[\d+\]: +)?` +
		`(?P<ip>\S+):(?P<port>\d+) +` +
		`\[(?P<date>[^\]]+)\] +` +
		`(?P<frontend>\S+) +` +
		`(?P<backend>[^ /]+)/(?P<server>[^ ]+) +` +
		`(?P<timers>\S+) +` +
		`(?P<status>\S+) +` +
		`(?P<bytes>\S+) +` +
		`\S+ +\S+ +` + // captured cookies
		`(?P<term>\S+) +` +
		`(?P<conns>\S+) +` +
		`(?P<queues>\S+)` +
		`(?: +(?:\{[^}]*\} +)*(?P<quoted>"(?P<request>.*)"))? *$`)

var requestRegex = regexp.MustCompile(`^([A-Z]+) +(\S+) +(\S+/\S+)$`)

var dateLayouts = []string{
	"02/Jan/2006:15:04:05.000",
	"02/Jan/2006:15:04:05",
}

var groupIndex = buildGroupIndex()

func buildGroupIndex() map[string]int {
	idx := make(map[string]int)
	for i, name := range lineRegex.SubexpNames() {
		if name != "" {
			idx[name] = i
		}
	}
	return idx
}

// Parser turns raw HAProxy log lines into Records. It is stateless and
// safe for concurrent use.
type Parser struct{}

// New creates a Parser.
func New() *Parser { return &Parser{} }

// Parse parses one raw line. A line that does not match the grammar, or
// matches but carries an unparsable number or timestamp, yields a
// ParseFailure; the two cases carry distinct reasons. Exactly one of the
// two return values is non-nil.
func (p *Parser) Parse(line string) (*types.Record, *types.ParseFailure) {
	match := lineRegex.FindStringSubmatch(line)
	if match == nil {
		return nil, &types.ParseFailure{Raw: line, Reason: types.ReasonStructure}
	}
	group := func(name string) string { return match[groupIndex[name]] }

	structural := &types.ParseFailure{Raw: line, Reason: types.ReasonStructure}
	badValue := &types.ParseFailure{Raw: line, Reason: types.ReasonValue}

	accepted, err := parseAcceptDate(group("date"))
	if err != nil {
		return nil, badValue
	}

	port, err := strconv.Atoi(group("port"))
	if err != nil {
		return nil, badValue
	}

	timers, failure := parseTimers(group("timers"), structural, badValue)
	if failure != nil {
		return nil, failure
	}

	status, err := parseNullInt(group("status"))
	if err != nil {
		return nil, badValue
	}

	bytesRead, err := strconv.ParseInt(strings.TrimPrefix(group("bytes"), "+"), 10, 64)
	if err != nil || bytesRead < 0 {
		return nil, badValue
	}

	conns, failure := parseConns(group("conns"), structural, badValue)
	if failure != nil {
		return nil, failure
	}

	queues, failure := parseQueues(group("queues"), structural, badValue)
	if failure != nil {
		return nil, failure
	}

	// Only a line with no quoted segment at all is a TCP record; an
	// empty or mangled quoted request (e.g. <BADREQ>) is structural.
	var request *types.HTTPRequest
	if group("quoted") != "" {
		sub := requestRegex.FindStringSubmatch(group("request"))
		if sub == nil {
			return nil, structural
		}
		request = &types.HTTPRequest{Method: sub[1], Path: sub[2], Protocol: sub[3]}
	}

	return &types.Record{
		Time:             accepted,
		ClientIP:         group("ip"),
		ClientPort:       port,
		Frontend:         group("frontend"),
		Backend:          group("backend"),
		Server:           group("server"),
		Timers:           timers,
		Status:           status,
		BytesRead:        bytesRead,
		TerminationState: group("term"),
		Conns:            conns,
		Queues:           queues,
		Request:          request,
		Raw:              line,
	}, nil
}

func parseAcceptDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Truncate(time.Second), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseNullInt reads an integer that uses -1 as "not applicable".
func parseNullInt(s string) (types.NullInt, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return types.NullInt{}, err
	}
	if n == -1 {
		return types.NullInt{}, nil
	}
	return types.NullInt{Int: n, Valid: true}, nil
}

// parseTimerField reads one timer in milliseconds. -1 means the timer
// never applied; Tt may carry a '+' prefix when the line was logged
// before session end.
func parseTimerField(s string) (types.NullDuration, error) {
	ms, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
	if err != nil {
		return types.NullDuration{}, err
	}
	if ms == -1 {
		return types.NullDuration{}, nil
	}
	if ms < 0 {
		return types.NullDuration{}, strconv.ErrRange
	}
	return types.Millis(ms), nil
}

func parseTimers(s string, structural, badValue *types.ParseFailure) (types.Timers, *types.ParseFailure) {
	fields := strings.Split(s, "/")
	if len(fields) != 5 {
		return types.Timers{}, structural
	}
	var parsed [5]types.NullDuration
	for i, f := range fields {
		d, err := parseTimerField(f)
		if err != nil {
			return types.Timers{}, badValue
		}
		parsed[i] = d
	}
	return types.Timers{
		Request:  parsed[0],
		Queue:    parsed[1],
		Connect:  parsed[2],
		Response: parsed[3],
		Total:    parsed[4],
	}, nil
}

func parseConns(s string, structural, badValue *types.ParseFailure) (types.ConnCounts, *types.ParseFailure) {
	fields := strings.Split(s, "/")
	if len(fields) != 5 {
		return types.ConnCounts{}, structural
	}
	var parsed [5]int
	for i, f := range fields {
		// The retry count carries a '+' when the connection was
		// redispatched to another server.
		n, err := strconv.Atoi(strings.TrimPrefix(f, "+"))
		if err != nil || n < 0 {
			return types.ConnCounts{}, badValue
		}
		parsed[i] = n
	}
	return types.ConnCounts{
		Active:   parsed[0],
		Frontend: parsed[1],
		Backend:  parsed[2],
		Server:   parsed[3],
		Retries:  parsed[4],
	}, nil
}

func parseQueues(s string, structural, badValue *types.ParseFailure) (types.Queues, *types.ParseFailure) {
	fields := strings.Split(s, "/")
	if len(fields) != 2 {
		return types.Queues{}, structural
	}
	srv, err := strconv.Atoi(fields[0])
	if err != nil || srv < 0 {
		return types.Queues{}, badValue
	}
	backend, err := strconv.Atoi(fields[1])
	if err != nil || backend < 0 {
		return types.Queues{}, badValue
	}
	return types.Queues{Server: srv, Backend: backend}, nil
}
