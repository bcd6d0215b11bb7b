package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nitis/hapstat/internal/types"
)

const httpLine = `Dec  9 13:01:26 localhost haproxy[28029]: 127.0.0.1:39759 ` +
	`[09/Dec/2013:12:59:46.633] loadbalancer default/instance8 ` +
	`0/51536/1/48082/99627 200 83285 - - ---- 87/87/87/1/0 0/67 ` +
	`"GET /path/to/image HTTP/1.1"`

func TestParseHTTPLine(t *testing.T) {
	rec, failure := New().Parse(httpLine)
	if failure != nil {
		t.Fatalf("Parse() failure = %+v, want record", failure)
	}

	want := time.Date(2013, time.December, 9, 12, 59, 46, 0, time.UTC)
	if !rec.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", rec.Time, want)
	}
	if rec.ClientIP != "127.0.0.1" || rec.ClientPort != 39759 {
		t.Errorf("client = %s:%d, want 127.0.0.1:39759", rec.ClientIP, rec.ClientPort)
	}
	if rec.Frontend != "loadbalancer" || rec.Backend != "default" || rec.Server != "instance8" {
		t.Errorf("proxy names = %s %s/%s", rec.Frontend, rec.Backend, rec.Server)
	}

	wantTimers := types.Timers{
		Request:  types.Millis(0),
		Queue:    types.Millis(51536),
		Connect:  types.Millis(1),
		Response: types.Millis(48082),
		Total:    types.Millis(99627),
	}
	if rec.Timers != wantTimers {
		t.Errorf("Timers = %+v, want %+v", rec.Timers, wantTimers)
	}

	if !rec.Status.Valid || rec.Status.Int != 200 {
		t.Errorf("Status = %+v, want 200", rec.Status)
	}
	if rec.BytesRead != 83285 {
		t.Errorf("BytesRead = %d, want 83285", rec.BytesRead)
	}
	if rec.TerminationState != "----" {
		t.Errorf("TerminationState = %q", rec.TerminationState)
	}

	wantConns := types.ConnCounts{Active: 87, Frontend: 87, Backend: 87, Server: 1, Retries: 0}
	if rec.Conns != wantConns {
		t.Errorf("Conns = %+v, want %+v", rec.Conns, wantConns)
	}
	if (rec.Queues != types.Queues{Server: 0, Backend: 67}) {
		t.Errorf("Queues = %+v, want 0/67", rec.Queues)
	}

	if rec.Request == nil {
		t.Fatal("Request = nil, want parsed request line")
	}
	if rec.Request.Method != "GET" || rec.Request.Path != "/path/to/image" || rec.Request.Protocol != "HTTP/1.1" {
		t.Errorf("Request = %+v", rec.Request)
	}
	if rec.Raw != httpLine {
		t.Errorf("Raw not retained")
	}
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name string
		line string
		check func(t *testing.T, rec *types.Record)
	}{
		{
			name: "no syslog prefix",
			line: `10.0.1.2:33313 [06/Feb/2009:12:14:14.655] http-in static/srv1 10/0/30/69/109 200 2750 - - ---- 1/1/1/1/0 0/0 "GET /index.html HTTP/1.1"`,
			check: func(t *testing.T, rec *types.Record) {
				if rec.Frontend != "http-in" {
					t.Errorf("Frontend = %q", rec.Frontend)
				}
			},
		},
		{
			name: "accept date without milliseconds",
			line: `10.0.1.2:33313 [06/Feb/2009:12:14:14] http-in static/srv1 10/0/30/69/109 200 2750 - - ---- 1/1/1/1/0 0/0 "GET /index.html HTTP/1.1"`,
			check: func(t *testing.T, rec *types.Record) {
				want := time.Date(2009, time.February, 6, 12, 14, 14, 0, time.UTC)
				if !rec.Time.Equal(want) {
					t.Errorf("Time = %v, want %v", rec.Time, want)
				}
			},
		},
		{
			name: "tcp mode line has no request",
			line: `Dec  9 13:01:26 localhost haproxy[28029]: 127.0.0.1:39759 [09/Dec/2013:12:59:46.633] tcp-in redis/cache1 0/0/1/-1/109 200 2750 - - ---- 1/1/1/1/0 0/0`,
			check: func(t *testing.T, rec *types.Record) {
				if rec.Request != nil {
					t.Errorf("Request = %+v, want nil", rec.Request)
				}
				if rec.Timers.Response.Valid {
					t.Errorf("Response timer valid, want sentinel")
				}
			},
		},
		{
			name: "aborted session sentinels",
			line: `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] loadbalancer default/<NOSRV> -1/-1/-1/-1/0 -1 0 - - CC-- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			check: func(t *testing.T, rec *types.Record) {
				if rec.Status.Valid {
					t.Errorf("Status = %+v, want sentinel", rec.Status)
				}
				if rec.Timers.Request.Valid || rec.Timers.Queue.Valid {
					t.Errorf("timers = %+v, want sentinels", rec.Timers)
				}
				if !rec.Timers.Total.Valid {
					t.Errorf("total timer should always parse")
				}
				if rec.Server != "<NOSRV>" {
					t.Errorf("Server = %q", rec.Server)
				}
			},
		},
		{
			name: "logged before session end",
			line: `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] loadbalancer default/instance8 0/0/1/12/+30 200 +2750 - - ---- 1/1/1/1/+1 0/0 "GET / HTTP/1.1"`,
			check: func(t *testing.T, rec *types.Record) {
				if rec.Timers.Total != types.Millis(30) {
					t.Errorf("Total = %+v", rec.Timers.Total)
				}
				if rec.BytesRead != 2750 {
					t.Errorf("BytesRead = %d", rec.BytesRead)
				}
				if rec.Conns.Retries != 1 {
					t.Errorf("Retries = %d", rec.Conns.Retries)
				}
			},
		},
		{
			name: "captured headers are skipped",
			line: `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] loadbalancer default/instance8 0/0/1/12/30 200 2750 - - ---- 1/1/1/1/0 0/0 {example.com} "GET / HTTP/1.1"`,
			check: func(t *testing.T, rec *types.Record) {
				if rec.Request == nil || rec.Request.Path != "/" {
					t.Errorf("Request = %+v", rec.Request)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, failure := New().Parse(tt.line)
			if failure != nil {
				t.Fatalf("Parse() failure = %+v, want record", failure)
			}
			tt.check(t, rec)
		})
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason types.FailureReason
	}{
		{
			name:   "empty line",
			line:   "",
			reason: types.ReasonStructure,
		},
		{
			name:   "free text",
			line:   "this is not an access log line",
			reason: types.ReasonStructure,
		},
		{
			name:   "missing queue section",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 200 2750 - - ---- 1/1/1/1/0 "GET / HTTP/1.1"`,
			reason: types.ReasonStructure,
		},
		{
			name:   "four timers instead of five",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12 200 2750 - - ---- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonStructure,
		},
		{
			name:   "six connection counters",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 200 2750 - - ---- 1/1/1/1/0/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonStructure,
		},
		{
			name:   "empty quoted request",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 400 187 - - CR-- 1/1/1/1/0 0/0 ""`,
			reason: types.ReasonStructure,
		},
		{
			name:   "bad request segment",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 400 187 - - CR-- 1/1/1/1/0 0/0 "<BADREQ>"`,
			reason: types.ReasonStructure,
		},
		{
			name:   "unparsable timestamp",
			line:   `127.0.0.1:39759 [not/a/date] lb default/i8 0/0/1/12/30 200 2750 - - ---- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonValue,
		},
		{
			name:   "non numeric timer",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/zero/1/12/30 200 2750 - - ---- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonValue,
		},
		{
			name:   "negative timer other than sentinel",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/-2/1/12/30 200 2750 - - ---- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonValue,
		},
		{
			name:   "non numeric status",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 OK 2750 - - ---- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonValue,
		},
		{
			name:   "non numeric bytes",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 200 83x85 - - ---- 1/1/1/1/0 0/0 "GET / HTTP/1.1"`,
			reason: types.ReasonValue,
		},
		{
			name:   "non numeric queue depth",
			line:   `127.0.0.1:39759 [09/Dec/2013:12:59:46.633] lb default/i8 0/0/1/12/30 200 2750 - - ---- 1/1/1/1/0 0/full "GET / HTTP/1.1"`,
			reason: types.ReasonValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, failure := New().Parse(tt.line)
			if rec != nil {
				t.Fatalf("Parse() = %+v, want failure", rec)
			}
			if failure == nil {
				t.Fatal("Parse() returned neither record nor failure")
			}
			if failure.Reason != tt.reason {
				t.Errorf("Reason = %s, want %s", failure.Reason, tt.reason)
			}
			if failure.Raw != tt.line {
				t.Errorf("Raw = %q, want original line", failure.Raw)
			}
		})
	}
}

// Re-serializing the numeric sections of a parsed record must reproduce
// the field values of the original line.
func TestParseRoundTrip(t *testing.T) {
	rec, failure := New().Parse(httpLine)
	if failure != nil {
		t.Fatalf("Parse() failure = %+v", failure)
	}

	timers := fmt.Sprintf("%d/%d/%d/%d/%d",
		rec.Timers.Request.Milliseconds(),
		rec.Timers.Queue.Milliseconds(),
		rec.Timers.Connect.Milliseconds(),
		rec.Timers.Response.Milliseconds(),
		rec.Timers.Total.Milliseconds())
	if !strings.Contains(httpLine, " "+timers+" ") {
		t.Errorf("timer section %q not found in original line", timers)
	}

	numeric := fmt.Sprintf("%s %d %d", timers, rec.Status.Int, rec.BytesRead)
	if !strings.Contains(httpLine, numeric) {
		t.Errorf("numeric sections %q not found in original line", numeric)
	}

	conns := fmt.Sprintf("%d/%d/%d/%d/%d %d/%d",
		rec.Conns.Active, rec.Conns.Frontend, rec.Conns.Backend,
		rec.Conns.Server, rec.Conns.Retries,
		rec.Queues.Server, rec.Queues.Backend)
	if !strings.Contains(httpLine, conns) {
		t.Errorf("counter sections %q not found in original line", conns)
	}
}
