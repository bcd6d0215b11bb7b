// Package source yields the records of one log file that survive
// parsing, the time window and the filter chain.
package source

import (
	"bufio"
	"io"

	"github.com/nitis/hapstat/internal/filter"
	"github.com/nitis/hapstat/internal/parser"
	"github.com/nitis/hapstat/internal/types"
)

// Lines longer than this cannot match the grammar anyway; they are
// counted as malformed and their remainder is discarded, so one runaway
// line neither buffers without bound nor stops the scan.
const maxLineBytes = 64 * 1024

// Source is a single-pass, forward-only record iterator. Each raw line
// is read once, parsed once and discarded; restart by reopening the file
// and building a new Source. Every line is read and parsed regardless of
// timestamp order, so the window never causes an early exit.
type Source struct {
	reader *bufio.Reader
	parser *parser.Parser
	window filter.Window
	chain  filter.Chain

	valid     int
	malformed int
	filtered  int
	reasons   map[types.FailureReason]int
	err       error
	done      bool
}

// New builds a Source over r.
func New(r io.Reader, p *parser.Parser, window filter.Window, chain filter.Chain) *Source {
	return &Source{
		reader:  bufio.NewReaderSize(r, 4*1024),
		parser:  p,
		window:  window,
		chain:   chain,
		reasons: make(map[types.FailureReason]int),
	}
}

// Next returns the next valid record. Malformed and overlong lines are
// counted and skipped; lines that parse but fall outside the window or
// the filter chain are counted as filtered out. Returns false at end of
// input.
func (s *Source) Next() (*types.Record, bool) {
	for !s.done {
		line, overlong, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			s.done = true
			break
		}
		if overlong {
			s.malformed++
			s.reasons[types.ReasonStructure]++
			continue
		}
		rec, failure := s.parser.Parse(line)
		if failure != nil {
			s.malformed++
			s.reasons[failure.Reason]++
			continue
		}
		if !s.window.Contains(rec.Time) || !s.chain.Match(rec) {
			s.filtered++
			continue
		}
		s.valid++
		return rec, true
	}
	return nil, false
}

// readLine reads one line of any length. Once a line grows past
// maxLineBytes its content is dropped and the line reported as
// overlong, but the reader still consumes through its newline so the
// following lines are unaffected.
func (s *Source) readLine() (string, bool, error) {
	var buf []byte
	overlong := false
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !overlong {
			buf = append(buf, chunk...)
			if len(buf) > maxLineBytes {
				buf = nil
				overlong = true
			}
		}
		if !isPrefix {
			return string(buf), overlong, nil
		}
	}
}

// Err reports any read error once the source is exhausted.
func (s *Source) Err() error { return s.err }

// Valid is the number of records yielded so far.
func (s *Source) Valid() int { return s.valid }

// Malformed is the number of lines that failed to parse.
func (s *Source) Malformed() int { return s.malformed }

// FilteredOut is the number of parsed lines excluded by the window or
// the filter chain.
func (s *Source) FilteredOut() int { return s.filtered }

// FailureCounts breaks the malformed count down by reason.
func (s *Source) FailureCounts() map[types.FailureReason]int {
	counts := make(map[types.FailureReason]int, len(s.reasons))
	for reason, n := range s.reasons {
		counts[reason] = n
	}
	return counts
}
