// Package ingest reads payment feeds in the paymo CSV format and turns each
// well-formed row into a payment.Event.
//
// Rows look like
//
//	2016-11-02 09:49:29, 52575, 1120, 25.32, Spam
//
// Memos may contain commas; any fields after the fourth are joined back into
// the memo. Rows with fewer than five fields (typically the tail of a memo
// that contained a line break) and rows whose timestamp, parties or amount do
// not parse are skipped and counted. Skipped rows never reach the classifier.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mbd888/paymo/internal/metrics"
	"github.com/mbd888/paymo/internal/payment"
)

// TimeLayout is the timestamp format of the feed. Timestamps carry no zone
// and are read as UTC unless the reader is given another location.
const TimeLayout = "2006-01-02 15:04:05"

// SkipReason classifies a dropped row.
type SkipReason string

const (
	SkipShortRow     SkipReason = "short_row"
	SkipBadTimestamp SkipReason = "bad_timestamp"
	SkipEmptyParty   SkipReason = "empty_party"
	SkipBadAmount    SkipReason = "bad_amount"
	SkipMalformed    SkipReason = "malformed"
)

// RecordError reports why a row could not be turned into an event.
type RecordError struct {
	Line   int
	Reason SkipReason
	Err    error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ParseRecord turns the fields of one row into an event. It does not look at
// the line number; callers wrap the error with it.
func ParseRecord(fields []string, loc *time.Location) (payment.Event, error) {
	if len(fields) < 5 {
		return payment.Event{}, &RecordError{Reason: SkipShortRow}
	}
	if len(fields) > 5 {
		fields = append(fields[:4:4], strings.Join(fields[4:], ","))
	}
	if loc == nil {
		loc = time.UTC
	}

	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(fields[0]), loc)
	if err != nil {
		return payment.Event{}, &RecordError{Reason: SkipBadTimestamp, Err: err}
	}

	a, b := strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2])
	if a == "" || b == "" {
		return payment.Event{}, &RecordError{Reason: SkipEmptyParty}
	}

	amount, err := payment.ParseAmount(fields[3])
	if err != nil {
		return payment.Event{}, &RecordError{Reason: SkipBadAmount, Err: err}
	}

	return payment.Event{
		Timestamp: ts.UTC(),
		PartyA:    a,
		PartyB:    b,
		Amount:    amount,
		Memo:      strings.TrimSpace(fields[4]),
	}, nil
}

// Reader yields events from a feed, skipping rows that do not parse.
// It implements classifier.Source.
type Reader struct {
	csv     *csv.Reader
	loc     *time.Location
	logger  *slog.Logger
	records int
	skipped map[SkipReason]int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	return &Reader{
		csv:     cr,
		loc:     time.UTC,
		logger:  slog.Default(),
		skipped: make(map[SkipReason]int),
	}
}

// WithLocation sets the zone the feed's timestamps are written in.
func (r *Reader) WithLocation(loc *time.Location) *Reader {
	r.loc = loc
	return r
}

// WithLogger overrides the default logger.
func (r *Reader) WithLogger(l *slog.Logger) *Reader {
	r.logger = l
	return r
}

// Next returns the next well-formed event, or io.EOF at the end of the feed.
func (r *Reader) Next(ctx context.Context) (payment.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return payment.Event{}, err
		}

		fields, err := r.csv.Read()
		r.records++
		if errors.Is(err, io.EOF) {
			return payment.Event{}, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				r.skip(&RecordError{Line: perr.StartLine, Reason: SkipMalformed, Err: perr.Err})
				continue
			}
			return payment.Event{}, fmt.Errorf("failed to read feed: %w", err)
		}

		// The header row names its columns; it is not a bad row.
		if r.records == 1 && len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "time") {
			continue
		}

		ev, err := ParseRecord(fields, r.loc)
		if err != nil {
			var rerr *RecordError
			if errors.As(err, &rerr) {
				line, _ := r.csv.FieldPos(0)
				rerr.Line = line
				r.skip(rerr)
				continue
			}
			return payment.Event{}, err
		}
		return ev, nil
	}
}

func (r *Reader) skip(err *RecordError) {
	r.skipped[err.Reason]++
	metrics.IngestSkippedTotal.WithLabelValues(string(err.Reason)).Inc()
	r.logger.Debug("skipping feed row", "line", err.Line, "reason", err.Reason, "error", err.Err)
}

// Skipped returns the total number of rows dropped so far.
func (r *Reader) Skipped() int {
	n := 0
	for _, c := range r.skipped {
		n += c
	}
	return n
}

// SkippedBy returns a copy of the per-reason skip counts.
func (r *Reader) SkippedBy() map[SkipReason]int {
	out := make(map[SkipReason]int, len(r.skipped))
	for k, v := range r.skipped {
		out[k] = v
	}
	return out
}

// File is a Reader over an opened feed file.
type File struct {
	*Reader
	f *os.File
}

// Open opens a feed file for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an operator-supplied feed file
	if err != nil {
		return nil, fmt.Errorf("failed to open feed: %w", err)
	}
	return &File{Reader: NewReader(f), f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
