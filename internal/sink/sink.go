// Package sink writes classification results out of process.
//
// FileSink reproduces the paymo output layout: one file per feature, one line
// per streamed payment, so line k of every file describes the k-th payment.
// Features 1..N are the policy tiers; feature N+1 is the duplicate check.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/policy"
)

// ErrShape is returned when a result does not carry one verdict per feature.
var ErrShape = errors.New("sink: result shape does not match features")

// Sink consumes results in emission order.
type Sink interface {
	Write(result *classifier.Result) error
	Close() error
}

// FileName returns the output file name for a 1-based feature index.
func FileName(feature int) string {
	return fmt.Sprintf("output%d.txt", feature)
}

// FileSink writes each feature's verdicts to its own file in a directory.
type FileSink struct {
	files   []*os.File
	writers []*bufio.Writer
	written int
}

// NewFileSink creates dir if needed and truncates output1.txt through
// output{features}.txt in it. features counts the duplicate feature.
func NewFileSink(dir string, features int) (*FileSink, error) {
	if features <= 0 {
		return nil, fmt.Errorf("%w: %d features", ErrShape, features)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	s := &FileSink{}
	for i := 1; i <= features; i++ {
		f, err := os.Create(filepath.Join(dir, FileName(i))) // #nosec G304 -- operator-supplied output dir
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to create %s: %w", FileName(i), err)
		}
		s.files = append(s.files, f)
		s.writers = append(s.writers, bufio.NewWriter(f))
	}
	return s, nil
}

// Write appends one line per feature.
func (s *FileSink) Write(result *classifier.Result) error {
	verdicts := result.Verdicts()
	if len(verdicts) != len(s.writers) {
		return fmt.Errorf("%w: got %d verdicts for %d files", ErrShape, len(verdicts), len(s.writers))
	}
	for i, v := range verdicts {
		if _, err := s.writers[i].WriteString(string(v) + "\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", FileName(i+1), err)
		}
	}
	s.written++
	return nil
}

// Written is the number of results written so far.
func (s *FileSink) Written() int { return s.written }

// Close flushes and closes every file, reporting all failures.
func (s *FileSink) Close() error {
	var errs []error
	for i, f := range s.files {
		if i < len(s.writers) {
			if err := s.writers[i].Flush(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files, s.writers = nil, nil
	return errors.Join(errs...)
}

// MemorySink keeps results in memory for tests and the HTTP demo.
type MemorySink struct {
	mu      sync.Mutex
	results []*classifier.Result
	closed  bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(result *classifier.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink: write after close")
	}
	s.results = append(s.results, result)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Results returns the results written so far, in order.
func (s *MemorySink) Results() []*classifier.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*classifier.Result(nil), s.results...)
}

// Feature returns the verdict column for a 1-based feature index, the same
// lines FileSink would write to output{feature}.txt.
func (s *MemorySink) Feature(feature int) []policy.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]policy.Verdict, 0, len(s.results))
	for _, r := range s.results {
		v := r.Verdicts()
		if feature >= 1 && feature <= len(v) {
			out = append(out, v[feature-1])
		}
	}
	return out
}
