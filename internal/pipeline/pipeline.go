// Package pipeline runs the batch-then-stream triage over a pair of feeds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/payment"
	"github.com/mbd888/paymo/internal/sink"
)

// streamBuffer bounds how far the reader may run ahead of classification.
const streamBuffer = 256

// Summary describes a finished run.
type Summary struct {
	Batch       classifier.LoadStats `json:"batch"`
	Streamed    int                  `json:"streamed"`
	Duplicates  int                  `json:"duplicates"`
	Unreachable int                  `json:"unreachable"`
	Elapsed     time.Duration        `json:"elapsed"`
}

// Run loads batch fully, then classifies every event of stream in arrival
// order and writes each result to out. Reading the stream overlaps with
// classification; classification itself stays strictly sequential.
//
// Run does not close out.
func Run(ctx context.Context, engine *classifier.Engine, batch, stream classifier.Source, out sink.Sink, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	var sum Summary
	stats, err := engine.Load(ctx, batch)
	sum.Batch = stats
	if err != nil {
		return sum, fmt.Errorf("failed to load batch: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	events := make(chan payment.Event, streamBuffer)

	g.Go(func() error {
		defer close(events)
		for {
			ev, err := stream.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read stream: %w", err)
			}
			select {
			case events <- ev:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for ev := range events {
			r, err := engine.Classify(gctx, ev)
			if err != nil {
				return fmt.Errorf("failed to classify stream event %d: %w", sum.Streamed+1, err)
			}
			if err := out.Write(r); err != nil {
				return err
			}
			sum.Streamed++
			if r.Duplicate {
				sum.Duplicates++
			}
			if !r.Reachable {
				sum.Unreachable++
			}
		}
		return nil
	})

	err = g.Wait()
	sum.Elapsed = time.Since(start)
	if err != nil {
		return sum, err
	}

	logger.Info("stream classified",
		"batch", sum.Batch.Loaded,
		"streamed", sum.Streamed,
		"duplicates", sum.Duplicates,
		"unreachable", sum.Unreachable,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}
