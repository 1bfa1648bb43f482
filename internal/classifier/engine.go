package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/paymo/internal/circuitbreaker"
	"github.com/mbd888/paymo/internal/dedupe"
	"github.com/mbd888/paymo/internal/graph"
	"github.com/mbd888/paymo/internal/idgen"
	"github.com/mbd888/paymo/internal/metrics"
	"github.com/mbd888/paymo/internal/payment"
	"github.com/mbd888/paymo/internal/policy"
	"github.com/mbd888/paymo/internal/retry"
	"github.com/mbd888/paymo/internal/syncutil"
	"github.com/mbd888/paymo/internal/traces"
)

// Engine owns the trust graph and classifies payments against it.
//
// All graph access goes through a single context-aware mutex, so request N
// observes exactly the graph produced by requests 1..N-1. Engine is safe for
// concurrent use; concurrent Classify calls are applied in lock order.
type Engine struct {
	mu        *syncutil.ContextMutex
	graph     *graph.Graph
	policy    *policy.Policy
	seq       uint64
	store     Store
	breaker   *circuitbreaker.Breaker
	retry     retry.Policy
	publisher Publisher
	logger    *slog.Logger
	pending   sync.WaitGroup
}

// NewEngine creates an engine with an empty graph. A nil policy means
// policy.Default().
func NewEngine(p *policy.Policy) *Engine {
	if p == nil {
		p = policy.Default()
	}
	return &Engine{
		mu:     syncutil.NewContextMutex(),
		graph:  graph.New(),
		policy: p,
		retry:  retry.DefaultPolicy,
		logger: slog.Default(),
	}
}

// WithStore sets the audit store. Results are recorded best-effort: transient
// failures are retried, and after repeated failures the store is skipped for
// a cooldown period.
func (e *Engine) WithStore(s Store) *Engine {
	e.store = s
	e.breaker = circuitbreaker.New("audit_store", 5, 30*time.Second)
	return e
}

// WithPublisher sets the live result feed.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

// WithLogger overrides the default logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// Policy returns the tier policy the engine classifies with.
func (e *Engine) Policy() *policy.Policy {
	return e.policy
}

// Load inserts every event from src into the graph without classifying it.
// The mutation lock is held for the whole batch. Loading stops at the first
// invalid event, which is not inserted; events before it stay in the graph.
func (e *Engine) Load(ctx context.Context, src Source) (LoadStats, error) {
	ctx, span := traces.StartSpan(ctx, "classifier.Load")
	defer span.End()

	unlock, err := e.mu.Lock(ctx)
	if err != nil {
		return LoadStats{}, err
	}
	defer unlock()

	var stats LoadStats
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.Graph = e.graph.Stats()
			span.SetStatus(codes.Error, err.Error())
			return stats, fmt.Errorf("failed to read batch: %w", err)
		}
		if err := ev.Validate(); err != nil {
			metrics.InvalidEventsTotal.WithLabelValues("batch").Inc()
			stats.Graph = e.graph.Stats()
			span.SetStatus(codes.Error, err.Error())
			return stats, fmt.Errorf("batch event %d: %w", stats.Loaded+1, err)
		}
		e.graph.AddEvent(ev)
		stats.Loaded++
	}

	stats.Graph = e.graph.Stats()
	e.observeGraph(stats.Graph)
	metrics.BatchEventsLoadedTotal.Add(float64(stats.Loaded))
	span.SetAttributes(traces.BatchSize(stats.Loaded))
	if lp, ok := e.publisher.(LoadPublisher); ok {
		lp.PublishLoad(stats)
	}

	e.logger.Info("batch loaded",
		"events", stats.Loaded,
		"nodes", stats.Graph.Nodes,
		"edges", stats.Graph.Edges,
	)
	return stats, nil
}

// LoadEvents loads a slice atomically: every event is validated before any
// is inserted, so an invalid batch leaves the graph untouched.
func (e *Engine) LoadEvents(ctx context.Context, events []payment.Event) (LoadStats, error) {
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			metrics.InvalidEventsTotal.WithLabelValues("batch").Inc()
			return LoadStats{}, fmt.Errorf("batch event %d: %w", i+1, err)
		}
	}
	return e.Load(ctx, NewSliceSource(events))
}

// Classify measures, records and dedupes one streamed payment.
//
// An invalid event fails with an error wrapping payment.ErrInvalidEvent and
// leaves the graph untouched. A self payment is classified at distance 0 and
// flagged on the result.
func (e *Engine) Classify(ctx context.Context, ev payment.Event) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "classifier.Classify",
		traces.Payer(ev.PartyA),
		traces.Payee(ev.PartyB),
		traces.Amount(ev.Amount.String()),
	)
	defer span.End()

	if err := ev.Validate(); err != nil {
		metrics.InvalidEventsTotal.WithLabelValues("stream").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := e.evaluate(ctx, ev)
	if err != nil {
		return nil, err
	}
	dist, dup := result.Distance, result.Duplicate

	e.observeResult(result)
	span.SetAttributes(traces.Distance(int(dist)), traces.Duplicate(dup))

	if result.SelfPayment {
		e.logger.Debug("self payment classified at distance 0",
			"party", ev.PartyA, "reason", payment.ErrSelfPayment)
	}
	e.logger.Debug("payment classified",
		"seq", result.Sequence,
		"from", ev.PartyA,
		"to", ev.PartyB,
		"distance", dist.String(),
		"duplicate", dup,
	)

	e.record(result)
	return result, nil
}

// evaluate runs the locked part of Classify: query, insert, dedupe and
// publish. The lock is released even if a publisher panics.
func (e *Engine) evaluate(ctx context.Context, ev payment.Event) (*Result, error) {
	unlock, err := e.mu.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	dist := e.distance(ev)
	metrics.ProximityQueryDuration.Observe(time.Since(start).Seconds())

	verdicts := e.policy.Classify(dist)
	e.graph.AddEvent(ev)
	dup := dedupe.IsDuplicate(e.graph, ev)

	e.seq++
	result := &Result{
		ID:          idgen.WithPrefix("vrd_"),
		Sequence:    e.seq,
		Event:       ev,
		Distance:    dist,
		Reachable:   dist.Reachable(),
		Tiers:       make([]TierVerdict, len(verdicts)),
		Duplicate:   dup,
		SelfPayment: ev.IsSelfPayment(),
		EvaluatedAt: time.Now().UTC(),
	}
	for i, t := range e.policy.Tiers() {
		result.Tiers[i] = TierVerdict{Tier: t.Name, Bound: t.Bound, Verdict: verdicts[i]}
	}

	e.observeGraph(e.graph.Stats())
	if e.publisher != nil {
		e.publisher.PublishResult(result.clone())
	}
	return result, nil
}

// distance searches no further than the widest tier. With every bound at 0
// only a self payment can be trusted, so no search runs at all.
func (e *Engine) distance(ev payment.Event) graph.Distance {
	bound := e.policy.MaxBound()
	if bound == 0 {
		if ev.IsSelfPayment() {
			return 0
		}
		return graph.Unreachable
	}
	return e.graph.Distance(ev.PartyA, ev.PartyB, bound)
}

// record persists a copy of result asynchronously (best-effort audit trail).
func (e *Engine) record(result *Result) {
	if e.store == nil {
		return
	}
	r := result.clone()
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := e.breaker.Do(func() error {
			return retry.Do(ctx, e.retry, func(ctx context.Context) error {
				return e.store.Record(ctx, r)
			})
		})
		switch {
		case err == nil:
		case errors.Is(err, circuitbreaker.ErrOpen):
			metrics.AuditRecordsSkippedTotal.Inc()
			e.logger.Debug("audit store circuit open, skipping record", "id", r.ID)
		default:
			metrics.AuditRecordFailuresTotal.Inc()
			e.logger.Warn("failed to record classification", "id", r.ID, "error", err)
		}
	}()
}

// Drain waits for in-flight audit records to finish or for ctx to end.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Distance answers a diagnostic proximity query without mutating the graph.
// bound <= 0 searches the whole component.
func (e *Engine) Distance(ctx context.Context, a, b string, bound int) (graph.Distance, error) {
	unlock, err := e.mu.Lock(ctx)
	if err != nil {
		return graph.Unreachable, err
	}
	defer unlock()
	return e.graph.Distance(a, b, bound), nil
}

// History returns a copy of the events recorded between a and b.
func (e *Engine) History(ctx context.Context, a, b string) ([]payment.Event, error) {
	unlock, err := e.mu.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.graph.EventsOn(a, b), nil
}

// Neighbors returns the direct counterparties of party, sorted.
func (e *Engine) Neighbors(ctx context.Context, party string) ([]string, error) {
	unlock, err := e.mu.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.graph.Neighbors(party), nil
}

// Stats returns the current graph size.
func (e *Engine) Stats(ctx context.Context) (graph.Stats, error) {
	unlock, err := e.mu.Lock(ctx)
	if err != nil {
		return graph.Stats{}, err
	}
	defer unlock()
	return e.graph.Stats(), nil
}

func (e *Engine) observeGraph(s graph.Stats) {
	metrics.GraphNodes.Set(float64(s.Nodes))
	metrics.GraphEdges.Set(float64(s.Edges))
}

func (e *Engine) observeResult(r *Result) {
	for _, tv := range r.Tiers {
		metrics.EventsClassifiedTotal.WithLabelValues(tv.Tier, string(tv.Verdict)).Inc()
	}
	if r.Duplicate {
		metrics.DuplicatesTotal.Inc()
	}
	if r.SelfPayment {
		metrics.SelfPaymentsTotal.Inc()
	}
}
