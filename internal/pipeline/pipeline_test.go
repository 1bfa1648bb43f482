package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/ingest"
	"github.com/mbd888/paymo/internal/logging"
	"github.com/mbd888/paymo/internal/payment"
	"github.com/mbd888/paymo/internal/policy"
	"github.com/mbd888/paymo/internal/sink"
)

const batchFeed = `time, id1, id2, amount, message
2016-11-01 17:38:25, A, B, 10.00, lunch
2016-11-01 17:39:25, B, C, 5.00, rent
2016-11-01 17:40:25, C, D, 5.00, bills
2016-11-01 17:41:25, D, E, 5.00, bills
2016-11-01 17:42:25, E, F, 5.00, bills
`

const streamFeed = `time, id1, id2, amount, message
2016-11-02 09:00:00, A, B, 3.00, coffee
2016-11-02 09:01:00, A, C, 3.00, coffee
2016-11-02 09:02:00, A, E, 3.00, coffee
2016-11-02 09:03:00, A, Z, 3.00, stranger
broken row
2016-11-01 17:38:25, A, B, 10.00, lunch
2016-11-02 09:05:00, G, G, 1.00, self
2016-11-02 09:06:00, F, B, 1.00, far
`

func TestRunProducesOrderedFeatures(t *testing.T) {
	engine := classifier.NewEngine(nil).WithLogger(logging.Discard())
	out := sink.NewMemorySink()
	stream := ingest.NewReader(strings.NewReader(streamFeed))

	sum, err := Run(context.Background(), engine,
		ingest.NewReader(strings.NewReader(batchFeed)), stream, out, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Batch.Loaded)
	assert.Equal(t, 7, sum.Streamed)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, 1, sum.Unreachable, "only the stranger is unreachable")
	assert.Equal(t, 1, stream.Skipped())

	T, U := policy.Trusted, policy.Unverified
	// Distances: A-B 1, A-C 2, A-E 3 (A-C-D-E), A-Z unreachable, the replayed
	// lunch 1, G-G 0, F-B 3 (F-E-A-B).
	assert.Equal(t, []policy.Verdict{T, U, U, U, T, T, U}, out.Feature(1))
	assert.Equal(t, []policy.Verdict{T, T, U, U, T, T, U}, out.Feature(2))
	assert.Equal(t, []policy.Verdict{T, T, T, U, T, T, T}, out.Feature(3))
	assert.Equal(t, []policy.Verdict{T, T, T, T, U, T, T}, out.Feature(4))
}

func TestRunWritesOutputFiles(t *testing.T) {
	dir := t.TempDir()
	out, err := sink.NewFileSink(dir, policy.Default().Len()+1)
	require.NoError(t, err)

	_, err = Run(context.Background(), classifier.NewEngine(nil),
		ingest.NewReader(strings.NewReader(batchFeed)),
		ingest.NewReader(strings.NewReader(streamFeed)), out, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(filepath.Join(dir, "output4.txt"))
	require.NoError(t, err)
	assert.Equal(t, "trusted\ntrusted\ntrusted\ntrusted\nunverified\ntrusted\ntrusted\n", string(data))
}

func TestRunFailsOnInvalidBatch(t *testing.T) {
	bad := payment.Event{PartyA: "A"}
	_, err := Run(context.Background(), classifier.NewEngine(nil),
		classifier.NewSliceSource([]payment.Event{bad}),
		classifier.NewSliceSource(nil), sink.NewMemorySink(), logging.Discard())
	require.Error(t, err)
	assert.True(t, errors.Is(err, payment.ErrInvalidEvent))
}

func TestRunFailsFastOnInvalidStreamEvent(t *testing.T) {
	good := payment.Event{Timestamp: mustTime(t), PartyA: "A", PartyB: "B", Amount: payment.MustParseAmount("1")}
	bad := good
	bad.PartyB = ""

	out := sink.NewMemorySink()
	sum, err := Run(context.Background(), classifier.NewEngine(nil),
		classifier.NewSliceSource(nil),
		classifier.NewSliceSource([]payment.Event{good, bad, good}), out, logging.Discard())
	require.Error(t, err)
	assert.True(t, errors.Is(err, payment.ErrInvalidEvent))
	assert.Equal(t, 1, sum.Streamed)
	assert.Len(t, out.Results(), 1)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, classifier.NewEngine(nil),
		classifier.NewSliceSource(nil), classifier.NewSliceSource(nil), sink.NewMemorySink(), logging.Discard())
	assert.True(t, errors.Is(err, context.Canceled))
}

func mustTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(ingest.TimeLayout, "2016-11-02 09:00:00")
	require.NoError(t, err)
	return ts
}
