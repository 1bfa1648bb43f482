package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paymo/internal/payment"
)

const feed = `time, id1, id2, amount, message
2016-11-02 09:49:29, 52575, 1120, 25.32, Spam
2016-11-02 09:49:29, 11745, 54555, 2.50, Spam, eggs, and ham
2016-11-02 09:49:30, 2142, 4254, 19.80, line one
of a memo that broke
not-a-time, 1, 2, 3.00, bad
2016-11-02 09:49:31, , 2, 3.00, no payer
2016-11-02 09:49:32, 1, 2, -3.00, negative
2016-11-02 09:49:33, 1, 2, abc, nonsense

2016-11-02 09:49:34, 8552, 4384, 0.5, 🍕 🍺
`

func readAll(t *testing.T, r *Reader) []payment.Event {
	t.Helper()
	var out []payment.Event
	for {
		ev, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestReaderParsesFeed(t *testing.T) {
	r := NewReader(strings.NewReader(feed))
	events := readAll(t, r)

	require.Len(t, events, 4)
	assert.Equal(t, payment.Event{
		Timestamp: time.Date(2016, 11, 2, 9, 49, 29, 0, time.UTC),
		PartyA:    "52575",
		PartyB:    "1120",
		Amount:    payment.MustParseAmount("25.32"),
		Memo:      "Spam",
	}, events[0])
	assert.Equal(t, "Spam, eggs, and ham", events[1].Memo)
	assert.Equal(t, "line one", events[2].Memo)
	assert.Equal(t, "🍕 🍺", events[3].Memo)
	assert.Equal(t, payment.MustParseAmount("0.50"), events[3].Amount)
}

func TestReaderCountsSkippedRows(t *testing.T) {
	r := NewReader(strings.NewReader(feed))
	readAll(t, r)

	assert.Equal(t, 5, r.Skipped())
	assert.Equal(t, map[SkipReason]int{
		SkipShortRow:     1,
		SkipBadTimestamp: 1,
		SkipEmptyParty:   1,
		SkipBadAmount:    2,
	}, r.SkippedBy())
}

func TestReaderWithoutHeader(t *testing.T) {
	r := NewReader(strings.NewReader("2016-11-02 09:49:29, a, b, 1, x\n"))
	events := readAll(t, r)
	require.Len(t, events, 1)
	assert.Zero(t, r.Skipped())
}

func TestReaderLocation(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	r := NewReader(strings.NewReader("2016-11-02 09:00:00, a, b, 1, x\n")).WithLocation(est)
	events := readAll(t, r)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2016, 11, 2, 14, 0, 0, 0, time.UTC), events[0].Timestamp)
}

func TestReaderStopsOnCancelledContext(t *testing.T) {
	r := NewReader(strings.NewReader(feed))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseRecord(t *testing.T) {
	fields := []string{"2016-11-02 09:49:29", " a ", " b ", " 10 ", " lunch, again "}
	ev, err := ParseRecord(fields, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.PartyA)
	assert.Equal(t, "b", ev.PartyB)
	assert.Equal(t, "lunch, again", ev.Memo)
	assert.Equal(t, payment.MustParseAmount("10.00"), ev.Amount)

	_, err = ParseRecord([]string{"x"}, nil)
	var rerr *RecordError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, SkipShortRow, rerr.Reason)

	_, err = ParseRecord([]string{"2016-11-02 09:49:29", "a", "b", "1.0000001", "m"}, nil)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, SkipBadAmount, rerr.Reason)
	assert.True(t, errors.Is(err, payment.ErrInvalidAmount))
}

func TestParseRecordDoesNotAliasInput(t *testing.T) {
	fields := []string{"2016-11-02 09:49:29", "a", "b", "1", "x", "y"}
	_, err := ParseRecord(fields, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", fields[4])
}

func TestRecordErrorMessage(t *testing.T) {
	err := &RecordError{Line: 3, Reason: SkipShortRow}
	assert.Equal(t, "line 3: short_row", err.Error())
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch_payment.txt")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Len(t, readAll(t, f.Reader), 4)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
