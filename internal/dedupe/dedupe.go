// Package dedupe flags payment requests that repeat an earlier request exactly.
package dedupe

import "github.com/mbd888/paymo/internal/payment"

// History exposes how often an event has been recorded on its edge.
// *graph.Graph satisfies it.
type History interface {
	Occurrences(ev payment.Event) int
}

// IsDuplicate reports whether ev is a repeat. It must be called after ev has
// been recorded: the first occurrence is never a duplicate. Comparison is over
// all five fields, so the same amount at a different time is not a repeat.
func IsDuplicate(h History, ev payment.Event) bool {
	return h.Occurrences(ev) > 1
}
