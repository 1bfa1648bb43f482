package classifier

import (
	"context"
	"io"

	"github.com/mbd888/paymo/internal/payment"
)

// SliceSource is a Source over an in-memory slice.
type SliceSource struct {
	events []payment.Event
	pos    int
}

// NewSliceSource returns a Source yielding events in order.
func NewSliceSource(events []payment.Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (payment.Event, error) {
	if err := ctx.Err(); err != nil {
		return payment.Event{}, err
	}
	if s.pos >= len(s.events) {
		return payment.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}
