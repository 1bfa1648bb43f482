// Package payment defines the payment event value shared by the trust graph,
// the classifier and the ingestion collaborators.
//
// An Event is immutable once constructed. Two events are the same payment
// only when all five fields match; the direction of the parties matters for
// equality but not for graph adjacency.
package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidEvent is returned for events missing a required field.
	// The classifier rejects such events without touching the graph.
	ErrInvalidEvent = errors.New("invalid payment event")

	// ErrSelfPayment marks a payment whose payer and payee are the same party.
	// It is informational: self payments are classified at distance 0.
	ErrSelfPayment = errors.New("self payment")
)

// eventValidate is shared; validator.Validate caches struct metadata and is safe
// for concurrent use.
var eventValidate = validator.New(validator.WithRequiredStructEnabled())

// Event is a single payment request between two parties.
type Event struct {
	Timestamp time.Time `json:"timestamp" validate:"required"`
	PartyA    string    `json:"partyA" validate:"required"`
	PartyB    string    `json:"partyB" validate:"required"`
	Amount    Amount    `json:"amount" validate:"gte=0"`
	Memo      string    `json:"memo"`
}

// Validate checks the event shape. The returned error wraps ErrInvalidEvent
// and names every offending field.
func (e Event) Validate() error {
	err := eventValidate.Struct(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(fields, ", "))
}

// Equal reports structural equality over all five fields.
func (e Event) Equal(o Event) bool {
	return e.Timestamp.Equal(o.Timestamp) &&
		e.PartyA == o.PartyA &&
		e.PartyB == o.PartyB &&
		e.Amount == o.Amount &&
		e.Memo == o.Memo
}

// IsSelfPayment reports whether the payer and payee are the same party.
func (e Event) IsSelfPayment() bool {
	return e.PartyA == e.PartyB
}

// String is used in log lines.
func (e Event) String() string {
	return fmt.Sprintf("%s %s->%s %s %q",
		e.Timestamp.UTC().Format(time.RFC3339), e.PartyA, e.PartyB, e.Amount, e.Memo)
}
