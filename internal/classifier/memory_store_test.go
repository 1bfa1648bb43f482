package classifier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paymo/internal/pagination"
	"github.com/mbd888/paymo/internal/policy"
)

func storedResult(id string, a, b string, evaluated time.Time) *Result {
	return &Result{
		ID:          id,
		Event:       pay(a, b),
		Tiers:       []TierVerdict{{Tier: "feature1", Bound: 1, Verdict: policy.Trusted}},
		SelfPayment: a == b,
		EvaluatedAt: evaluated,
	}
}

func TestMemoryStore_ListByPartyNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, storedResult(fmt.Sprintf("vrd_%d", i), "A", "B", t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.Record(ctx, storedResult("vrd_other", "C", "D", t0)))

	got, err := s.ListByParty(ctx, "B", nil, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "vrd_4", got[0].ID)
	assert.Equal(t, "vrd_2", got[2].ID)

	none, err := s.ListByParty(ctx, "nobody", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Cursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Record(ctx, storedResult(fmt.Sprintf("vrd_%d", i), "A", "B", t0.Add(time.Duration(i)*time.Second))))
	}

	cursor := &pagination.Cursor{At: t0.Add(2 * time.Second), ID: "vrd_2"}
	got, err := s.ListByParty(ctx, "A", cursor, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "vrd_1", got[0].ID)
	assert.Equal(t, "vrd_0", got[1].ID)
}

func TestMemoryStore_SelfPaymentStoredOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, storedResult("vrd_self", "A", "A", t0)))

	got, err := s.ListByParty(ctx, "A", nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	in := storedResult("vrd_1", "A", "B", t0)
	require.NoError(t, s.Record(ctx, in))
	in.Tiers[0].Verdict = policy.Unverified

	got, err := s.ListByParty(ctx, "A", nil, 1)
	require.NoError(t, err)
	got[0].Tiers[0].Verdict = "tampered"

	again, err := s.ListByParty(ctx, "A", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, policy.Trusted, again[0].Tiers[0].Verdict)
}
