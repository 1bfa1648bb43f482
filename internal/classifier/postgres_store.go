package classifier

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mbd888/paymo/internal/graph"
	"github.com/mbd888/paymo/internal/pagination"
	"github.com/mbd888/paymo/internal/payment"
)

// PostgresStore persists classification results in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payment_verdicts table if it doesn't exist. Deployed
// databases are migrated with goose (see migrations/); this keeps tests and
// ad-hoc runs self-contained.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_verdicts (
			id            VARCHAR(40) PRIMARY KEY,
			seq           BIGINT NOT NULL,
			party_a       TEXT NOT NULL,
			party_b       TEXT NOT NULL,
			paid_at       TIMESTAMPTZ NOT NULL,
			amount        NUMERIC(20,6) NOT NULL CHECK (amount >= 0),
			memo          TEXT NOT NULL DEFAULT '',
			distance      INTEGER NOT NULL,
			tiers         JSONB NOT NULL DEFAULT '[]',
			duplicate     BOOLEAN NOT NULL DEFAULT FALSE,
			self_payment  BOOLEAN NOT NULL DEFAULT FALSE,
			evaluated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_payment_verdicts_party_a
			ON payment_verdicts (party_a, evaluated_at DESC, id DESC);

		CREATE INDEX IF NOT EXISTS idx_payment_verdicts_party_b
			ON payment_verdicts (party_b, evaluated_at DESC, id DESC);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, result *Result) error {
	tiersJSON, err := json.Marshal(result.Tiers)
	if err != nil {
		return fmt.Errorf("failed to marshal tiers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_verdicts
			(id, seq, party_a, party_b, paid_at, amount, memo, distance, tiers, duplicate, self_payment, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		result.ID,
		int64(result.Sequence),
		result.Event.PartyA,
		result.Event.PartyB,
		result.Event.Timestamp,
		result.Event.Amount.String(),
		result.Event.Memo,
		int(result.Distance),
		tiersJSON,
		result.Duplicate,
		result.SelfPayment,
		result.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record classification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByParty(ctx context.Context, party string, cursor *pagination.Cursor, limit int) ([]*Result, error) {
	query := `
		SELECT id, seq, party_a, party_b, paid_at, amount, memo, distance, tiers, duplicate, self_payment, evaluated_at
		FROM payment_verdicts
		WHERE (party_a = $1 OR party_b = $1)`
	args := []any{party}
	if cursor != nil {
		query += ` AND (evaluated_at, id) < ($2, $3)`
		args = append(args, cursor.At, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY evaluated_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Result
	for rows.Next() {
		var (
			r         Result
			seq       int64
			amount    string
			distance  int
			tiersJSON []byte
		)
		if err := rows.Scan(
			&r.ID, &seq, &r.Event.PartyA, &r.Event.PartyB, &r.Event.Timestamp,
			&amount, &r.Event.Memo, &distance, &tiersJSON, &r.Duplicate, &r.SelfPayment, &r.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		if r.Event.Amount, err = payment.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
		}
		if err := json.Unmarshal(tiersJSON, &r.Tiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tiers: %w", err)
		}
		r.Sequence = uint64(seq)
		r.Distance = graph.Distance(distance)
		r.Reachable = r.Distance.Reachable()
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	return result, nil
}
