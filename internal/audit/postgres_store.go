package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentra-io/sentra/internal/pagination"
)

// PostgresStore persists audit records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit_decisions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_decisions (
			compliance_log_id VARCHAR(64) PRIMARY KEY,
			transaction_id    VARCHAR(64) NOT NULL,
			user_id           VARCHAR(64) NOT NULL,
			decision          VARCHAR(10) NOT NULL CHECK (decision IN ('allow', 'block', 'review')),
			risk_score        NUMERIC(4,3) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 1),
			reason_codes      JSONB NOT NULL DEFAULT '[]',
			latency_ms        DOUBLE PRECISION NOT NULL,
			amount            NUMERIC(20,8) NOT NULL,
			currency          VARCHAR(8) NOT NULL,
			decided_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_decisions_user
			ON audit_decisions (user_id, decided_at DESC);

		CREATE INDEX IF NOT EXISTS idx_audit_decisions_blocks
			ON audit_decisions (decided_at DESC) WHERE decision = 'block';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, record *Record) error {
	codesJSON, err := json.Marshal(record.ReasonCodes)
	if err != nil {
		return fmt.Errorf("failed to marshal reason codes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_decisions
			(compliance_log_id, transaction_id, user_id, decision, risk_score,
			 reason_codes, latency_ms, amount, currency, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ComplianceLogID,
		record.TransactionID,
		record.UserID,
		record.Decision,
		record.RiskScore,
		codesJSON,
		record.LatencyMS,
		record.Amount.String(),
		record.Currency,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	query := `
		SELECT compliance_log_id, transaction_id, user_id, decision, risk_score,
		       reason_codes, latency_ms, amount, currency, decided_at
		FROM audit_decisions
		WHERE user_id = $1
		ORDER BY decided_at DESC, compliance_log_id DESC
		LIMIT $2
	`
	args := []interface{}{userID, limit}
	if before != nil {
		query = `
			SELECT compliance_log_id, transaction_id, user_id, decision, risk_score,
			       reason_codes, latency_ms, amount, currency, decided_at
			FROM audit_decisions
			WHERE user_id = $1
			  AND (decided_at, compliance_log_id) < ($3, $4)
			ORDER BY decided_at DESC, compliance_log_id DESC
			LIMIT $2
		`
		args = append(args, before.CreatedAt, before.ID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var (
			r         Record
			codesJSON []byte
			amountStr string
			decidedAt time.Time
		)
		if err := rows.Scan(&r.ComplianceLogID, &r.TransactionID, &r.UserID, &r.Decision,
			&r.RiskScore, &codesJSON, &r.LatencyMS, &amountStr, &r.Currency, &decidedAt); err != nil {
			continue
		}
		r.Timestamp = decidedAt
		_ = json.Unmarshal(codesJSON, &r.ReasonCodes)
		if amount, err := decimal.NewFromString(amountStr); err == nil {
			r.Amount = amount
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
