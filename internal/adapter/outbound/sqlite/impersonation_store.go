package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zapgate/zapgate/internal/domain/impersonation"
)

// ImpersonationStore implements impersonation.Store on SQLite. The
// operator_id primary key gives per-operator write serialization and the
// at-most-one-row property for free.
type ImpersonationStore struct {
	db *sql.DB
}

// Get returns the active session for the operator.
func (s *ImpersonationStore) Get(ctx context.Context, operatorID string) (*impersonation.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, tenant_id, tenant_name, tenant_subdomain, started_at, reason
		FROM impersonations WHERE operator_id = ?`, operatorID)

	var sess impersonation.Session
	var startedAt int64
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.TenantName, &sess.TenantSubdomain, &startedAt, &sess.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, impersonation.ErrNotImpersonating
	}
	if err != nil {
		return nil, fmt.Errorf("query impersonation: %w", err)
	}
	sess.OperatorID = operatorID
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	return &sess, nil
}

// Put stores the active session for its operator, replacing any previous
// record, and advances the monotonicity watermark.
func (s *ImpersonationStore) Put(ctx context.Context, sess *impersonation.Session) error {
	startedAt := sess.StartedAt.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO impersonations
			(operator_id, session_id, tenant_id, tenant_name, tenant_subdomain, started_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operator_id) DO UPDATE SET
			session_id = excluded.session_id,
			tenant_id = excluded.tenant_id,
			tenant_name = excluded.tenant_name,
			tenant_subdomain = excluded.tenant_subdomain,
			started_at = excluded.started_at,
			reason = excluded.reason`,
		sess.OperatorID, sess.ID, sess.TenantID, sess.TenantName, sess.TenantSubdomain, startedAt, sess.Reason); err != nil {
		return fmt.Errorf("upsert impersonation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO impersonation_watermarks (operator_id, last_started_at)
		VALUES (?, ?)
		ON CONFLICT(operator_id) DO UPDATE SET
			last_started_at = MAX(last_started_at, excluded.last_started_at)`,
		sess.OperatorID, startedAt); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	return tx.Commit()
}

// Delete removes the operator's active session. The watermark row is kept.
func (s *ImpersonationStore) Delete(ctx context.Context, operatorID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM impersonations WHERE operator_id = ?`, operatorID); err != nil {
		return fmt.Errorf("delete impersonation: %w", err)
	}
	return nil
}

// LastStarted returns the most recent StartedAt for the operator.
func (s *ImpersonationStore) LastStarted(ctx context.Context, operatorID string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_started_at FROM impersonation_watermarks WHERE operator_id = ?`, operatorID)

	var millis int64
	err := row.Scan(&millis)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query watermark: %w", err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

// ActiveCount returns the number of active sessions across all operators.
func (s *ImpersonationStore) ActiveCount(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM impersonations`)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count impersonations: %w", err)
	}
	return n, nil
}

// Compile-time interface verification.
var _ impersonation.Store = (*ImpersonationStore)(nil)
