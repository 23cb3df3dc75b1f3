package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
)

type loginAttemptsRepo struct {
	db dbtx
}

func (r *loginAttemptsRepo) CreateLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, user_id, identifier, ip_address, success, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, mapStringNull(a.UserID), a.Identifier, a.IPAddress,
		a.Success, a.FailureReason, a.CreatedAt,
	)
	return err
}

func (r *loginAttemptsRepo) ListUserAttempts(ctx context.Context, userID string, limit int) ([]domain.LoginAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, identifier, ip_address, success, failure_reason, created_at
		FROM login_attempts
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.LoginAttempt
	for rows.Next() {
		var a domain.LoginAttempt
		var uid sql.NullString
		if err := rows.Scan(
			&a.ID, &uid, &a.Identifier, &a.IPAddress,
			&a.Success, &a.FailureReason, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.UserID = mapNullString(uid)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *loginAttemptsRepo) DeleteOldLoginAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM login_attempts WHERE created_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
