package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
)

type signingKeysRepo struct {
	db dbtx
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at`

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_keys (`+signingKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PrivateKeyEncrypted,
		key.CreatedAt, mapOptionalTime(key.RetiredAt), key.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *signingKeysRepo) GetActiveSigningKey(ctx context.Context) (domain.SigningKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE retired_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`)

	keys, err := scanSigningKeyRow(row)
	if err != nil {
		return domain.SigningKey{}, err
	}
	return keys, nil
}

// ListVerifiableSigningKeys returns the active key plus retired keys still
// inside their grace window. An active key is always verifiable regardless
// of its provisional expires_at stamp.
func (r *signingKeysRepo) ListVerifiableSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE retired_at IS NULL OR expires_at > ?
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		var key domain.SigningKey
		var retiredAt sql.NullTime
		if err := rows.Scan(
			&key.ID, &key.Kid, &key.Algorithm, &key.PrivateKeyEncrypted,
			&key.CreatedAt, &retiredAt, &key.ExpiresAt,
		); err != nil {
			return nil, err
		}
		key.RetiredAt = mapNullTimePtr(retiredAt)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RetireSigningKeyIfActive retires the key only while it is still active.
// Rows-affected 0 means another rotation already retired it.
func (r *signingKeysRepo) RetireSigningKeyIfActive(ctx context.Context, kid string, retiredAt, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE signing_keys SET retired_at = ?, expires_at = ?
		WHERE kid = ? AND retired_at IS NULL`,
		retiredAt, expiresAt, kid)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM signing_keys
		WHERE retired_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSigningKeyRow(row *sql.Row) (domain.SigningKey, error) {
	var key domain.SigningKey
	var retiredAt sql.NullTime

	err := row.Scan(
		&key.ID, &key.Kid, &key.Algorithm, &key.PrivateKeyEncrypted,
		&key.CreatedAt, &retiredAt, &key.ExpiresAt,
	)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}

	key.RetiredAt = mapNullTimePtr(retiredAt)
	return key, nil
}
