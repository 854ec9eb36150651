package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
)

// PostgresUserRefRepo はPostgreSQLを使用したローカル参照ストア。
type PostgresUserRefRepo struct {
	db *sql.DB
}

// NewPostgresUserRefRepo はPostgresUserRefRepoを生成する。
func NewPostgresUserRefRepo(db *sql.DB) *PostgresUserRefRepo {
	return &PostgresUserRefRepo{db: db}
}

// Get は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRefRepo) Get(ctx context.Context, id identifier.Identifier) (*model.UserSnapshot, error) {
	snapshot := &model.UserSnapshot{}
	var rawID string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM user_refs WHERE id = $1`,
		id.String(),
	).Scan(&rawID, &snapshot.DisplayName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user ref: %w", err)
	}

	snapshot.ID = identifier.Identifier(rawID)
	return snapshot, nil
}

// Put はスナップショットをUPSERTする。同一IDの既存エントリは上書きされる。
func (r *PostgresUserRefRepo) Put(ctx context.Context, snapshot model.UserSnapshot, synthesized bool) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_refs (id, display_name, synthesized, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   synthesized = EXCLUDED.synthesized,
		   updated_at = EXCLUDED.updated_at`,
		snapshot.ID.String(), snapshot.DisplayName, synthesized, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user ref: %w", err)
	}
	return nil
}

// List は保持している全スナップショットを表示名順に返す。
func (r *PostgresUserRefRepo) List(ctx context.Context) ([]model.UserSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name FROM user_refs ORDER BY display_name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user refs: %w", err)
	}
	defer rows.Close()

	var snapshots []model.UserSnapshot
	for rows.Next() {
		var rawID, name string
		if err := rows.Scan(&rawID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan user ref: %w", err)
		}
		snapshots = append(snapshots, model.UserSnapshot{
			ID:          identifier.Identifier(rawID),
			DisplayName: name,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user refs: %w", err)
	}

	return snapshots, nil
}

// compile-time interface check
var _ UserRefRepository = (*PostgresUserRefRepo)(nil)
