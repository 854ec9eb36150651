package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
	"github.com/lib/pq"
)

// helpRequestColumns は支援依頼の取得に使うカラム一覧。
const helpRequestColumns = `h.id, h.author_id, COALESCE(u.display_name, ''), h.description,
	COALESCE(h.location, ''), h.is_resolved, h.volunteer_ids, h.created_at, h.updated_at`

// PostgresHelpRequestRepo はPostgreSQLを使用した支援依頼リポジトリ。
// ボランティアはvolunteer_ids配列として登録順に保存する。
type PostgresHelpRequestRepo struct {
	db *sql.DB
}

// NewPostgresHelpRequestRepo はPostgresHelpRequestRepoを生成する。
func NewPostgresHelpRequestRepo(db *sql.DB) *PostgresHelpRequestRepo {
	return &PostgresHelpRequestRepo{db: db}
}

// List は全支援依頼を作成日時の降順で返す。
func (r *PostgresHelpRequestRepo) List(ctx context.Context) ([]model.HelpRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+helpRequestColumns+`
		 FROM help_requests h
		 LEFT JOIN user_refs u ON u.id = h.author_id
		 ORDER BY h.created_at DESC, h.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list help requests: %w", err)
	}
	defer rows.Close()

	var requests []model.HelpRequest
	for rows.Next() {
		req, err := scanHelpRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate help requests: %w", err)
	}

	if err := r.populateVolunteers(ctx, requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// FindByID は指定IDの支援依頼を取得する。見つからない場合はnilを返す。
func (r *PostgresHelpRequestRepo) FindByID(ctx context.Context, id string) (*model.HelpRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+helpRequestColumns+`
		 FROM help_requests h
		 LEFT JOIN user_refs u ON u.id = h.author_id
		 WHERE h.id = $1`,
		id,
	)
	return r.scanOne(ctx, row)
}

// Create は支援依頼を作成する。
func (r *PostgresHelpRequestRepo) Create(ctx context.Context, req *model.HelpRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO help_requests (id, author_id, description, location, is_resolved, volunteer_ids, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		req.ID, req.Author.ID.String(), req.Description, req.Location,
		req.IsResolved, pq.Array(snapshotIDs(req.Volunteers)), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert help request: %w", err)
	}
	return nil
}

// Update は支援依頼を部分更新して更新後の支援依頼を返す。見つからない場合はnilを返す。
// volunteersがnilの場合はボランティア一覧を変更しない。
func (r *PostgresHelpRequestRepo) Update(
	ctx context.Context,
	id string,
	patch model.HelpRequestPatch,
	volunteers []identifier.Identifier,
) (*model.HelpRequest, error) {
	var volunteerArg any
	if volunteers != nil {
		ids := make([]string, len(volunteers))
		for i, v := range volunteers {
			ids[i] = v.String()
		}
		volunteerArg = pq.Array(ids)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE help_requests SET
		   description = COALESCE($2, description),
		   location = COALESCE($3, location),
		   is_resolved = COALESCE($4, is_resolved),
		   volunteer_ids = COALESCE($5::text[], volunteer_ids),
		   updated_at = $6
		 WHERE id = $1`,
		id, patch.Description, patch.Location, patch.IsResolved, volunteerArg, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update help request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.FindByID(ctx, id)
}

// MarkResolved は支援依頼を解決済みにする。対象が存在した場合はtrueを返す。
func (r *PostgresHelpRequestRepo) MarkResolved(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE help_requests SET is_resolved = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve help request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete は支援依頼を削除して削除前の支援依頼を返す。見つからない場合はnilを返す。
func (r *PostgresHelpRequestRepo) Delete(ctx context.Context, id string) (*model.HelpRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`WITH h AS (DELETE FROM help_requests WHERE id = $1 RETURNING *)
		 SELECT `+helpRequestColumns+`
		 FROM h
		 LEFT JOIN user_refs u ON u.id = h.author_id`,
		id,
	)
	return r.scanOne(ctx, row)
}

// scanOne は1件の支援依頼を読み取り、ボランティアの表示名を補完する。
func (r *PostgresHelpRequestRepo) scanOne(ctx context.Context, row *sql.Row) (*model.HelpRequest, error) {
	req, err := scanHelpRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	requests := []model.HelpRequest{*req}
	if err := r.populateVolunteers(ctx, requests); err != nil {
		return nil, err
	}
	return &requests[0], nil
}

// populateVolunteers はボランティアの表示名をuser_refsから一括で補完する。
// user_refsに存在しないボランティアは表示名が空のまま残る。
func (r *PostgresHelpRequestRepo) populateVolunteers(ctx context.Context, requests []model.HelpRequest) error {
	seen := make(map[string]bool)
	var ids []string
	for _, req := range requests {
		for _, v := range req.Volunteers {
			if !seen[v.ID.String()] {
				seen[v.ID.String()] = true
				ids = append(ids, v.ID.String())
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name FROM user_refs WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load volunteer refs: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("failed to scan volunteer ref: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate volunteer refs: %w", err)
	}

	for i := range requests {
		for j := range requests[i].Volunteers {
			requests[i].Volunteers[j].DisplayName = names[requests[i].Volunteers[j].ID.String()]
		}
	}
	return nil
}

// scanHelpRequest は1行分の支援依頼を読み取る。
// ボランティアは識別子のみが埋まった状態で返す。
func scanHelpRequest(s rowScanner) (*model.HelpRequest, error) {
	req := &model.HelpRequest{}
	var authorID string
	var volunteerIDs []string
	var updatedAt sql.NullTime

	err := s.Scan(
		&req.ID, &authorID, &req.Author.DisplayName,
		&req.Description, &req.Location, &req.IsResolved,
		pq.Array(&volunteerIDs), &req.CreatedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan help request: %w", err)
	}

	req.Author.ID = identifier.Identifier(authorID)
	req.Volunteers = make([]model.UserSnapshot, len(volunteerIDs))
	for i, v := range volunteerIDs {
		req.Volunteers[i] = model.UserSnapshot{ID: identifier.Identifier(v)}
	}
	if updatedAt.Valid {
		req.UpdatedAt = &updatedAt.Time
	}
	return req, nil
}

// snapshotIDs はスナップショット列から識別子の文字列を順序どおりに取り出す。
func snapshotIDs(snapshots []model.UserSnapshot) []string {
	ids := make([]string, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.ID.String()
	}
	return ids
}

// compile-time interface check
var _ HelpRequestRepository = (*PostgresHelpRequestRepo)(nil)
