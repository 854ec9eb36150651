package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
)

// postColumns は投稿の取得に使うカラム一覧。
// 著者の表示名はuser_refsとのLEFT JOINで補完し、未登録の場合は空文字になる。
const postColumns = `p.id, p.author_id, COALESCE(u.display_name, ''), p.title, p.content,
	p.category, COALESCE(p.ai_summary, ''), p.created_at, p.updated_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// List は全投稿を作成日時の降順で返す。
func (r *PostgresPostRepo) List(ctx context.Context) ([]model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts p
		 LEFT JOIN user_refs u ON u.id = p.author_id
		 ORDER BY p.created_at DESC, p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts p
		 LEFT JOIN user_refs u ON u.id = p.author_id
		 WHERE p.id = $1`,
		id,
	)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, title, content, category, ai_summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		post.ID, post.Author.ID.String(), post.Title, post.Content,
		post.Category, post.AISummary, post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Update は投稿を部分更新して更新後の投稿を返す。見つからない場合はnilを返す。
func (r *PostgresPostRepo) Update(ctx context.Context, id string, patch model.PostPatch) (*model.Post, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET
		   title = COALESCE($2, title),
		   content = COALESCE($3, content),
		   category = COALESCE($4, category),
		   ai_summary = COALESCE($5, ai_summary),
		   updated_at = $6
		 WHERE id = $1`,
		id, patch.Title, patch.Content, patch.Category, patch.AISummary, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
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

// Delete は投稿を削除して削除前の投稿を返す。見つからない場合はnilを返す。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`WITH p AS (DELETE FROM posts WHERE id = $1 RETURNING *)
		 SELECT `+postColumns+`
		 FROM p
		 LEFT JOIN user_refs u ON u.id = p.author_id`,
		id,
	)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPost は1行分の投稿を読み取る。
// sql.ErrNoRowsはラップせずにそのまま返す。
func scanPost(s rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var authorID string
	var updatedAt sql.NullTime

	err := s.Scan(
		&post.ID, &authorID, &post.Author.DisplayName,
		&post.Title, &post.Content, &post.Category, &post.AISummary,
		&post.CreatedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}

	post.Author.ID = identifier.Identifier(authorID)
	if updatedAt.Valid {
		post.UpdatedAt = &updatedAt.Time
	}
	return post, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
