// Package post はコミュニティ投稿のドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/kizuna/internal/identifier"
	"github.com/hitoshi/kizuna/internal/model"
	"github.com/hitoshi/kizuna/internal/repository"
	"github.com/hitoshi/kizuna/internal/security"
)

// Resolver はユーザー参照解決のインターフェース。
type Resolver interface {
	Resolve(ctx context.Context, rawID, credential string) model.UserSnapshot
	ResolveCaller(ctx context.Context, caller model.Caller) model.UserSnapshot
}

// Repairer は読み出し時の参照補修のインターフェース。
type Repairer interface {
	RepairPost(ctx context.Context, post model.Post, credential string) model.Post
	RepairPosts(ctx context.Context, posts []model.Post, credential string) []model.Post
}

// CreateInput は投稿作成の入力。
// Authorが正しい識別子でない場合は呼び出し元を作成者とする。
type CreateInput struct {
	Author    string
	Title     string
	Content   string
	Category  string
	AISummary string
}

// UpdateInput は投稿更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Title     *string
	Content   *string
	Category  *string
	AISummary *string
}

// Service は投稿のサービス層。
type Service struct {
	repo      repository.PostRepository
	resolver  Resolver
	repairer  Repairer
	sanitizer security.ContentSanitizerService
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.PostRepository, resolver Resolver, repairer Repairer, sanitizer security.ContentSanitizerService) *Service {
	return &Service{
		repo:      repo,
		resolver:  resolver,
		repairer:  repairer,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は全投稿を新しい順に返す。作成者は補修済み。
func (s *Service) List(ctx context.Context, caller model.Caller) ([]model.Post, error) {
	posts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return s.repairer.RepairPosts(ctx, posts, caller.Credential), nil
}

// Create は投稿を作成する。作成者は保存前に参照解決する。
func (s *Service) Create(ctx context.Context, caller model.Caller, in CreateInput) (*model.Post, error) {
	title := s.sanitizer.StripTags(in.Title)
	if title == "" {
		return nil, model.NewValidationError("title")
	}
	content := strings.TrimSpace(s.sanitizer.Sanitize(in.Content))
	if content == "" {
		return nil, model.NewValidationError("content")
	}
	category := s.sanitizer.StripTags(in.Category)
	if category == "" {
		return nil, model.NewValidationError("category")
	}

	var author model.UserSnapshot
	if identifier.Validate(in.Author) {
		author = s.resolver.Resolve(ctx, in.Author, caller.Credential)
	} else {
		author = s.resolver.ResolveCaller(ctx, caller)
	}

	post := &model.Post{
		ID:        uuid.NewString(),
		Author:    author,
		Title:     title,
		Content:   content,
		Category:  category,
		AISummary: strings.TrimSpace(s.sanitizer.Sanitize(in.AISummary)),
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	slog.Info("投稿を作成しました",
		slog.String("post_id", post.ID),
		slog.String("author_id", post.Author.ID.String()),
	)

	return post, nil
}

// Update は投稿を部分更新する。
func (s *Service) Update(ctx context.Context, caller model.Caller, id string, in UpdateInput) (*model.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewPostNotFoundError(id)
	}

	var patch model.PostPatch
	if in.Title != nil {
		v := s.sanitizer.StripTags(*in.Title)
		if v == "" {
			return nil, model.NewValidationError("title")
		}
		patch.Title = &v
	}
	if in.Content != nil {
		v := strings.TrimSpace(s.sanitizer.Sanitize(*in.Content))
		if v == "" {
			return nil, model.NewValidationError("content")
		}
		patch.Content = &v
	}
	if in.Category != nil {
		v := s.sanitizer.StripTags(*in.Category)
		if v == "" {
			return nil, model.NewValidationError("category")
		}
		patch.Category = &v
	}
	if in.AISummary != nil {
		v := strings.TrimSpace(s.sanitizer.Sanitize(*in.AISummary))
		patch.AISummary = &v
	}

	post, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	repaired := s.repairer.RepairPost(ctx, *post, caller.Credential)
	return &repaired, nil
}

// Delete は投稿を削除し、削除した投稿を返す。
func (s *Service) Delete(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewPostNotFoundError(id)
	}

	post, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	slog.Info("投稿を削除しました",
		slog.String("post_id", id),
		slog.String("user", caller.Username),
	)

	repaired := s.repairer.RepairPost(ctx, *post, caller.Credential)
	return &repaired, nil
}
