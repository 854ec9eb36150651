// Package helprequest は支援依頼のドメインロジックを提供する。
package helprequest

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
	RepairHelpRequest(ctx context.Context, req model.HelpRequest, credential string) model.HelpRequest
	RepairHelpRequests(ctx context.Context, reqs []model.HelpRequest, credential string) []model.HelpRequest
}

// CreateInput は支援依頼作成の入力。
type CreateInput struct {
	Author      string
	Description string
	Location    string
	IsResolved  bool
	Volunteers  []string
}

// UpdateInput は支援依頼更新の入力。nilのフィールドは変更しない。
// Volunteersに有効な識別子が1件もなければボランティア一覧は変更しない。
type UpdateInput struct {
	Description *string
	Location    *string
	IsResolved  *bool
	Volunteers  []string
}

// Service は支援依頼のサービス層。
type Service struct {
	repo      repository.HelpRequestRepository
	resolver  Resolver
	repairer  Repairer
	sanitizer security.ContentSanitizerService
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.HelpRequestRepository, resolver Resolver, repairer Repairer, sanitizer security.ContentSanitizerService) *Service {
	return &Service{
		repo:      repo,
		resolver:  resolver,
		repairer:  repairer,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は全支援依頼を返す。
func (s *Service) List(ctx context.Context, caller model.Caller) ([]model.HelpRequest, error) {
	reqs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("支援依頼一覧の取得に失敗しました: %w", err)
	}
	return s.repairer.RepairHelpRequests(ctx, reqs, caller.Credential), nil
}

// Create は支援依頼を作成する。
// 作成者と有効なボランティアは保存前に参照解決し、不正な識別子のボランティアは捨てる。
func (s *Service) Create(ctx context.Context, caller model.Caller, in CreateInput) (*model.HelpRequest, error) {
	description := strings.TrimSpace(s.sanitizer.Sanitize(in.Description))
	if description == "" {
		return nil, model.NewValidationError("description")
	}

	var author model.UserSnapshot
	if identifier.Validate(in.Author) {
		author = s.resolver.Resolve(ctx, in.Author, caller.Credential)
	} else {
		author = s.resolver.ResolveCaller(ctx, caller)
	}

	req := &model.HelpRequest{
		ID:          uuid.NewString(),
		Author:      author,
		Description: description,
		Location:    s.sanitizer.StripTags(in.Location),
		IsResolved:  in.IsResolved,
		Volunteers:  s.resolveVolunteers(ctx, in.Volunteers, caller.Credential),
		CreatedAt:   s.now().UTC(),
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("支援依頼の作成に失敗しました: %w", err)
	}

	slog.Info("支援依頼を作成しました",
		slog.String("help_request_id", req.ID),
		slog.String("author_id", req.Author.ID.String()),
		slog.Int("volunteers", len(req.Volunteers)),
	)

	return req, nil
}

// Update は支援依頼を部分更新する。
func (s *Service) Update(ctx context.Context, caller model.Caller, id string, in UpdateInput) (*model.HelpRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewHelpRequestNotFoundError(id)
	}

	patch := model.HelpRequestPatch{IsResolved: in.IsResolved}
	if in.Description != nil {
		v := strings.TrimSpace(s.sanitizer.Sanitize(*in.Description))
		if v == "" {
			return nil, model.NewValidationError("description")
		}
		patch.Description = &v
	}
	if in.Location != nil {
		v := s.sanitizer.StripTags(*in.Location)
		patch.Location = &v
	}

	var volunteerIDs []identifier.Identifier
	for _, v := range s.resolveVolunteers(ctx, in.Volunteers, caller.Credential) {
		volunteerIDs = append(volunteerIDs, v.ID)
	}

	req, err := s.repo.Update(ctx, id, patch, volunteerIDs)
	if err != nil {
		return nil, fmt.Errorf("支援依頼の更新に失敗しました: %w", err)
	}
	if req == nil {
		return nil, model.NewHelpRequestNotFoundError(id)
	}

	repaired := s.repairer.RepairHelpRequest(ctx, *req, caller.Credential)
	return &repaired, nil
}

// Resolve は支援依頼を解決済みにする。
func (s *Service) Resolve(ctx context.Context, caller model.Caller, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewHelpRequestNotFoundError(id)
	}

	found, err := s.repo.MarkResolved(ctx, id)
	if err != nil {
		return fmt.Errorf("支援依頼の解決に失敗しました: %w", err)
	}
	if !found {
		return model.NewHelpRequestNotFoundError(id)
	}

	slog.Info("支援依頼を解決済みにしました",
		slog.String("help_request_id", id),
		slog.String("user", caller.Username),
	)
	return nil
}

// Delete は支援依頼を削除し、削除した支援依頼を返す。
func (s *Service) Delete(ctx context.Context, caller model.Caller, id string) (*model.HelpRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewHelpRequestNotFoundError(id)
	}

	req, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("支援依頼の削除に失敗しました: %w", err)
	}
	if req == nil {
		return nil, model.NewHelpRequestNotFoundError(id)
	}

	slog.Info("支援依頼を削除しました",
		slog.String("help_request_id", id),
		slog.String("user", caller.Username),
	)

	repaired := s.repairer.RepairHelpRequest(ctx, *req, caller.Credential)
	return &repaired, nil
}

// resolveVolunteers は有効な識別子のみを入力順に解決する。
// 不正な識別子は仮ユーザーを作らずに捨てる。
func (s *Service) resolveVolunteers(ctx context.Context, raw []string, credential string) []model.UserSnapshot {
	var out []model.UserSnapshot
	for _, r := range raw {
		if !identifier.Validate(r) {
			slog.Warn("不正なボランティアIDを無視します", slog.String("raw_id", r))
			continue
		}
		out = append(out, s.resolver.Resolve(ctx, r, credential))
	}
	return out
}
