// Package user はユーザーディレクトリのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/kizuna/internal/identity"
	"github.com/hitoshi/kizuna/internal/model"
	"github.com/hitoshi/kizuna/internal/repository"
)

// Service はユーザーディレクトリのサービス層。
// 認証サービスの一覧を優先し、取得できない場合はローカルの参照ストアを返す。
type Service struct {
	lookup identity.Lookup
	store  repository.UserRefRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(lookup identity.Lookup, store repository.UserRefRepository) *Service {
	return &Service{lookup: lookup, store: store}
}

// ListUsers はユーザー一覧を返す。
func (s *Service) ListUsers(ctx context.Context, credential string) ([]model.UserSnapshot, error) {
	if s.lookup != nil {
		users, err := s.lookup.FetchAllUsers(ctx, credential)
		if err == nil {
			return users, nil
		}
		slog.Warn("認証サービスからユーザー一覧を取得できないためローカルの参照を返します",
			slog.String("error", err.Error()),
		)
	}

	users, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}
