package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/kizuna/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// ListUsers は認証サービスのユーザー一覧を返す。
	// 認証サービスに到達できない場合はローカルの参照ストアの内容を返す。
	ListUsers(ctx context.Context, credential string) ([]model.UserSnapshot, error)
}

// UserHandler はユーザーディレクトリのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// ListUsers はユーザー一覧を返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	users, err := h.service.ListUsers(r.Context(), caller.Credential)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponses(users))
}
