package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kizuna/internal/helprequest"
	"github.com/hitoshi/kizuna/internal/middleware"
	"github.com/hitoshi/kizuna/internal/model"
	"github.com/hitoshi/kizuna/internal/post"
)

// --- モック定義 ---

type mockUserService struct {
	listUsersFn func(ctx context.Context, credential string) ([]model.UserSnapshot, error)
}

func (m *mockUserService) ListUsers(ctx context.Context, credential string) ([]model.UserSnapshot, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, credential)
	}
	return nil, nil
}

type mockPostService struct {
	listFn   func(ctx context.Context, caller model.Caller) ([]model.Post, error)
	createFn func(ctx context.Context, caller model.Caller, in post.CreateInput) (*model.Post, error)
	updateFn func(ctx context.Context, caller model.Caller, id string, in post.UpdateInput) (*model.Post, error)
	deleteFn func(ctx context.Context, caller model.Caller, id string) (*model.Post, error)
}

func (m *mockPostService) List(ctx context.Context, caller model.Caller) ([]model.Post, error) {
	if m.listFn != nil {
		return m.listFn(ctx, caller)
	}
	return nil, nil
}

func (m *mockPostService) Create(ctx context.Context, caller model.Caller, in post.CreateInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, in)
	}
	return nil, nil
}

func (m *mockPostService) Update(ctx context.Context, caller model.Caller, id string, in post.UpdateInput) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, caller, id, in)
	}
	return nil, nil
}

func (m *mockPostService) Delete(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, caller, id)
	}
	return nil, nil
}

type mockHelpRequestService struct {
	listFn    func(ctx context.Context, caller model.Caller) ([]model.HelpRequest, error)
	createFn  func(ctx context.Context, caller model.Caller, in helprequest.CreateInput) (*model.HelpRequest, error)
	updateFn  func(ctx context.Context, caller model.Caller, id string, in helprequest.UpdateInput) (*model.HelpRequest, error)
	resolveFn func(ctx context.Context, caller model.Caller, id string) error
	deleteFn  func(ctx context.Context, caller model.Caller, id string) (*model.HelpRequest, error)
}

func (m *mockHelpRequestService) List(ctx context.Context, caller model.Caller) ([]model.HelpRequest, error) {
	if m.listFn != nil {
		return m.listFn(ctx, caller)
	}
	return nil, nil
}

func (m *mockHelpRequestService) Create(ctx context.Context, caller model.Caller, in helprequest.CreateInput) (*model.HelpRequest, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, in)
	}
	return nil, nil
}

func (m *mockHelpRequestService) Update(ctx context.Context, caller model.Caller, id string, in helprequest.UpdateInput) (*model.HelpRequest, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, caller, id, in)
	}
	return nil, nil
}

func (m *mockHelpRequestService) Resolve(ctx context.Context, caller model.Caller, id string) error {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, caller, id)
	}
	return nil
}

func (m *mockHelpRequestService) Delete(ctx context.Context, caller model.Caller, id string) (*model.HelpRequest, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, caller, id)
	}
	return nil, nil
}

// --- テストヘルパー ---

var testCaller = model.Caller{Username: "alice", UserID: "507f1f77bcf86cd799439011", Credential: "raw-token"}

// withCaller はテスト用にリクエストコンテキストへ呼び出し元を注入するヘルパー。
func withCaller(r *http.Request) *http.Request {
	return r.WithContext(middleware.ContextWithCaller(r.Context(), testCaller))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
