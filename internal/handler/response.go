package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kizuna/internal/middleware"
	"github.com/hitoshi/kizuna/internal/model"
)

// userResponse はユーザー参照のAPIレスポンス。
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID        string       `json:"id"`
	Author    userResponse `json:"author"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	Category  string       `json:"category"`
	AISummary string       `json:"aiSummary,omitempty"`
	CreatedAt string       `json:"createdAt"`
	UpdateAt  *string      `json:"updateAt"`
}

// helpRequestResponse は支援依頼のAPIレスポンス。
type helpRequestResponse struct {
	ID          string         `json:"id"`
	Author      userResponse   `json:"author"`
	Description string         `json:"description"`
	Location    string         `json:"location"`
	IsResolved  bool           `json:"isResolved"`
	Volunteers  []userResponse `json:"volunteers"`
	CreatedAt   string         `json:"createdAt"`
	UpdateAt    *string        `json:"updateAt"`
}

func toUserResponse(s model.UserSnapshot) userResponse {
	return userResponse{ID: s.ID.String(), Username: s.DisplayName}
}

func toUserResponses(users []model.UserSnapshot) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:        p.ID,
		Author:    toUserResponse(p.Author),
		Title:     p.Title,
		Content:   p.Content,
		Category:  p.Category,
		AISummary: p.AISummary,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdateAt:  formatTime(p.UpdatedAt),
	}
}

func toHelpRequestResponse(h *model.HelpRequest) helpRequestResponse {
	return helpRequestResponse{
		ID:          h.ID,
		Author:      toUserResponse(h.Author),
		Description: h.Description,
		Location:    h.Location,
		IsResolved:  h.IsResolved,
		Volunteers:  toUserResponses(h.Volunteers),
		CreatedAt:   h.CreatedAt.UTC().Format(time.RFC3339),
		UpdateAt:    formatTime(h.UpdatedAt),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// callerOrUnauthorized はコンテキストから呼び出し元を取り出す。
// 見つからない場合は401を書き込んでfalseを返す。
func callerOrUnauthorized(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthenticatedError())
		return model.Caller{}, false
	}
	return caller, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
