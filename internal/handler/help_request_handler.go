package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kizuna/internal/helprequest"
	"github.com/hitoshi/kizuna/internal/model"
)

// HelpRequestServiceInterface は支援依頼ハンドラーが必要とするサービスインターフェース。
type HelpRequestServiceInterface interface {
	List(ctx context.Context, caller model.Caller) ([]model.HelpRequest, error)
	Create(ctx context.Context, caller model.Caller, in helprequest.CreateInput) (*model.HelpRequest, error)
	Update(ctx context.Context, caller model.Caller, id string, in helprequest.UpdateInput) (*model.HelpRequest, error)
	Resolve(ctx context.Context, caller model.Caller, id string) error
	Delete(ctx context.Context, caller model.Caller, id string) (*model.HelpRequest, error)
}

// HelpRequestHandler は支援依頼のHTTPハンドラー。
type HelpRequestHandler struct {
	service HelpRequestServiceInterface
}

// NewHelpRequestHandler はHelpRequestHandlerを生成する。
func NewHelpRequestHandler(service HelpRequestServiceInterface) *HelpRequestHandler {
	return &HelpRequestHandler{service: service}
}

type createHelpRequestRequest struct {
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	IsResolved  bool     `json:"isResolved"`
	Volunteers  []string `json:"volunteers"`
}

type updateHelpRequestRequest struct {
	Description *string  `json:"description"`
	Location    *string  `json:"location"`
	IsResolved  *bool    `json:"isResolved"`
	Volunteers  []string `json:"volunteers"`
}

// ListHelpRequests は支援依頼一覧を返す。
// GET /api/help-requests
func (h *HelpRequestHandler) ListHelpRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	reqs, err := h.service.List(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]helpRequestResponse, 0, len(reqs))
	for i := range reqs {
		resp = append(resp, toHelpRequestResponse(&reqs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateHelpRequest は支援依頼を作成する。
// POST /api/help-requests
func (h *HelpRequestHandler) CreateHelpRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req createHelpRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hr, err := h.service.Create(r.Context(), caller, helprequest.CreateInput{
		Author:      req.Author,
		Description: req.Description,
		Location:    req.Location,
		IsResolved:  req.IsResolved,
		Volunteers:  req.Volunteers,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toHelpRequestResponse(hr))
}

// UpdateHelpRequest は支援依頼を部分更新する。
// PATCH /api/help-requests/{id}
func (h *HelpRequestHandler) UpdateHelpRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req updateHelpRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hr, err := h.service.Update(r.Context(), caller, chi.URLParam(r, "id"), helprequest.UpdateInput{
		Description: req.Description,
		Location:    req.Location,
		IsResolved:  req.IsResolved,
		Volunteers:  req.Volunteers,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toHelpRequestResponse(hr))
}

// ResolveHelpRequest は支援依頼を解決済みにする。
// POST /api/help-requests/{id}/resolve
func (h *HelpRequestHandler) ResolveHelpRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.service.Resolve(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

// DeleteHelpRequest は支援依頼を削除し、削除した支援依頼を返す。
// DELETE /api/help-requests/{id}
func (h *HelpRequestHandler) DeleteHelpRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(w, r)
	if !ok {
		return
	}

	hr, err := h.service.Delete(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toHelpRequestResponse(hr))
}
