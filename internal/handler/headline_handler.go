package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// HeadlineHandler は見出し枠管理のHTTPハンドラー。
type HeadlineHandler struct {
	curation CurationServiceInterface
}

// NewHeadlineHandler はHeadlineHandlerを生成する。
func NewHeadlineHandler(curation CurationServiceInterface) *HeadlineHandler {
	return &HeadlineHandler{curation: curation}
}

// assignHeadlineRequest は見出し枠割り当てリクエストのボディ。
type assignHeadlineRequest struct {
	SlotType string `json:"slot_type"`
	Rank     int    `json:"rank"`
	NewsID   string `json:"news_id"`
}

// headlineResponse は見出し枠のAPIレスポンス。記事情報を含む。
type headlineResponse struct {
	ID        string    `json:"id"`
	SlotType  string    `json:"slot_type"`
	Rank      int       `json:"rank"`
	NewsID    string    `json:"news_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// ListHeadlines は全見出し枠を記事情報付きでslot_type, rank順に返す。
// GET /api/headlines
func (h *HeadlineHandler) ListHeadlines(w http.ResponseWriter, r *http.Request) {
	slots, err := h.curation.ListHeadlines(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]headlineResponse, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, headlineResponse{
			ID:        s.ID,
			SlotType:  string(s.SlotType),
			Rank:      s.Rank,
			NewsID:    s.NewsID,
			Title:     s.Title,
			Category:  s.Category,
			ImageURL:  s.ImageURL,
			CreatedAt: s.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// AssignHeadline は記事を見出し枠へ割り当てる。
// 同一ランクの既存占有者は置き換えられる。
// POST /api/headlines
func (h *HeadlineHandler) AssignHeadline(w http.ResponseWriter, r *http.Request) {
	var req assignHeadlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}
	if req.NewsID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"news_idは必須です。")
		return
	}

	slot, err := h.curation.AssignHeadline(
		r.Context(), model.SlotType(req.SlotType), req.Rank, req.NewsID,
	)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(headlineResponse{
		ID:        slot.ID,
		SlotType:  string(slot.SlotType),
		Rank:      slot.Rank,
		NewsID:    slot.NewsID,
		CreatedAt: slot.CreatedAt,
	})
}

// RemoveHeadline は見出し枠の割り当てを解除する。
// DELETE /api/headlines/:id
func (h *HeadlineHandler) RemoveHeadline(w http.ResponseWriter, r *http.Request) {
	if err := h.curation.RemoveHeadline(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
