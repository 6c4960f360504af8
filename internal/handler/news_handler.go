package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// NewsServiceInterface はニュースハンドラーが必要とするストアインターフェース。
type NewsServiceInterface interface {
	// List はフィルタ条件に合致する記事を返す。
	List(ctx context.Context, filter model.NewsFilter) ([]*model.News, error)
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.News, error)
	// Delete は指定IDの記事を削除する。依存する見出し枠も削除される。
	Delete(ctx context.Context, id string) error
}

// CurationServiceInterface はキュレーション操作のサービスインターフェース。
// ニュース・見出し・管理の各ハンドラーから共用される。
type CurationServiceInterface interface {
	// Publish は記事を公開する。
	Publish(ctx context.Context, id string) (*model.News, error)
	// Unpublish は記事を非公開に戻す。
	Unpublish(ctx context.Context, id string) (*model.News, error)
	// SetImage は記事の画像URLを設定する。空文字列は画像の除去を意味する。
	SetImage(ctx context.Context, id, imageURL string) (*model.News, error)
	// MarkSlider は画像付きの記事をスライダーへ掲載する。
	MarkSlider(ctx context.Context, id string) (*model.News, error)
	// UnmarkSlider は記事をスライダーから外す。
	UnmarkSlider(ctx context.Context, id string) (*model.News, error)
	// AssignHeadline は記事を見出し枠へ割り当てる。
	AssignHeadline(ctx context.Context, slotType model.SlotType, rank int, newsID string) (*model.HeadlineSlot, error)
	// RemoveHeadline は見出し枠の割り当てを解除する。
	RemoveHeadline(ctx context.Context, id string) error
	// ListHeadlines は全見出し枠を記事情報付きで返す。
	ListHeadlines(ctx context.Context) ([]model.HeadlineWithNews, error)
	// MarkRecentSliderEligible は直近の公開済み・画像付き記事を一括でスライダーへ掲載する。
	MarkRecentSliderEligible(ctx context.Context, sourceName string, since time.Time) (int64, error)
	// ResetAutoPublish は全ソースの自動公開設定を一括で無効化する。
	ResetAutoPublish(ctx context.Context) (int, error)
}

// NewsHandler はニュース記事の読み出しとキュレーション操作のHTTPハンドラー。
type NewsHandler struct {
	service  NewsServiceInterface
	curation CurationServiceInterface
}

// NewNewsHandler はNewsHandlerを生成する。
func NewNewsHandler(service NewsServiceInterface, curation CurationServiceInterface) *NewsHandler {
	return &NewsHandler{
		service:  service,
		curation: curation,
	}
}

// setImageRequest は画像URL設定リクエストのボディ。
type setImageRequest struct {
	ImageURL string `json:"image_url"`
}

// newsResponse は記事情報のAPIレスポンス。
type newsResponse struct {
	ID          string     `json:"id"`
	SourceName  string     `json:"source_name"`
	Category    string     `json:"category"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Content     string     `json:"content"`
	OriginalURL string     `json:"original_url"`
	ImageURL    string     `json:"image_url"`
	IsPublished bool       `json:"is_published"`
	IsSlider    bool       `json:"is_slider"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toNewsResponse(n *model.News) newsResponse {
	return newsResponse{
		ID:          n.ID,
		SourceName:  n.SourceName,
		Category:    n.Category,
		Title:       n.Title,
		Summary:     n.Summary,
		Content:     n.Content,
		OriginalURL: n.OriginalURL,
		ImageURL:    n.ImageURL,
		IsPublished: n.IsPublished,
		IsSlider:    n.IsSlider,
		PublishedAt: n.PublishedAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

// defaultNewsLimit は一覧取得のデフォルト件数。
const defaultNewsLimit = 50

// maxNewsLimit は一覧取得の上限件数。
const maxNewsLimit = 200

// parseNewsFilter はクエリパラメータからNewsFilterを構築する。
func parseNewsFilter(r *http.Request) model.NewsFilter {
	q := r.URL.Query()

	limit := defaultNewsLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxNewsLimit {
		limit = maxNewsLimit
	}

	return model.NewsFilter{
		SourceName:    q.Get("source"),
		Category:      q.Get("category"),
		PublishedOnly: q.Get("published") == "true",
		Limit:         limit,
	}
}

// ListNews は記事一覧を返す。source, category, published, limitで絞り込める。
// GET /api/news
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), parseNewsFilter(r))
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]newsResponse, 0, len(items))
	for _, n := range items {
		resp = append(resp, toNewsResponse(n))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListSliderNews はスライダー掲載中の公開済み記事一覧を返す。
// GET /api/news/slider
func (h *NewsHandler) ListSliderNews(w http.ResponseWriter, r *http.Request) {
	filter := parseNewsFilter(r)
	filter.PublishedOnly = true
	filter.SliderOnly = true

	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]newsResponse, 0, len(items))
	for _, n := range items {
		resp = append(resp, toNewsResponse(n))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetNews は記事詳細を返す。
// GET /api/news/:id
func (h *NewsHandler) GetNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if n == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NEWS_NOT_FOUND",
			"指定された記事が見つかりません。")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNewsResponse(n))
}

// PublishNews は記事を公開する。
// PUT /api/news/:id/publish
func (h *NewsHandler) PublishNews(w http.ResponseWriter, r *http.Request) {
	n, err := h.curation.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNewsResponse(n))
}

// UnpublishNews は記事を非公開に戻す。
// PUT /api/news/:id/unpublish
func (h *NewsHandler) UnpublishNews(w http.ResponseWriter, r *http.Request) {
	n, err := h.curation.Unpublish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNewsResponse(n))
}

// SetNewsImage は記事の画像URLを設定する。空文字列で画像を除去する。
// PUT /api/news/:id/image
func (h *NewsHandler) SetNewsImage(w http.ResponseWriter, r *http.Request) {
	var req setImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}

	n, err := h.curation.SetImage(r.Context(), chi.URLParam(r, "id"), req.ImageURL)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNewsResponse(n))
}

// MarkNewsSlider は記事をスライダーへ掲載する。画像のない記事は422になる。
// PUT /api/news/:id/slider
func (h *NewsHandler) MarkNewsSlider(w http.ResponseWriter, r *http.Request) {
	n, err := h.curation.MarkSlider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNewsResponse(n))
}

// UnmarkNewsSlider は記事をスライダーから外す。
// DELETE /api/news/:id/slider
func (h *NewsHandler) UnmarkNewsSlider(w http.ResponseWriter, r *http.Request) {
	n, err := h.curation.UnmarkSlider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toNewsResponse(n))
}

// DeleteNews は記事を削除する。依存する見出し枠も一緒に削除される。
// DELETE /api/news/:id
func (h *NewsHandler) DeleteNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if n == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NEWS_NOT_FOUND",
			"指定された記事が見つかりません。")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
