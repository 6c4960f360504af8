// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// MappingServiceInterface はマッピングハンドラーが必要とするストアインターフェース。
type MappingServiceInterface interface {
	// List は全マッピングをテレメトリ付きで返す。
	List(ctx context.Context) ([]*model.SourceMapping, error)
	// FindByID は指定IDのマッピングを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SourceMapping, error)
	// Create はマッピングを作成する。
	Create(ctx context.Context, m *model.SourceMapping) error
	// Update はマッピングの設定項目を更新する。
	Update(ctx context.Context, m *model.SourceMapping) error
	// Delete は指定IDのマッピングを削除する。
	Delete(ctx context.Context, id string) error
}

// FeedURLValidatorInterface はフィードURLの安全性検証のインターフェース。
// 内部ネットワークを指すURLをポーリング対象として登録させないための防衛線。
type FeedURLValidatorInterface interface {
	// ValidateURL はURLのスキーム・ホスト・IPアドレスを検証する。
	ValidateURL(rawURL string) error
}

// MappingHandler はソースマッピング管理のHTTPハンドラー。
type MappingHandler struct {
	service      MappingServiceInterface
	urlValidator FeedURLValidatorInterface
}

// NewMappingHandler はMappingHandlerを生成する。
func NewMappingHandler(service MappingServiceInterface, urlValidator FeedURLValidatorInterface) *MappingHandler {
	return &MappingHandler{
		service:      service,
		urlValidator: urlValidator,
	}
}

// mappingRequest はマッピング作成・更新リクエストのボディ。
type mappingRequest struct {
	SourceName           string `json:"source_name"`
	SourceCategory       string `json:"source_category"`
	TargetCategory       string `json:"target_category"`
	FeedURL              string `json:"feed_url"`
	IsActive             bool   `json:"is_active"`
	FetchIntervalMinutes int    `json:"fetch_interval_minutes"`
}

// mappingResponse はマッピング情報のAPIレスポンス。
// 直近の実行テレメトリを含み、オペレータの診断画面を駆動する。
type mappingResponse struct {
	ID                   string     `json:"id"`
	SourceName           string     `json:"source_name"`
	SourceCategory       string     `json:"source_category"`
	TargetCategory       string     `json:"target_category"`
	FeedURL              string     `json:"feed_url"`
	IsActive             bool       `json:"is_active"`
	FetchIntervalMinutes int        `json:"fetch_interval_minutes"`
	LastScrapedAt        *time.Time `json:"last_scraped_at"`
	LastStatus           string     `json:"last_status"`
	LastError            string     `json:"last_error"`
	LastItemCount        int        `json:"last_item_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toMappingResponse(m *model.SourceMapping) mappingResponse {
	return mappingResponse{
		ID:                   m.ID,
		SourceName:           m.SourceName,
		SourceCategory:       m.SourceCategory,
		TargetCategory:       m.TargetCategory,
		FeedURL:              m.FeedURL,
		IsActive:             m.IsActive,
		FetchIntervalMinutes: m.FetchIntervalMinutes,
		LastScrapedAt:        m.LastScrapedAt,
		LastStatus:           string(m.LastStatus),
		LastError:            m.LastError,
		LastItemCount:        m.LastItemCount,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// validate はリクエストの必須項目を検証し、問題があればメッセージを返す。
func (req *mappingRequest) validate() string {
	if strings.TrimSpace(req.SourceName) == "" {
		return "source_nameは必須です。"
	}
	if strings.TrimSpace(req.TargetCategory) == "" {
		return "target_categoryは必須です。"
	}
	if strings.TrimSpace(req.FeedURL) == "" {
		return "feed_urlは必須です。"
	}
	if req.FetchIntervalMinutes < 0 {
		return "fetch_interval_minutesは0以上を指定してください。"
	}
	return ""
}

// ListMappings は全マッピングの一覧を返す。
// GET /api/mappings
func (h *MappingHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]mappingResponse, 0, len(mappings))
	for _, m := range mappings {
		resp = append(resp, toMappingResponse(m))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetMapping はマッピング詳細を返す。
// GET /api/mappings/:id
func (h *MappingHandler) GetMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if m == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "MAPPING_NOT_FOUND",
			"指定されたマッピングが見つかりません。")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMappingResponse(m))
}

// CreateMapping はマッピングを新規作成する。
// POST /api/mappings
func (h *MappingHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}
	if msg := req.validate(); msg != "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}
	if err := h.urlValidator.ValidateURL(strings.TrimSpace(req.FeedURL)); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_FEED_URL",
			"feed_urlの安全性検証に失敗しました: "+err.Error())
		return
	}

	now := time.Now()
	m := &model.SourceMapping{
		ID:                   uuid.NewString(),
		SourceName:           strings.TrimSpace(req.SourceName),
		SourceCategory:       strings.TrimSpace(req.SourceCategory),
		TargetCategory:       strings.TrimSpace(req.TargetCategory),
		FeedURL:              strings.TrimSpace(req.FeedURL),
		IsActive:             req.IsActive,
		FetchIntervalMinutes: req.FetchIntervalMinutes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := h.service.Create(r.Context(), m); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toMappingResponse(m))
}

// UpdateMapping はマッピングの設定項目を更新する。テレメトリは対象外。
// PUT /api/mappings/:id
func (h *MappingHandler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}
	if msg := req.validate(); msg != "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}
	if err := h.urlValidator.ValidateURL(strings.TrimSpace(req.FeedURL)); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_FEED_URL",
			"feed_urlの安全性検証に失敗しました: "+err.Error())
		return
	}

	m, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if m == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "MAPPING_NOT_FOUND",
			"指定されたマッピングが見つかりません。")
		return
	}

	m.SourceName = strings.TrimSpace(req.SourceName)
	m.SourceCategory = strings.TrimSpace(req.SourceCategory)
	m.TargetCategory = strings.TrimSpace(req.TargetCategory)
	m.FeedURL = strings.TrimSpace(req.FeedURL)
	m.IsActive = req.IsActive
	m.FetchIntervalMinutes = req.FetchIntervalMinutes
	m.UpdatedAt = time.Now()

	if err := h.service.Update(r.Context(), m); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMappingResponse(m))
}

// DeleteMapping はマッピングを削除する。
// DELETE /api/mappings/:id
func (h *MappingHandler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if m == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "MAPPING_NOT_FOUND",
			"指定されたマッピングが見つかりません。")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
