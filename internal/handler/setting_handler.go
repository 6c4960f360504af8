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

// SettingServiceInterface は設定ハンドラーが必要とするストアインターフェース。
type SettingServiceInterface interface {
	// List は全ソース設定を返す。
	List(ctx context.Context) ([]*model.BotSetting, error)
	// FindBySource は指定ソースの設定を取得する。見つからない場合はnilを返す。
	FindBySource(ctx context.Context, sourceName string) (*model.BotSetting, error)
	// Upsert はソース設定を冪等にUPSERTする。
	Upsert(ctx context.Context, s *model.BotSetting) error
}

// SettingHandler はソース単位のボット設定のHTTPハンドラー。
type SettingHandler struct {
	service SettingServiceInterface
}

// NewSettingHandler はSettingHandlerを生成する。
func NewSettingHandler(service SettingServiceInterface) *SettingHandler {
	return &SettingHandler{service: service}
}

// settingRequest は設定UPSERTリクエストのボディ。
type settingRequest struct {
	AutoPublish         bool     `json:"auto_publish"`
	BoilerplatePatterns []string `json:"boilerplate_patterns"`
}

// settingResponse はソース設定のAPIレスポンス。
type settingResponse struct {
	SourceName          string    `json:"source_name"`
	AutoPublish         bool      `json:"auto_publish"`
	BoilerplatePatterns []string  `json:"boilerplate_patterns"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toSettingResponse(s *model.BotSetting) settingResponse {
	patterns := s.BoilerplatePatterns
	if patterns == nil {
		patterns = []string{}
	}
	return settingResponse{
		SourceName:          s.SourceName,
		AutoPublish:         s.AutoPublish,
		BoilerplatePatterns: patterns,
		UpdatedAt:           s.UpdatedAt,
	}
}

// ListSettings は全ソース設定の一覧を返す。
// GET /api/settings
func (h *SettingHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]settingResponse, 0, len(settings))
	for _, s := range settings {
		resp = append(resp, toSettingResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSetting は指定ソースの設定を返す。
// GET /api/settings/:source
func (h *SettingHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	sourceName := chi.URLParam(r, "source")

	s, err := h.service.FindBySource(r.Context(), sourceName)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if s == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "SETTING_NOT_FOUND",
			"指定されたソースの設定が見つかりません。")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingResponse(s))
}

// UpsertSetting は指定ソースの設定を作成または更新する。
// PUT /api/settings/:source
func (h *SettingHandler) UpsertSetting(w http.ResponseWriter, r *http.Request) {
	sourceName := strings.TrimSpace(chi.URLParam(r, "source"))
	if sourceName == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"ソース名は必須です。")
		return
	}

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}

	// 空白のみのパターンは品質フィルタで全記事を落としてしまうため弾く
	patterns := make([]string, 0, len(req.BoilerplatePatterns))
	for _, p := range req.BoilerplatePatterns {
		p = strings.TrimSpace(p)
		if p != "" {
			patterns = append(patterns, p)
		}
	}

	s := &model.BotSetting{
		ID:                  uuid.NewString(),
		SourceName:          sourceName,
		AutoPublish:         req.AutoPublish,
		BoilerplatePatterns: patterns,
		UpdatedAt:           time.Now(),
	}

	if err := h.service.Upsert(r.Context(), s); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingResponse(s))
}
