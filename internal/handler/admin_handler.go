package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/newsdesk/internal/middleware"
)

// SweepServiceInterface は管理ハンドラーが必要とする修復スイープのインターフェース。
type SweepServiceInterface interface {
	// SliderRepair は画像を失った記事のスライダーフラグを落とす。
	SliderRepair(ctx context.Context) (int64, error)
	// HeadlineRepair は画像必須の枠から画像を失った記事を外す。
	HeadlineRepair(ctx context.Context) (int64, error)
	// BoilerplatePurge は定型文に汚染された既存記事を遡及パージする。
	BoilerplatePurge(ctx context.Context) (int64, error)
}

// AdminHandler は修復スイープと一括操作のHTTPハンドラー。
// コマンドキューを経由しない同期実行版で、即時に影響行数を返す。
type AdminHandler struct {
	sweeper  SweepServiceInterface
	curation CurationServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(sweeper SweepServiceInterface, curation CurationServiceInterface) *AdminHandler {
	return &AdminHandler{
		sweeper:  sweeper,
		curation: curation,
	}
}

// sweepResponse はスイープ実行結果のAPIレスポンス。
type sweepResponse struct {
	Affected int64 `json:"affected"`
}

// sliderBulkRequest はスライダー一括掲載リクエストのボディ。
type sliderBulkRequest struct {
	SourceName string `json:"source_name"`
	SinceHours int    `json:"since_hours"`
}

// RunSliderRepair はスライダー修復スイープを即時実行する。
// POST /api/admin/sweeps/slider-repair
func (h *AdminHandler) RunSliderRepair(w http.ResponseWriter, r *http.Request) {
	affected, err := h.sweeper.SliderRepair(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sweepResponse{Affected: affected})
}

// RunHeadlineRepair は見出し枠修復スイープを即時実行する。
// POST /api/admin/sweeps/headline-repair
func (h *AdminHandler) RunHeadlineRepair(w http.ResponseWriter, r *http.Request) {
	affected, err := h.sweeper.HeadlineRepair(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sweepResponse{Affected: affected})
}

// RunBoilerplatePurge は定型文パージを即時実行する。
// POST /api/admin/sweeps/boilerplate-purge
func (h *AdminHandler) RunBoilerplatePurge(w http.ResponseWriter, r *http.Request) {
	affected, err := h.sweeper.BoilerplatePurge(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sweepResponse{Affected: affected})
}

// resetAutoPublishResponse は自動公開一括無効化のAPIレスポンス。
type resetAutoPublishResponse struct {
	Reset int `json:"reset"`
}

// ResetAutoPublish は全ソースの自動公開設定を一括で無効化する。
// 誤掲載事故の際に公開フローを即座に止めるための緊急停止操作。
// POST /api/admin/settings/reset-auto-publish
func (h *AdminHandler) ResetAutoPublish(w http.ResponseWriter, r *http.Request) {
	reset, err := h.curation.ResetAutoPublish(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resetAutoPublishResponse{Reset: reset})
}

// RunSliderBulk は指定ソースの直近記事を一括でスライダーへ掲載する。
// 公開済みかつ画像付きの記事のみが対象となる。
// POST /api/admin/news/slider-bulk
func (h *AdminHandler) RunSliderBulk(w http.ResponseWriter, r *http.Request) {
	var req sliderBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}
	if strings.TrimSpace(req.SourceName) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"source_nameは必須です。")
		return
	}
	if req.SinceHours <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"since_hoursは1以上を指定してください。")
		return
	}

	since := time.Now().Add(-time.Duration(req.SinceHours) * time.Hour)
	affected, err := h.curation.MarkRecentSliderEligible(
		r.Context(), strings.TrimSpace(req.SourceName), since,
	)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sweepResponse{Affected: affected})
}
