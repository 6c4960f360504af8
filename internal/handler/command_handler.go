package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// CommandServiceInterface はコマンドハンドラーが必要とするサービスインターフェース。
type CommandServiceInterface interface {
	// Submit は新しいコマンドをPENDING状態でキューに積む。
	Submit(ctx context.Context, kind model.CommandKind, argument string) (*model.BotCommand, error)
	// Get は指定IDのコマンドを取得する。
	Get(ctx context.Context, id string) (*model.BotCommand, error)
	// ListByStatus は指定状態のコマンドを作成順で返す。
	ListByStatus(ctx context.Context, status model.CommandStatus, limit int) ([]*model.BotCommand, error)
	// ListStuck はPROCESSINGのまま滞留しているコマンドを返す。
	ListStuck(ctx context.Context) ([]*model.BotCommand, error)
	// ForceResolve は滞留コマンドを手動で終端状態へ遷移させる。
	ForceResolve(ctx context.Context, id string, status model.CommandStatus) error
}

// CommandHandler はコマンドキューのHTTPハンドラー。
type CommandHandler struct {
	service CommandServiceInterface
}

// NewCommandHandler はCommandHandlerを生成する。
func NewCommandHandler(service CommandServiceInterface) *CommandHandler {
	return &CommandHandler{service: service}
}

// submitCommandRequest はコマンド発行リクエストのボディ。
type submitCommandRequest struct {
	Command  string `json:"command"`
	Argument string `json:"argument"`
}

// resolveCommandRequest は滞留コマンド復旧リクエストのボディ。
type resolveCommandRequest struct {
	Status string `json:"status"`
}

// commandResponse はコマンドのAPIレスポンス。
type commandResponse struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Argument  string     `json:"argument"`
	Status    string     `json:"status"`
	Error     string     `json:"error"`
	ClaimedAt *time.Time `json:"claimed_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toCommandResponse(c *model.BotCommand) commandResponse {
	return commandResponse{
		ID:        c.ID,
		Command:   string(c.Command),
		Argument:  c.Argument,
		Status:    string(c.Status),
		Error:     c.Error,
		ClaimedAt: c.ClaimedAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// SubmitCommand はコマンドをキューに積む。ワーカーが非同期に実行する。
// POST /api/commands
func (h *CommandHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}

	kind := model.CommandKind(req.Command)
	if !kind.IsValid() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_COMMAND",
			"サポートされていないコマンド種別です。")
		return
	}

	cmd, err := h.service.Submit(r.Context(), kind, req.Argument)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(toCommandResponse(cmd))
}

// commandListLimit は一覧取得の上限件数。
const commandListLimit = 100

// ListCommands は指定状態のコマンド一覧を返す。statusを省略するとPENDING。
// GET /api/commands?status=
func (h *CommandHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	status := model.CommandStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.CommandStatusPending
	}
	switch status {
	case model.CommandStatusPending, model.CommandStatusProcessing,
		model.CommandStatusCompleted, model.CommandStatusFailed:
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_STATUS",
			"サポートされていないstatusです。")
		return
	}

	cmds, err := h.service.ListByStatus(r.Context(), status, commandListLimit)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]commandResponse, 0, len(cmds))
	for _, c := range cmds {
		resp = append(resp, toCommandResponse(c))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetCommand はコマンドの状態を返す。発行後のポーリング用。
// GET /api/commands/:id
func (h *CommandHandler) GetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCommandResponse(cmd))
}

// ListStuckCommands はPROCESSINGのまま滞留しているコマンドの一覧を返す。
// 運用異常の診断面であり、自動解決はしない。
// GET /api/commands/stuck
func (h *CommandHandler) ListStuckCommands(w http.ResponseWriter, r *http.Request) {
	stuck, err := h.service.ListStuck(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]commandResponse, 0, len(stuck))
	for _, c := range stuck {
		resp = append(resp, toCommandResponse(c))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ResolveCommand は滞留コマンドを手動で終端状態へ遷移させる。
// POST /api/commands/:id/resolve
func (h *CommandHandler) ResolveCommand(w http.ResponseWriter, r *http.Request) {
	var req resolveCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}

	status := model.CommandStatus(req.Status)
	if !status.IsTerminal() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_STATUS",
			"statusにはCOMPLETEDまたはFAILEDを指定してください。")
		return
	}

	if err := h.service.ForceResolve(r.Context(), chi.URLParam(r, "id"), status); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	cmd, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCommandResponse(cmd))
}
