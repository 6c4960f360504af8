package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/newsdesk/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:    code,
		Message: message,
	})
}

// WriteDomainError はドメインエラーを対応するHTTPステータスに変換して
// 書き込む。未分類のエラーは詳細をログのみに残し500を返す。
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNewsNotFound):
		WriteErrorResponse(w, http.StatusNotFound, "NEWS_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrMappingNotFound):
		WriteErrorResponse(w, http.StatusNotFound, "MAPPING_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrMappingConflict):
		WriteErrorResponse(w, http.StatusConflict, "MAPPING_CONFLICT", err.Error())
	case errors.Is(err, model.ErrHeadlineNotFound):
		WriteErrorResponse(w, http.StatusNotFound, "HEADLINE_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrCommandNotFound):
		WriteErrorResponse(w, http.StatusNotFound, "COMMAND_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrImageRequired):
		WriteErrorResponse(w, http.StatusUnprocessableEntity, "IMAGE_REQUIRED", err.Error())
	case errors.Is(err, model.ErrInvalidSlot):
		WriteErrorResponse(w, http.StatusBadRequest, "INVALID_SLOT", err.Error())
	case errors.Is(err, model.ErrCommandClaimConflict):
		WriteErrorResponse(w, http.StatusConflict, "COMMAND_CLAIM_CONFLICT", err.Error())
	case errors.Is(err, model.ErrStuckCommand):
		WriteErrorResponse(w, http.StatusConflict, "STUCK_COMMAND", err.Error())
	case errors.Is(err, model.ErrDuplicateItem):
		WriteErrorResponse(w, http.StatusConflict, "DUPLICATE_ITEM", err.Error())
	default:
		WriteInternalServerError(w)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"内部エラーが発生しました。")
}
