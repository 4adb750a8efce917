package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/letterbox/internal/middleware"
	"github.com/hitoshi/letterbox/internal/model"
)

// statusByKind はエラー分類からHTTPステータスへの対応表。
// 表にない分類は500として扱う。
var statusByKind = map[model.ErrorKind]int{
	model.KindValidation:         http.StatusBadRequest,
	model.KindVerification:       http.StatusBadRequest,
	model.KindNotFound:           http.StatusUnauthorized,
	model.KindInvalidCredentials: http.StatusUnauthorized,
	model.KindStorage:            http.StatusInternalServerError,
	model.KindDispatch:           http.StatusInternalServerError,
	model.KindUnexpected:         http.StatusInternalServerError,
}

// statusFor はエラーに対応するHTTPステータスコードを返す。
func statusFor(err error) int {
	if status, ok := statusByKind[model.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// 5xxに該当するエラーのみ詳細をログに記録し、レスポンスには汎用メッセージのみを返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, status)
}
