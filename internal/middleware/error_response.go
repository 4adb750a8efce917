package middleware

import (
	"net/http"
)

// errorMessages はステータスコードごとにクライアントへ返す汎用メッセージ。
// 内部エラーの詳細はログにのみ記録し、レスポンスには含めない。
var errorMessages = map[int]string{
	http.StatusBadRequest:          "The submitted data is invalid.",
	http.StatusUnauthorized:        "The link is invalid or has expired.",
	http.StatusForbidden:           "Forbidden.",
	http.StatusNotFound:            "Not found.",
	http.StatusTooManyRequests:     "Too many requests. Please try again later.",
	http.StatusInternalServerError: "Something went wrong. Please try again later.",
}

// WriteErrorResponse は統一フォーマットのプレーンテキストでエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int) {
	msg, ok := errorMessages[statusCode]
	if !ok {
		msg = http.StatusText(statusCode)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(msg + "\n"))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError)
}
