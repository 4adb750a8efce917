package handler

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/letterbox/internal/middleware"
	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/security"
)

// FlashService はフラッシュメッセージの保存と取り出しを行うサービスインターフェース。
type FlashService interface {
	Flash(ctx context.Context, sessionID, message string) (*model.Session, error)
	TakeFlash(ctx context.Context, sessionID string) (string, bool, error)
}

// RedirectSigner はリダイレクトURLに載せるメッセージの署名と検証を行う。
type RedirectSigner interface {
	Verify(message, tag string) (string, error)
	RedirectURL(path, message string) string
}

// flashMessenger はリダイレクトを跨いで一度だけ表示するメッセージを扱う。
//
// メッセージは署名付きクエリ（error, tag）とセッションのフラッシュの両方に載せる。
// 表示するのは署名の検証に成功し、かつセッションから取り出したフラッシュと一致した場合のみ。
// フラッシュは取り出した時点で削除されるため、再読み込みでは表示されない。
type flashMessenger struct {
	service   FlashService
	signer    RedirectSigner
	sanitizer security.MessageSanitizer
	cookie    middleware.CookieConfig
}

// redirect はメッセージをセッションに保存し、署名付きURLへ303でリダイレクトする。
// 有効なセッションがない場合は匿名セッションを作成してCookieを設定する。
func (f *flashMessenger) redirect(w http.ResponseWriter, r *http.Request, sessionID, path, message string) {
	session, err := f.service.Flash(r.Context(), sessionID, message)
	if err != nil {
		slog.Error("failed to store flash message",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, path, http.StatusSeeOther)
		return
	}

	if session.ID != sessionID {
		middleware.SetSessionCookie(w, session.ID, f.cookie)
	}
	http.Redirect(w, r, f.signer.RedirectURL(path, message), http.StatusSeeOther)
}

// take はリクエストに対応するフラッシュメッセージを取り出し、
// サニタイズ済みのHTMLとして返す。表示すべきメッセージがない場合は空文字列を返す。
func (f *flashMessenger) take(r *http.Request, sessionID string) template.HTML {
	// フラッシュはクエリの有無に関わらず取り出し、古いメッセージを残さない
	flash, ok, err := f.service.TakeFlash(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to take flash message", slog.String("error", err.Error()))
		return ""
	}

	q := r.URL.Query()
	if !q.Has("error") && !q.Has("tag") {
		return ""
	}

	verified, err := f.signer.Verify(q.Get("error"), q.Get("tag"))
	if err != nil {
		slog.Warn("signed message verification failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return ""
	}

	if !ok || flash != verified {
		return ""
	}

	// StrictPolicyの出力はタグを含まないエスケープ済みテキスト
	return template.HTML(f.sanitizer.Sanitize(verified))
}
