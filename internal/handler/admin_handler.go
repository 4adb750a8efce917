package handler

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/letterbox/internal/middleware"
	"github.com/hitoshi/letterbox/internal/model"
)

const (
	passwordPath = "/admin/password"

	// PasswordChangedMessage はパスワード変更成功時に表示するメッセージ。
	PasswordChangedMessage = "Your password has been changed."
)

// AdminHandler は管理画面のHTTPハンドラー。
// すべてのルートはセッションミドルウェアの内側に配置する。
type AdminHandler struct {
	service AuthServiceInterface
	flash   *flashMessenger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AuthServiceInterface, flash *flashMessenger) *AdminHandler {
	return &AdminHandler{service: service, flash: flash}
}

type dashboardPage struct {
	Username  string
	CSRFToken string
}

type passwordPage struct {
	Message   template.HTML
	CSRFToken string
}

// Dashboard は管理画面のトップページを表示する。
// GET /admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, model.NewError(model.KindUnexpected, "load dashboard", err))
		return
	}
	if user == nil {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	renderPage(w, "dashboard", dashboardPage{
		Username:  user.Username,
		CSRFToken: middleware.CSRFToken(r.Context()),
	})
}

// PasswordForm はパスワード変更フォームを表示する。
// GET /admin/password
func (h *AdminHandler) PasswordForm(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "password", passwordPage{
		Message:   h.flash.take(r, middleware.SessionIDFromContext(r.Context())),
		CSRFToken: middleware.CSRFToken(r.Context()),
	})
}

// ChangePassword はパスワードを変更し、結果のメッセージと共にフォームへ303でリダイレクトする。
// POST /admin/password
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.SessionIDFromContext(ctx)
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	err = h.service.ChangePassword(ctx, userID,
		r.PostFormValue("current_password"),
		r.PostFormValue("new_password"),
		r.PostFormValue("new_password_check"),
	)
	if err != nil {
		h.flash.redirect(w, r, sessionID, passwordPath, passwordErrorMessage(err))
		return
	}

	h.flash.redirect(w, r, sessionID, passwordPath, PasswordChangedMessage)
}

// passwordErrorMessage はパスワード変更エラーをユーザー向けメッセージに変換する。
// 入力起因のエラーは原因の文言をそのまま表示し、それ以外は汎用メッセージとする。
func passwordErrorMessage(err error) string {
	var e *model.Error
	if errors.As(err, &e) && e.Err != nil &&
		(e.Kind == model.KindValidation || e.Kind == model.KindInvalidCredentials) {
		return e.Err.Error()
	}
	slog.Error("failed to change password", slog.String("error", err.Error()))
	return UnexpectedErrorMessage
}
