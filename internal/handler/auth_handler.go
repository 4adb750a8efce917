// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/letterbox/internal/auth"
	"github.com/hitoshi/letterbox/internal/metrics"
	"github.com/hitoshi/letterbox/internal/middleware"
	"github.com/hitoshi/letterbox/internal/model"
)

const (
	// AuthFailedMessage は認証情報が不正な場合にログインページへ表示するメッセージ。
	AuthFailedMessage = "Authentication failed"
	// UnexpectedErrorMessage は予期しないエラーの場合に表示するメッセージ。
	UnexpectedErrorMessage = "Something went wrong"

	dashboardPath = "/admin/dashboard"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	FlashService
	Login(ctx context.Context, creds model.Credentials, currentSessionID string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) (*model.Session, error)
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, current, newPassword, confirm string) error
}

// AuthHandler はログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	flash   *flashMessenger
	metrics metrics.MetricsCollector
	cookie  middleware.CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, flash *flashMessenger, collector metrics.MetricsCollector, cookie middleware.CookieConfig) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service: service,
		flash:   flash,
		metrics: collector,
		cookie:  cookie,
	}
}

type loginPage struct {
	Message template.HTML
}

// LoginForm はログインフォームを表示する。
// GET /login?error=<msg>&tag=<hex>
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromRequest(r)

	var page loginPage
	if sessionID != "" {
		page.Message = h.flash.take(r, sessionID)
	}

	renderPage(w, "login", page)
}

// Login は認証情報を検証してセッションを発行する。
// POST /login
// 成功時は/admin/dashboardへ、失敗時は署名付きのエラーメッセージと共に/loginへ303でリダイレクトする。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	creds := model.Credentials{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	currentSessionID := middleware.SessionIDFromRequest(r)

	session, err := h.service.Login(r.Context(), creds, currentSessionID)
	if err != nil {
		message := AuthFailedMessage
		if model.IsKind(err, model.KindInvalidCredentials) {
			h.metrics.RecordLogin(metrics.ResultRejected)
			slog.Info("login rejected")
		} else {
			h.metrics.RecordLogin(metrics.ResultUnexpected)
			slog.Error("login failed", slog.String("error", err.Error()))
			message = UnexpectedErrorMessage
		}
		h.flash.redirect(w, r, currentSessionID, middleware.LoginPath, message)
		return
	}

	h.metrics.RecordLogin(metrics.ResultSuccess)
	middleware.SetSessionCookie(w, session.ID, h.cookie)
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// Logout はセッションを破棄し、ログアウト通知と共に/loginへ303でリダイレクトする。
// POST /admin/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())

	anon, err := h.service.Logout(r.Context(), sessionID)
	if err != nil {
		slog.Error("logout failed", slog.String("error", err.Error()))
		middleware.ClearSessionCookie(w, h.cookie)
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	// 匿名セッションのCookieで旧セッションのCookieを置き換える
	middleware.SetSessionCookie(w, anon.ID, h.cookie)
	http.Redirect(w, r, h.flash.signer.RedirectURL(middleware.LoginPath, auth.LoggedOutMessage), http.StatusSeeOther)
}
