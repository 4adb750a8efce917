package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	Subscribe(ctx context.Context, form subscription.Form) (*subscription.Outcome, error)
	Confirm(ctx context.Context, token string) (string, error)
}

// SubscriptionHandler は購読申込と購読確認のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// Subscribe は購読申込を受け付ける。
// POST /subscriptions (form: email, name)
// 成功時200、入力不正時400、永続化・送信失敗時500を返す。
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		handleServiceError(w, r, model.NewError(model.KindValidation, "parse form", err))
		return
	}

	_, err := h.service.Subscribe(r.Context(), subscription.Form{
		Email: r.PostForm.Get("email"),
		Name:  r.PostForm.Get("name"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeText(w, http.StatusOK, "Thanks for subscribing! Please check your inbox to confirm your subscription.")
}

// Confirm は確認トークンを引き換えて購読を確定する。
// GET /subscriptions/confirm?subscription_token=<token>
// 成功時200、パラメーター不正時400、未知・期限切れ・使用済みトークンは401を返す。
func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("subscription_token")
	if tok == "" {
		handleServiceError(w, r, model.NewError(model.KindValidation, "confirm subscription", nil))
		return
	}

	if _, err := h.service.Confirm(r.Context(), tok); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeText(w, http.StatusOK, "Your subscription has been confirmed.")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
