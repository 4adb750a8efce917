// Package email はトランザクションメール送信APIのクライアントを提供する。
// Postmark互換の "/email" エンドポイントへJSONでメッセージを送信する。
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// tokenHeader はAPIの認証トークンを送るヘッダー名。
const tokenHeader = "X-Postmark-Server-Token"

// Message は送信するメールを表す。
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// sendEmailRequest はAPIへ送信するリクエストボディ。
type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Client はメール送信APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	sender     string
	authToken  string
}

// NewClient はClientの新しいインスタンスを生成する。
// timeoutはHTTPクライアント全体のタイムアウトで、送信が停止しても呼び出し元を塞がないようにする。
func NewClient(baseURL, sender, authToken string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		authToken:  authToken,
	}
}

// Send はメールを送信する。2xx以外のステータスはエラーとして返す。
func (c *Client) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendEmailRequest{
		From:     c.sender,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("failed to call email API",
			slog.String("recipient", msg.To),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()
	// コネクション再利用のためボディを読み捨てる
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("email API returned error status",
			slog.String("recipient", msg.To),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}

	return nil
}
