package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"

	"github.com/hitoshi/letterbox/internal/model"
)

// MinSecretLength はHMAC秘密鍵の最小バイト長。
const MinSecretLength = 32

// RedirectSigner はリダイレクトURLに載せる一回限りのエラーメッセージに
// HMAC-SHA256のタグを付与し、検証する。
//
// 正規化形式は "error=" + url.QueryEscape(message) で、
// 署名と検証の双方がこの形式のバイト列に対してタグを計算する。
type RedirectSigner struct {
	secret []byte
}

// NewRedirectSigner はRedirectSignerを生成する。
// 秘密鍵がMinSecretLengthに満たない場合はエラーを返す。
func NewRedirectSigner(secret []byte) (*RedirectSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.New("HMAC secret must be at least 32 bytes")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &RedirectSigner{secret: key}, nil
}

// Sign はメッセージのタグを小文字の16進文字列で返す。
func (s *RedirectSigner) Sign(message string) string {
	return hex.EncodeToString(s.mac(message))
}

// Verify はタグを検証し、成功した場合はメッセージをそのまま返す。
// デコード失敗、長さ不一致、タグ不一致はすべてErrInvalidSignatureとして返す。
func (s *RedirectSigner) Verify(message, tag string) (string, error) {
	got, err := hex.DecodeString(tag)
	if err != nil {
		return "", model.ErrInvalidSignature
	}
	if !hmac.Equal(got, s.mac(message)) {
		return "", model.ErrInvalidSignature
	}
	return message, nil
}

// RedirectURL はpathにerrorとtagのクエリを付与したURLを返す。
func (s *RedirectSigner) RedirectURL(path, message string) string {
	q := url.Values{}
	q.Set("error", message)
	q.Set("tag", s.Sign(message))
	return path + "?" + q.Encode()
}

func (s *RedirectSigner) mac(message string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonical(message)))
	return h.Sum(nil)
}

func canonical(message string) string {
	return "error=" + url.QueryEscape(message)
}
