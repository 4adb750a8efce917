// Package token は確認トークンとセッションIDの生成を提供する。
// いずれも暗号論的乱数から生成し、状態を持たないため並行に呼び出してよい。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// Length は確認トークンの文字数。
	Length = 25

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	sessionIDBytes = 32
)

var alphabetSize = big.NewInt(int64(len(alphabet)))

// Generate は英数字25文字の確認トークンを生成する。
// 各文字はアルファベットから一様に選ばれる（約148ビットのエントロピー）。
func Generate() (string, error) {
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}

// MustGenerate はGenerateのパニック版。
// 乱数源の障害はリクエストにとって致命的として扱い、リトライしない。
func MustGenerate() string {
	t, err := Generate()
	if err != nil {
		panic(err)
	}
	return t
}

// GenerateSessionID は32バイトの乱数を16進エンコードしたセッションIDを生成する。
func GenerateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsWellFormed はトークンが英数字25文字であるかを判定する。
// ストレージに問い合わせる前の形式チェックに使用する。
func IsWellFormed(t string) bool {
	if len(t) != Length {
		return false
	}
	for i := 0; i < len(t); i++ {
		c := t[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return false
		}
	}
	return true
}
