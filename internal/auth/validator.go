package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost はパスワードハッシュのbcryptコスト。
const PasswordCost = bcrypt.DefaultCost

// ユーザーが存在しない場合の比較に使うダミーハッシュ。
// 実ハッシュと同じコストで生成し、応答時間からユーザーの存在が判別できないようにする。
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("letterbox-dummy-password"), PasswordCost)
	if err != nil {
		panic(fmt.Sprintf("failed to generate dummy hash: %v", err))
	}
	return h
})

// Validator はユーザー名とパスワードを検証する。
type Validator struct {
	users repository.UserRepository
}

// NewValidator はValidatorを生成する。
func NewValidator(users repository.UserRepository) *Validator {
	return &Validator{users: users}
}

// Validate は認証情報を検証し、成功した場合はユーザーIDを返す。
// ユーザー不在とパスワード不一致はどちらもmodel.ErrInvalidCredentialsを返す。
// ストレージ障害やハッシュの解析失敗はKindUnexpectedのエラーとして返す。
func (v *Validator) Validate(ctx context.Context, creds model.Credentials) (string, error) {
	const op = "validate credentials"

	user, err := v.users.FindByUsername(ctx, creds.Username)
	if err != nil {
		return "", model.NewError(model.KindUnexpected, op, fmt.Errorf("failed to find user: %w", err))
	}

	hash := dummyHash()
	if user != nil {
		hash = []byte(user.PasswordHash)
	}

	err = bcrypt.CompareHashAndPassword(hash, []byte(creds.Password))
	if user == nil {
		return "", model.ErrInvalidCredentials
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return "", model.ErrInvalidCredentials
	}
	if err != nil {
		slog.Error("failed to compare password hash",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return "", model.NewError(model.KindUnexpected, op, err)
	}

	return user.ID, nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}
