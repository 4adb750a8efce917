// Package auth は管理画面のログイン、セッション管理、パスワード変更を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/repository"
)

// パスワードの長さ制約。下限は文字数、上限はbcryptが受け付けるバイト数。
const (
	MinPasswordLength = 12
	MaxPasswordLength = 72
)

// LoggedOutMessage はログアウト後にログインページへ表示するメッセージ。
const LoggedOutMessage = "You have successfully logged out."

// パスワード変更時の入力エラー
var (
	ErrPasswordConfirmation = model.NewError(model.KindValidation, "change password",
		errors.New("You entered two different new passwords - the field values must match."))
	ErrPasswordLength = model.NewError(model.KindValidation, "change password",
		fmt.Errorf("The new password must be at least %d characters and at most %d bytes long.", MinPasswordLength, MaxPasswordLength))
	ErrCurrentPassword = model.NewError(model.KindInvalidCredentials, "change password",
		errors.New("The current password is incorrect."))
)

// ErrUserExists は同名のユーザーが既に存在することを示す。
var ErrUserExists = model.NewError(model.KindValidation, "create user", errors.New("user already exists"))

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	validator   *Validator
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository) *Service {
	return &Service{
		validator:   NewValidator(userRepo),
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
	}
}

// Login は認証情報を検証し、新しいセッションを発行する。
// 既存のセッションがある場合は破棄してからセッションを作り直す。
func (s *Service) Login(ctx context.Context, creds model.Credentials, currentSessionID string) (*model.Session, error) {
	userID, err := s.validator.Validate(ctx, creds)
	if err != nil {
		return nil, err
	}

	if currentSessionID != "" {
		if err := s.sessionRepo.DeleteByID(ctx, currentSessionID); err != nil {
			return nil, model.NewError(model.KindUnexpected, "login", fmt.Errorf("failed to rotate session: %w", err))
		}
	}

	session, err := s.sessionRepo.Create(ctx, userID)
	if err != nil {
		return nil, model.NewError(model.KindUnexpected, "login", fmt.Errorf("failed to create session: %w", err))
	}

	slog.Info("user logged in", slog.String("user_id", userID))
	return session, nil
}

// Logout はセッションを破棄し、ログアウト通知を載せた匿名セッションを返す。
func (s *Service) Logout(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return s.Flash(ctx, "", LoggedOutMessage)
}

// CurrentUser はセッションに紐付くユーザーを取得する。
// セッションが存在しないか匿名の場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if !session.Authenticated() {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Flash はセッションにフラッシュメッセージを保存する。
// sessionIDが空か有効なセッションが存在しない場合は匿名セッションを作成する。
// メッセージを保存したセッションを返す。
func (s *Service) Flash(ctx context.Context, sessionID, message string) (*model.Session, error) {
	var session *model.Session
	if sessionID != "" {
		found, err := s.sessionRepo.FindByID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to find session: %w", err)
		}
		session = found
	}

	if session == nil {
		created, err := s.sessionRepo.Create(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		session = created
	}

	if err := s.sessionRepo.SetFlash(ctx, session.ID, message); err != nil {
		return nil, fmt.Errorf("failed to set flash: %w", err)
	}
	return session, nil
}

// TakeFlash はセッションのフラッシュメッセージを取り出す。
func (s *Service) TakeFlash(ctx context.Context, sessionID string) (string, bool, error) {
	if sessionID == "" {
		return "", false, nil
	}
	return s.sessionRepo.TakeFlash(ctx, sessionID)
}

// ChangePassword は現在のパスワードを検証し、新しいパスワードに変更する。
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword, confirm string) error {
	if newPassword != confirm {
		return ErrPasswordConfirmation
	}
	if !validPasswordLength(newPassword) {
		return ErrPasswordLength
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return model.NewError(model.KindUnexpected, "change password", err)
	}
	if user == nil {
		return model.NewError(model.KindUnexpected, "change password", errors.New("user not found"))
	}

	if _, err := s.validator.Validate(ctx, model.Credentials{Username: user.Username, Password: current}); err != nil {
		if model.IsKind(err, model.KindInvalidCredentials) {
			return ErrCurrentPassword
		}
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return model.NewError(model.KindUnexpected, "change password", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return model.NewError(model.KindUnexpected, "change password", err)
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return nil
}

// validPasswordLength は文字数の下限とbcryptのバイト数上限を満たすかを返す。
// マルチバイト文字は1文字で複数バイトを消費する。
func validPasswordLength(password string) bool {
	return utf8.RuneCountInString(password) >= MinPasswordLength && len(password) <= MaxPasswordLength
}

// CreateUser は管理ユーザーを作成する。
// パスワードの長さはChangePasswordと同じ制約に従う。
func (s *Service) CreateUser(ctx context.Context, username, password string) (*model.User, error) {
	if username == "" {
		return nil, model.NewError(model.KindValidation, "create user", errors.New("username is empty"))
	}
	if !validPasswordLength(password) {
		return nil, ErrPasswordLength
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, model.NewError(model.KindStorage, "create user", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, model.NewError(model.KindUnexpected, "create user", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, model.NewError(model.KindStorage, "create user", err)
	}

	slog.Info("user created", slog.String("user_id", user.ID))
	return user, nil
}
