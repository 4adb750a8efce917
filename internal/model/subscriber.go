package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// SubscriberStatus は購読者の確認状態を表す。
type SubscriberStatus string

const (
	// StatusPendingConfirmation は確認メールのリンクが未クリックの状態。
	StatusPendingConfirmation SubscriberStatus = "pending_confirmation"
	// StatusConfirmed は確認トークンの引き換えが完了した状態。
	StatusConfirmed SubscriberStatus = "confirmed"
)

// Subscriber はニュースレターの購読者を表す。
type Subscriber struct {
	ID           string
	Email        string
	Name         string
	SubscribedAt time.Time
	Status       SubscriberStatus
}

// ConfirmationToken は購読確認用の単回使用トークンを表す。
type ConfirmationToken struct {
	Token        string
	SubscriberID string
	CreatedAt    time.Time
}

// NewSubscriber は検証済みの購読申込を表す。
// ParseNewSubscriber以外から生成しないこと。
type NewSubscriber struct {
	Email string
	Name  string
}

// PersistResult は購読者とトークンの永続化結果を表す。
type PersistResult struct {
	SubscriberID string
	// AlreadyConfirmed が true の場合、トークンは発行されていない。
	AlreadyConfirmed bool
}

const (
	maxNameLength  = 256
	forbiddenChars = `/()"<>\{}`
)

// subscriberForm は購読フォームの検証ルールを保持する。
type subscriberForm struct {
	Email string `validate:"required,email,max=254"`
	Name  string `validate:"required,subscriber_name"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 登録に失敗するのはタグ名が不正な場合のみ
	if err := v.RegisterValidation("subscriber_name", validSubscriberName); err != nil {
		panic(err)
	}
	return v
}

// validSubscriberName は表示名として許容できるかを判定する。
// 空白のみ、256文字超、禁止文字を含む名前を拒否する。
func validSubscriberName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if strings.TrimSpace(name) == "" {
		return false
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return false
	}
	return !strings.ContainsAny(name, forbiddenChars)
}

// ParseNewSubscriber はフォーム入力を検証し、NewSubscriberを生成する。
// 検証に失敗した場合はKindValidationのエラーを返す。
func ParseNewSubscriber(email, name string) (*NewSubscriber, error) {
	form := subscriberForm{
		Email: strings.TrimSpace(email),
		Name:  name,
	}

	if err := validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, NewError(KindValidation, "parse subscriber",
				errors.New(strings.ToLower(verrs[0].Field())+" is invalid"))
		}
		return nil, NewError(KindValidation, "parse subscriber", err)
	}

	return &NewSubscriber{Email: form.Email, Name: form.Name}, nil
}
