// Package subscription はニュースレター購読のダブルオプトイン処理を提供する。
//
// 申込は「検証、永続化、通知」の順に処理する。確認メールは購読者と確認トークンが
// コミットされた後にのみ送信し、送信に失敗しても永続化済みの行はロールバックしない。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/letterbox/internal/email"
	"github.com/hitoshi/letterbox/internal/metrics"
	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/repository"
	"github.com/hitoshi/letterbox/internal/security"
	"github.com/hitoshi/letterbox/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConfirmationSubject は確認メールの件名。
const ConfirmationSubject = "Welcome!"

// Form は購読申込フォームの入力値。
type Form struct {
	Email string
	Name  string
}

// Outcome は購読申込の処理結果。
type Outcome struct {
	SubscriberID     string
	AlreadyConfirmed bool
}

// Config は購読サービスの設定。
type Config struct {
	BaseURL  string        // 確認リンクの基点URL
	TokenTTL time.Duration // 確認トークンの有効期間
}

// Service は購読申込と購読確認のビジネスロジックを提供する。
type Service struct {
	repo      repository.SubscriberRepository
	mailer    email.Sender
	sanitizer security.MessageSanitizer
	metrics   metrics.MetricsCollector
	config    Config
	tracer    trace.Tracer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.SubscriberRepository,
	mailer email.Sender,
	sanitizer security.MessageSanitizer,
	collector metrics.MetricsCollector,
	config Config,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		mailer:    mailer,
		sanitizer: sanitizer,
		metrics:   collector,
		config:    config,
		tracer:    otel.Tracer("letterbox/subscription"),
	}
}

// Subscribe は購読申込を処理する。
//  1. 入力を検証する。失敗した場合は何も書き込まない。
//  2. 購読者と確認トークンを1トランザクションで永続化する。
//  3. コミット後に確認メールを送信する。
//
// 確認済みのメールアドレスはメールを送信せずに成功として扱う。
func (s *Service) Subscribe(ctx context.Context, form Form) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.Subscribe")
	defer span.End()

	subscriber, err := model.ParseNewSubscriber(form.Email, form.Name)
	if err != nil {
		s.metrics.RecordSubscription(metrics.ResultInvalid)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	tok, err := token.Generate()
	if err != nil {
		s.metrics.RecordSubscription(metrics.ResultUnexpected)
		return nil, model.NewError(model.KindUnexpected, "subscribe", err)
	}

	result, err := s.persist(ctx, subscriber, tok)
	if err != nil {
		s.metrics.RecordSubscription(metrics.ResultStorage)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}

	outcome := &Outcome{SubscriberID: result.SubscriberID, AlreadyConfirmed: result.AlreadyConfirmed}
	span.SetAttributes(attribute.String("subscriber.id", result.SubscriberID))

	if result.AlreadyConfirmed {
		slog.Info("subscription already confirmed",
			slog.String("subscriber_id", result.SubscriberID),
		)
		s.metrics.RecordSubscription(metrics.ResultDuplicate)
		return outcome, nil
	}

	if err := s.sendConfirmation(ctx, subscriber, tok); err != nil {
		s.metrics.RecordSubscription(metrics.ResultDispatch)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return nil, model.NewError(model.KindDispatch, "send confirmation email", err)
	}

	s.metrics.RecordSubscription(metrics.ResultSuccess)
	slog.Info("subscription created",
		slog.String("subscriber_id", result.SubscriberID),
	)
	return outcome, nil
}

// Confirm は確認トークンを引き換えて購読を確定する。
// 形式が不正なトークンはストレージに問い合わせずにKindValidationを返す。
func (s *Service) Confirm(ctx context.Context, tok string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.Confirm")
	defer span.End()

	if !token.IsWellFormed(tok) {
		s.metrics.RecordConfirmation(metrics.ResultInvalid)
		return "", model.NewError(model.KindValidation, "confirm subscription", fmt.Errorf("malformed subscription token"))
	}

	subscriberID, err := s.repo.Confirm(ctx, tok, s.config.TokenTTL)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindNotFound:
			s.metrics.RecordConfirmation(metrics.ResultNotFound)
		default:
			s.metrics.RecordConfirmation(metrics.ResultStorage)
			span.RecordError(err)
			span.SetStatus(codes.Error, "confirm failed")
		}
		return "", err
	}

	s.metrics.RecordConfirmation(metrics.ResultSuccess)
	slog.Info("subscription confirmed", slog.String("subscriber_id", subscriberID))
	return subscriberID, nil
}

func (s *Service) persist(ctx context.Context, subscriber *model.NewSubscriber, tok string) (*model.PersistResult, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.persist")
	defer span.End()

	return s.repo.Persist(ctx, subscriber, tok)
}

func (s *Service) sendConfirmation(ctx context.Context, subscriber *model.NewSubscriber, tok string) error {
	ctx, span := s.tracer.Start(ctx, "subscription.sendConfirmation")
	defer span.End()

	link := s.ConfirmationLink(tok)
	name := s.sanitizer.Sanitize(subscriber.Name)

	start := time.Now()
	err := s.mailer.Send(ctx, email.Message{
		To:      subscriber.Email,
		Subject: ConfirmationSubject,
		HTMLBody: fmt.Sprintf(
			"Hi %s,<br />Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.",
			name, link,
		),
		TextBody: fmt.Sprintf(
			"Hi %s,\nWelcome to our newsletter!\nVisit %s to confirm your subscription.",
			subscriber.Name, link,
		),
	})
	s.metrics.RecordEmailLatency(time.Since(start))
	return err
}

// ConfirmationLink はトークンを埋め込んだ確認リンクを返す。
func (s *Service) ConfirmationLink(tok string) string {
	return strings.TrimRight(s.config.BaseURL, "/") +
		"/subscriptions/confirm?subscription_token=" + url.QueryEscape(tok)
}
