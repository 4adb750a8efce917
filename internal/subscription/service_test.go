package subscription

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/letterbox/internal/email"
	"github.com/hitoshi/letterbox/internal/metrics"
	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/repository"
	"github.com/hitoshi/letterbox/internal/security"
	"github.com/hitoshi/letterbox/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- モック定義 ---

type mockSubscriberRepo struct {
	persistFn              func(ctx context.Context, s *model.NewSubscriber, tok string) (*model.PersistResult, error)
	confirmFn              func(ctx context.Context, tok string, ttl time.Duration) (string, error)
	deleteExpiredPendingFn func(ctx context.Context, ttl time.Duration) (int64, error)
}

func (m *mockSubscriberRepo) Persist(ctx context.Context, s *model.NewSubscriber, tok string) (*model.PersistResult, error) {
	if m.persistFn != nil {
		return m.persistFn(ctx, s, tok)
	}
	return &model.PersistResult{SubscriberID: "sub-1"}, nil
}

func (m *mockSubscriberRepo) Confirm(ctx context.Context, tok string, ttl time.Duration) (string, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, tok, ttl)
	}
	return "sub-1", nil
}

func (m *mockSubscriberRepo) DeleteExpiredPending(ctx context.Context, ttl time.Duration) (int64, error) {
	if m.deleteExpiredPendingFn != nil {
		return m.deleteExpiredPendingFn(ctx, ttl)
	}
	return 0, nil
}

type mockMailer struct {
	sent   []email.Message
	sendFn func(ctx context.Context, msg email.Message) error
}

func (m *mockMailer) Send(ctx context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	if m.sendFn != nil {
		return m.sendFn(ctx, msg)
	}
	return nil
}

var _ repository.SubscriberRepository = (*mockSubscriberRepo)(nil)
var _ email.Sender = (*mockMailer)(nil)

func newTestService(repo *mockSubscriberRepo, mailer *mockMailer) *Service {
	return NewService(repo, mailer, security.NewMessageSanitizer(), metrics.Nop{}, Config{
		BaseURL:  "https://news.example.com/",
		TokenTTL: 24 * time.Hour,
	})
}

// --- テスト ---

func TestSubscribe_Success_PersistsThenSendsLinkWithToken(t *testing.T) {
	var persistedToken string
	var steps []string
	repo := &mockSubscriberRepo{
		persistFn: func(_ context.Context, s *model.NewSubscriber, tok string) (*model.PersistResult, error) {
			steps = append(steps, "persist")
			persistedToken = tok
			assert.Equal(t, "ursula_le_guin@gmail.com", s.Email)
			return &model.PersistResult{SubscriberID: "sub-1"}, nil
		},
	}
	mailer := &mockMailer{sendFn: func(context.Context, email.Message) error {
		steps = append(steps, "send")
		return nil
	}}

	outcome, err := newTestService(repo, mailer).Subscribe(context.Background(), Form{
		Email: "ursula_le_guin@gmail.com",
		Name:  "le guin",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", outcome.SubscriberID)
	assert.Equal(t, []string{"persist", "send"}, steps)

	require.True(t, token.IsWellFormed(persistedToken))
	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "ursula_le_guin@gmail.com", msg.To)
	assert.Equal(t, ConfirmationSubject, msg.Subject)

	link := "https://news.example.com/subscriptions/confirm?subscription_token=" + persistedToken
	assert.Equal(t, 1, strings.Count(msg.HTMLBody, link))
	assert.Equal(t, 1, strings.Count(msg.TextBody, link))
}

func TestSubscribe_InvalidInput_NoWriteNoMail(t *testing.T) {
	repo := &mockSubscriberRepo{
		persistFn: func(context.Context, *model.NewSubscriber, string) (*model.PersistResult, error) {
			t.Fatal("不正な入力で永続化が呼ばれた")
			return nil, nil
		},
	}
	mailer := &mockMailer{}
	svc := newTestService(repo, mailer)

	forms := []Form{
		{Email: "", Name: "le guin"},
		{Email: "not-an-email", Name: "le guin"},
		{Email: "ursula@example.com", Name: ""},
		{Email: "ursula@example.com", Name: "   "},
		{Email: "ursula@example.com", Name: "<script>"},
		{Email: "ursula@example.com", Name: strings.Repeat("a", 257)},
	}
	for _, f := range forms {
		_, err := svc.Subscribe(context.Background(), f)
		assert.True(t, model.IsKind(err, model.KindValidation), "form %+v: err = %v", f, err)
	}
	assert.Empty(t, mailer.sent)
}

func TestSubscribe_StorageFailure_NoMailSent(t *testing.T) {
	repo := &mockSubscriberRepo{
		persistFn: func(context.Context, *model.NewSubscriber, string) (*model.PersistResult, error) {
			return nil, model.NewError(model.KindStorage, "persist subscriber", errors.New("deadlock"))
		},
	}
	mailer := &mockMailer{}

	_, err := newTestService(repo, mailer).Subscribe(context.Background(), Form{Email: "a@example.com", Name: "A"})
	assert.True(t, model.IsKind(err, model.KindStorage))
	assert.Empty(t, mailer.sent)
}

func TestSubscribe_DispatchFailure_ReportsDispatchError(t *testing.T) {
	persisted := 0
	repo := &mockSubscriberRepo{
		persistFn: func(context.Context, *model.NewSubscriber, string) (*model.PersistResult, error) {
			persisted++
			return &model.PersistResult{SubscriberID: "sub-1"}, nil
		},
		confirmFn: func(context.Context, string, time.Duration) (string, error) {
			t.Fatal("送信失敗で確認処理が呼ばれた")
			return "", nil
		},
	}
	mailer := &mockMailer{sendFn: func(context.Context, email.Message) error {
		return errors.New("timeout")
	}}

	_, err := newTestService(repo, mailer).Subscribe(context.Background(), Form{Email: "a@example.com", Name: "A"})
	assert.True(t, model.IsKind(err, model.KindDispatch))
	assert.Equal(t, 1, persisted)
}

func TestSubscribe_AlreadyConfirmed_NoMail(t *testing.T) {
	repo := &mockSubscriberRepo{
		persistFn: func(context.Context, *model.NewSubscriber, string) (*model.PersistResult, error) {
			return &model.PersistResult{SubscriberID: "sub-1", AlreadyConfirmed: true}, nil
		},
	}
	mailer := &mockMailer{}

	outcome, err := newTestService(repo, mailer).Subscribe(context.Background(), Form{Email: "a@example.com", Name: "A"})
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyConfirmed)
	assert.Empty(t, mailer.sent)
}

func TestSubscribe_NameIsSanitizedInHTMLBody(t *testing.T) {
	mailer := &mockMailer{}

	_, err := newTestService(&mockSubscriberRepo{}, mailer).Subscribe(context.Background(), Form{
		Email: "a@example.com",
		Name:  "Tom & Jerry",
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].HTMLBody, "Tom &amp; Jerry")
	assert.Contains(t, mailer.sent[0].TextBody, "Tom & Jerry")
}

func TestConfirm(t *testing.T) {
	valid := token.MustGenerate()

	t.Run("成功", func(t *testing.T) {
		var gotTTL time.Duration
		repo := &mockSubscriberRepo{confirmFn: func(_ context.Context, tok string, ttl time.Duration) (string, error) {
			assert.Equal(t, valid, tok)
			gotTTL = ttl
			return "sub-1", nil
		}}
		id, err := newTestService(repo, &mockMailer{}).Confirm(context.Background(), valid)
		require.NoError(t, err)
		assert.Equal(t, "sub-1", id)
		assert.Equal(t, 24*time.Hour, gotTTL)
	})

	t.Run("形式不正のトークンはストレージに問い合わせない", func(t *testing.T) {
		repo := &mockSubscriberRepo{confirmFn: func(context.Context, string, time.Duration) (string, error) {
			t.Fatal("形式不正のトークンで確認処理が呼ばれた")
			return "", nil
		}}
		for _, tok := range []string{"", "short", strings.Repeat("!", token.Length)} {
			_, err := newTestService(repo, &mockMailer{}).Confirm(context.Background(), tok)
			assert.True(t, model.IsKind(err, model.KindValidation), "token %q", tok)
		}
	})

	t.Run("未知のトークン", func(t *testing.T) {
		repo := &mockSubscriberRepo{confirmFn: func(context.Context, string, time.Duration) (string, error) {
			return "", model.ErrTokenNotFound
		}}
		_, err := newTestService(repo, &mockMailer{}).Confirm(context.Background(), valid)
		assert.ErrorIs(t, err, model.ErrTokenNotFound)
	})
}

func TestConfirmationLink_EscapesToken(t *testing.T) {
	svc := newTestService(&mockSubscriberRepo{}, &mockMailer{})
	assert.Equal(t,
		"https://news.example.com/subscriptions/confirm?subscription_token=a%2Bb",
		svc.ConfirmationLink("a+b"),
	)
}
