package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// --- モック定義 ---

type mockSubscriberPurger struct {
	calls   atomic.Int32
	gotTTL  time.Duration
	deleted int64
	err     error
}

func (m *mockSubscriberPurger) DeleteExpiredPending(_ context.Context, ttl time.Duration) (int64, error) {
	m.calls.Add(1)
	m.gotTTL = ttl
	return m.deleted, m.err
}

type mockSessionPurger struct {
	calls   atomic.Int32
	deleted int64
	err     error
}

func (m *mockSessionPurger) DeleteExpired(context.Context) (int64, error) {
	m.calls.Add(1)
	return m.deleted, m.err
}

type recordingCollector struct {
	cleaned []int64
}

func (r *recordingCollector) RecordSubscription(string)        {}
func (r *recordingCollector) RecordConfirmation(string)        {}
func (r *recordingCollector) RecordLogin(string)               {}
func (r *recordingCollector) RecordEmailLatency(time.Duration) {}
func (r *recordingCollector) RecordHTTPStatus(int)             {}
func (r *recordingCollector) RecordCleanup(n int64)            { r.cleaned = append(r.cleaned, n) }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- テスト ---

func TestRun_DeletesExpiredSubscribersAndSessions(t *testing.T) {
	var buf bytes.Buffer
	subs := &mockSubscriberPurger{deleted: 4}
	sessions := &mockSessionPurger{deleted: 2}
	collector := &recordingCollector{}

	job := NewCleanupJob(subs, sessions, 24*time.Hour, collector, newTestLogger(&buf))
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run はエラーを返してはならない: %v", err)
	}

	if subs.gotTTL != 24*time.Hour {
		t.Errorf("TTL = %v, want %v", subs.gotTTL, 24*time.Hour)
	}
	if sessions.calls.Load() != 1 {
		t.Errorf("セッション削除の呼び出し回数 = %d, want 1", sessions.calls.Load())
	}
	if len(collector.cleaned) != 1 || collector.cleaned[0] != 4 {
		t.Errorf("RecordCleanup = %v, want [4]", collector.cleaned)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v", err)
	}
	if entry["deleted_subscribers"] != float64(4) {
		t.Errorf("deleted_subscribers = %v, want 4", entry["deleted_subscribers"])
	}
	if entry["deleted_sessions"] != float64(2) {
		t.Errorf("deleted_sessions = %v, want 2", entry["deleted_sessions"])
	}
}

func TestRun_WithoutSessionPurger(t *testing.T) {
	var buf bytes.Buffer
	subs := &mockSubscriberPurger{}

	job := NewCleanupJob(subs, nil, time.Hour, nil, newTestLogger(&buf))
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run はエラーを返してはならない: %v", err)
	}
	if subs.calls.Load() != 1 {
		t.Errorf("購読者削除の呼び出し回数 = %d, want 1", subs.calls.Load())
	}
}

func TestRun_SubscriberError_StillPurgesSessions(t *testing.T) {
	var buf bytes.Buffer
	subs := &mockSubscriberPurger{err: errors.New("connection refused")}
	sessions := &mockSessionPurger{}
	collector := &recordingCollector{}

	job := NewCleanupJob(subs, sessions, time.Hour, collector, newTestLogger(&buf))
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時は Run がエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("元のエラーがラップされていない: %v", err)
	}
	if sessions.calls.Load() != 1 {
		t.Error("購読者削除の失敗後もセッション削除を実行すべき")
	}
	if len(collector.cleaned) != 0 {
		t.Errorf("失敗時に RecordCleanup を呼んではならない: %v", collector.cleaned)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("ERRORログが出力されていない: %s", buf.String())
	}
}

func TestRun_SessionError_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(
		&mockSubscriberPurger{},
		&mockSessionPurger{err: errors.New("timeout")},
		time.Hour, nil, newTestLogger(&buf),
	)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("セッション削除失敗時は Run がエラーを返すべき")
	}
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	subs := &mockSubscriberPurger{}
	job := NewCleanupJob(subs, nil, time.Hour, nil, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for subs.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストのキャンセル後も Start が終了しない")
	}
	if subs.calls.Load() != 1 {
		t.Errorf("起動直後の実行回数 = %d, want 1", subs.calls.Load())
	}
}
