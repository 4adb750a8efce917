package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// スクレイプ結果に購読フローの各メトリクスがテキスト形式で現れること。
func TestHandler_ExposesLetterboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSubscription(ResultSuccess)
	c.RecordConfirmation(ResultNotFound)
	c.RecordEmailLatency(150 * time.Millisecond)
	c.RecordCleanup(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"),
		"unexpected content type %q", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, want := range []string{
		`letterbox_subscriptions_total{result="success"} 1`,
		`letterbox_confirmations_total{result="not_found"} 1`,
		`letterbox_email_send_seconds_count 1`,
		`letterbox_expired_subscribers_deleted_total 3`,
	} {
		assert.Contains(t, string(body), want)
	}
}

// 別のレジストリに記録した値は混ざらない。
func TestHandler_ServesOnlyGivenGatherer(t *testing.T) {
	served := prometheus.NewRegistry()
	NewCollector(served)
	other := prometheus.NewRegistry()
	NewCollector(other).RecordLogin(ResultRejected)

	w := httptest.NewRecorder()
	Handler(served).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `letterbox_logins_total{result="rejected"}`)
}
