package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relay/types"
)

func testAlert() *Alert {
	return &Alert{
		ID:       "alert-1",
		Rule:     "sla_violation",
		Severity: SeverityCritical,
		Message:  "p95 900ms over target 500ms",
		State:    StateOpen,
		OpenedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestWebhookChannel_PostsAlertJSON(t *testing.T) {
	var got Alert
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifiers, err := BuildNotifiers([]ChannelConfig{{
		Type:    "webhook",
		Name:    "ops",
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
	}})
	require.NoError(t, err)
	require.Len(t, notifiers, 1)
	assert.False(t, notifiers[0].Paging())

	require.NoError(t, notifiers[0].Send(context.Background(), testAlert()))
	assert.Equal(t, "sla_violation", got.Rule)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, "Bearer tok", auth)
}

func TestChatChannel_PostsTextPayload(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifiers, err := BuildNotifiers([]ChannelConfig{{Type: "chat", Name: "oncall-chat", URL: server.URL}})
	require.NoError(t, err)

	require.NoError(t, notifiers[0].Send(context.Background(), testAlert()))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Contains(t, payload["text"], "CRITICAL")
	assert.Contains(t, payload["text"], "sla_violation")
}

func TestPagerChannel_IsPagingGrade(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifiers, err := BuildNotifiers([]ChannelConfig{{Type: "pager", Name: "pd", URL: server.URL}})
	require.NoError(t, err)
	assert.True(t, notifiers[0].Paging())

	require.NoError(t, notifiers[0].Send(context.Background(), testAlert()))
	assert.Equal(t, "alert-1", payload["dedup_key"])
	assert.Equal(t, "trigger", payload["event_action"])
}

func TestWebhookChannel_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifiers, err := BuildNotifiers([]ChannelConfig{{Type: "webhook", Name: "ops", URL: server.URL}})
	require.NoError(t, err)

	err = notifiers[0].Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Equal(t, types.ErrAlertDelivery, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestBuildNotifiers_RejectsUnknownType(t *testing.T) {
	_, err := BuildNotifiers([]ChannelConfig{{Type: "carrier-pigeon", Name: "x"}})
	assert.Error(t, err)
}
