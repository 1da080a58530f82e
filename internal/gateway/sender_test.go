package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender(t *testing.T) {
	var got smsMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret", time.Second, quietLogger())
	require.NoError(t, s.Send(context.Background(), testPhone, "123456"))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, testPhone, got.To)
	assert.True(t, strings.Contains(got.Message, "123456"))
}

func TestWebhookSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "", time.Second, quietLogger())
	err := s.Send(context.Background(), testPhone, "123456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(quietLogger()).Send(context.Background(), testPhone, "123456"))
}
