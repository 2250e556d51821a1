package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSender(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Recipe Box","username":"recipebox_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/setWebhook"):
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "https://api.example.com/webhooks/telegram/s3cret", r.PostForm.Get("url"))
			_, _ = w.Write([]byte(`{"ok":true,"result":true,"description":"Webhook was set"}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "42", r.PostForm.Get("chat_id"))
			assert.Equal(t, "Markdown", r.PostForm.Get("parse_mode"))
			sent = append(sent, r.PostForm.Get("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	defer srv.Close()

	sender, err := NewTelegramSenderWithEndpoint("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "recipebox_bot", sender.Username())

	require.NoError(t, sender.SendMarkdown(42, "*hello*"))
	assert.Equal(t, []string{"*hello*"}, sent)

	require.NoError(t, sender.SetWebhook("https://api.example.com/webhooks/telegram/s3cret"))
}

func TestTelegramSender_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewTelegramSenderWithEndpoint("bad", srv.URL+"/bot%s/%s", srv.Client())
	assert.Error(t, err)
}
