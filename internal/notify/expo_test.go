package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/config"
)

func newTestExpo(t *testing.T, handler http.HandlerFunc) *ExpoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExpoClient(&config.Config{ExpoPushURL: srv.URL, ExpoAccessToken: "secret"})
}

func TestExpoClient_Push(t *testing.T) {
	var batches []int
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var msgs []PushMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msgs))
		batches = append(batches, len(msgs))

		data := make([]map[string]any, len(msgs))
		for i, m := range msgs {
			if m.To == "ExponentPushToken[gone]" {
				data[i] = map[string]any{"status": "error", "message": "not registered", "details": map[string]string{"error": "DeviceNotRegistered"}}
				continue
			}
			data[i] = map[string]any{"status": "ok", "id": fmt.Sprintf("ticket-%d", i)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	msgs := make([]PushMessage, 150)
	for i := range msgs {
		msgs[i] = PushMessage{To: fmt.Sprintf("ExponentPushToken[%d]", i), Body: "hi"}
	}
	msgs[120].To = "ExponentPushToken[gone]"

	tickets, err := client.Push(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 50}, batches)
	require.Len(t, tickets, 150)
	assert.True(t, tickets[0].OK())
	assert.False(t, tickets[120].OK())
	assert.Equal(t, ErrDeviceNotRegistered, tickets[120].Details.Error)
}

func TestExpoClient_Errors(t *testing.T) {
	client := newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := client.Push(context.Background(), []PushMessage{{To: "ExponentPushToken[a]"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")

	client = newTestExpo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"code":"PUSH_TOO_MANY_EXPERIENCE_IDS","message":"mixed projects"}]}`))
	})
	_, err = client.Push(context.Background(), []PushMessage{{To: "ExponentPushToken[a]"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed projects")
}
