package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"recipe-box/internal/config"
)

const (
	// Expo accepts at most 100 messages per request.
	expoBatchSize = 100

	// ErrDeviceNotRegistered is the ticket error for a token that no
	// longer reaches a device.
	ErrDeviceNotRegistered = "DeviceNotRegistered"
)

// PushMessage is one Expo push notification.
type PushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

// Ticket is Expo's per-message answer, in request order.
type Ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details"`
}

// OK reports whether Expo accepted the message.
func (t Ticket) OK() bool { return t.Status == "ok" }

// Pusher sends push notifications.
type Pusher interface {
	Push(ctx context.Context, msgs []PushMessage) ([]Ticket, error)
}

// ExpoClient is a client for the Expo push API.
type ExpoClient struct {
	url         string
	accessToken string
	httpClient  *http.Client
}

// NewExpoClient creates a client from the EXPO_* settings.
func NewExpoClient(cfg *config.Config) *ExpoClient {
	return &ExpoClient{
		url:         cfg.ExpoPushURL,
		accessToken: cfg.ExpoAccessToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Push sends msgs in batches and returns one ticket per message.
func (c *ExpoClient) Push(ctx context.Context, msgs []PushMessage) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(msgs))
	for start := 0; start < len(msgs); start += expoBatchSize {
		end := min(start+expoBatchSize, len(msgs))
		batch, err := c.send(ctx, msgs[start:end])
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, batch...)
	}
	return tickets, nil
}

func (c *ExpoClient) send(ctx context.Context, msgs []PushMessage) ([]Ticket, error) {
	jsonBody, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("expo api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var expoResp struct {
		Data   []Ticket `json:"data"`
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&expoResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(expoResp.Errors) > 0 {
		return nil, fmt.Errorf("expo api error: %s: %s", expoResp.Errors[0].Code, expoResp.Errors[0].Message)
	}
	if len(expoResp.Data) != len(msgs) {
		return nil, fmt.Errorf("expo returned %d tickets for %d messages", len(expoResp.Data), len(msgs))
	}
	return expoResp.Data, nil
}
