package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hlscast/internal/job"
)

var ErrInvalidTrigger = errors.New("userId, videoId and status are required")

// Trigger is the body accepted by the notify endpoint. Action is ignored and
// only tolerated for clients that still send {"action":"notify"}.
type Trigger struct {
	Action  string     `json:"action,omitempty"`
	UserID  string     `json:"userId"`
	VideoID string     `json:"videoId"`
	Status  job.Status `json:"status"`
}

// TriggerResponse reports how many channels received the event.
type TriggerResponse struct {
	Delivered int `json:"delivered"`
}

func ParseTrigger(body []byte) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(body, &t); err != nil {
		return Trigger{}, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	t.UserID = strings.TrimSpace(t.UserID)
	t.VideoID = strings.TrimSpace(t.VideoID)
	if t.UserID == "" || t.VideoID == "" || t.Status == "" {
		return Trigger{}, ErrInvalidTrigger
	}
	if !t.Status.Valid() {
		return Trigger{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTrigger, t.Status)
	}
	return t, nil
}

func (t Trigger) Event() job.Event {
	return job.NewEvent(t.UserID, t.VideoID, t.Status)
}

// HTTPClient sends notify triggers to a notifier server, for workers that do
// not hold push transport credentials themselves.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Notify(ctx context.Context, userID string, event job.Event) (int, error) {
	body, err := json.Marshal(Trigger{UserID: userID, VideoID: event.VideoID, Status: event.Status})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post notify trigger: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("notify trigger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out TriggerResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode notify response: %w", err)
	}
	return out.Delivered, nil
}
