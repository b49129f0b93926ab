package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const slackProfileSetURL = "https://slack.com/api/users.profile.set"

// SlackClient posts generated statuses to the Slack profile API.
type SlackClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewSlackClient() *SlackClient {
	return &SlackClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    slackProfileSetURL,
	}
}

type slackProfile struct {
	StatusText       string `json:"status_text"`
	StatusEmoji      string `json:"status_emoji"`
	StatusExpiration int64  `json:"status_expiration"`
}

type slackProfileSetRequest struct {
	Profile slackProfile `json:"profile"`
}

type slackProfileSetResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// SetStatus updates the user's Slack status. expiresAt is a unix timestamp
// in seconds; zero means no expiry.
func (c *SlackClient) SetStatus(ctx context.Context, token string, line Line, expiresAt int64) error {
	body, err := json.Marshal(slackProfileSetRequest{
		Profile: slackProfile{
			StatusText:       line.Text,
			StatusEmoji:      line.Emoji,
			StatusExpiration: expiresAt,
		},
	})
	if err != nil {
		return fmt.Errorf("slack: encode profile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer resp.Body.Close()

	var decoded slackProfileSetResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("slack: decode response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("slack: users.profile.set failed: %s", decoded.Error)
	}
	return nil
}
