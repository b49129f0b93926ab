package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSlackClient_SetStatus(t *testing.T) {
	var got slackProfileSetRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(slackProfileSetResponse{OK: true})
	}))
	defer srv.Close()

	c := NewSlackClient()
	c.baseURL = srv.URL

	err := c.SetStatus(context.Background(), "xoxp-token", Line{Text: "coding", Emoji: ":keyboard:"}, 1234)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if auth != "Bearer xoxp-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Profile.StatusText != "coding" || got.Profile.StatusEmoji != ":keyboard:" {
		t.Errorf("profile = %+v", got.Profile)
	}
	if got.Profile.StatusExpiration != 1234 {
		t.Errorf("expiration = %d, want 1234", got.Profile.StatusExpiration)
	}
}

func TestSlackClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(slackProfileSetResponse{OK: false, Error: "invalid_auth"})
	}))
	defer srv.Close()

	c := NewSlackClient()
	c.baseURL = srv.URL

	err := c.SetStatus(context.Background(), "bad-token", Line{Text: "coding"}, 0)
	if err == nil {
		t.Fatal("expected error for ok=false response")
	}
}
