package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/bot123:abc/sendMessage")
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ChatID != "-1001" || req.Text != "hello" || req.ParseMode != "HTML" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":42,"chat":{"id":-1001,"type":"supergroup"},"date":1700000000,"text":"hello"}}`))
	}))
	defer server.Close()

	c := NewClient("123:abc", WithBaseURL(server.URL))
	msg, err := c.SendMessage(context.Background(), SendMessageRequest{ChatID: "-1001", Text: "hello", ParseMode: "HTML"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.MessageID != 42 || msg.Chat.ID != -1001 {
		t.Errorf("message = %+v", msg)
	}
	if !msg.Time().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Time() = %v", msg.Time())
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    int
		rateLimited bool
		retryable   bool
		terminal    bool
		retryAfter  time.Duration
	}{
		{
			name:        "rate limited",
			status:      429,
			body:        `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`,
			wantCode:    429,
			rateLimited: true,
			retryable:   true,
			retryAfter:  7 * time.Second,
		},
		{
			name:     "chat not found",
			status:   400,
			body:     `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			wantCode: 400,
		},
		{
			name:     "blocked",
			status:   403,
			body:     `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			wantCode: 403,
		},
		{
			name:     "unauthorized",
			status:   401,
			body:     `{"ok":false,"error_code":401,"description":"Unauthorized"}`,
			wantCode: 401,
			terminal: true,
		},
		{
			name:     "conflict",
			status:   409,
			body:     `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`,
			wantCode: 409,
			terminal: true,
		},
		{
			name:      "bad gateway without json",
			status:    502,
			body:      `<html>bad gateway</html>`,
			wantCode:  502,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient("tok", WithBaseURL(server.URL))
			_, err := c.SendMessage(context.Background(), SendMessageRequest{ChatID: "1", Text: "x"})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.code() != tt.wantCode {
				t.Errorf("code = %d, want %d", apiErr.code(), tt.wantCode)
			}
			if apiErr.IsRateLimited() != tt.rateLimited {
				t.Errorf("IsRateLimited() = %v, want %v", apiErr.IsRateLimited(), tt.rateLimited)
			}
			if apiErr.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", apiErr.IsRetryable(), tt.retryable)
			}
			if apiErr.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", apiErr.IsTerminal(), tt.terminal)
			}
			if apiErr.RetryAfter != tt.retryAfter {
				t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.retryAfter)
			}
		})
	}
}

func TestGetMe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getMe") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Deriv","username":"derivwatch_bot"}}`))
	}))
	defer server.Close()

	c := NewClient("tok", WithBaseURL(server.URL+"/"))
	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !me.IsBot || me.Username != "derivwatch_bot" {
		t.Errorf("me = %+v", me)
	}
}

func TestGetUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req getUpdatesRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Offset != 11 || req.Timeout != 1 {
			t.Errorf("request = %+v, want offset 11 timeout 1", req)
		}
		w.Write([]byte(`{"ok":true,"result":[{"update_id":11,"message":{"message_id":1,"chat":{"id":5},"text":"/status"}}]}`))
	}))
	defer server.Close()

	c := NewClient("tok", WithBaseURL(server.URL), WithTimeout(time.Second))
	updates, err := c.GetUpdates(context.Background(), 11, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].Message.Text != "/status" || updates[0].Message.Chat.ID != 5 {
		t.Errorf("updates = %+v", updates)
	}
}

func TestTransportErrorRedactsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient("secret-token", WithBaseURL(url))
	_, err := c.GetMe(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks token: %v", err)
	}
	if !IsTransport(err) {
		t.Errorf("IsTransport(%v) = false, want true", err)
	}
}
