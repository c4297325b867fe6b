package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/postlane/publish-engine/internal/domain"
)

func newTestWebhookBackend(t *testing.T, defaultURL string) *WebhookBackend {
	t.Helper()
	client := resty.New()
	client.SetTimeout(5 * time.Second)
	b, err := NewWebhookBackendWithClient(defaultURL, client)
	if err != nil {
		t.Fatalf("NewWebhookBackendWithClient: %v", err)
	}
	return b
}

func webhookTestPost() domain.Post {
	return domain.Post{
		ID:          "post-1",
		ProjectID:   "project-1",
		UserID:      "user-1",
		Kind:        domain.KindSingle,
		Caption:     "hello",
		PublishMode: domain.PublishModeDirect,
		Media:       []domain.MediaItem{{URL: "https://cdn.example.com/a.jpg"}},
		Backend:     domain.BackendWebhook,
	}
}

func TestWebhookBackend_Send_AcceptedIsPending(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := newTestWebhookBackend(t, server.URL)
	result, err := b.Send(context.Background(), webhookTestPost())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.RemoteStatus != RemotePending {
		t.Fatalf("remote status = %s, want pending", result.RemoteStatus)
	}
	if result.BackendPostID != "" {
		t.Fatal("webhook sends carry no backend post id")
	}
	if gotBody.PostID != "post-1" || gotBody.MediaType != "image" {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestWebhookBackend_Send_ProjectURLOverridesDefault(t *testing.T) {
	t.Parallel()

	hit := make(chan string, 1)
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- "override"
		w.WriteHeader(http.StatusOK)
	}))
	defer override.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- "default"
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	post := webhookTestPost()
	overrideURL := override.URL
	post.WebhookURL = &overrideURL

	b := newTestWebhookBackend(t, fallback.URL)
	if _, err := b.Send(context.Background(), post); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := <-hit; got != "override" {
		t.Fatalf("delivered to %s, want the project override", got)
	}
}

func TestWebhookBackend_Send_NoURLIsTerminal(t *testing.T) {
	t.Parallel()

	b := newTestWebhookBackend(t, "")
	_, err := b.Send(context.Background(), webhookTestPost())
	if err == nil {
		t.Fatal("expected error with no webhook url")
	}
	if IsTransient(err) {
		t.Fatal("missing webhook url must be terminal")
	}
	if !strings.Contains(err.Error(), "project-1") {
		t.Fatalf("error %q does not name the project", err.Error())
	}
}

func TestWebhookBackend_Send_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	b := newTestWebhookBackend(t, server.URL)
	_, err := b.Send(context.Background(), webhookTestPost())
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !IsTransient(err) {
		t.Fatal("5xx must be retryable")
	}
}

func TestWebhookBackend_Send_ClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	b := newTestWebhookBackend(t, server.URL)
	_, err := b.Send(context.Background(), webhookTestPost())
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if IsTransient(err) {
		t.Fatal("4xx must not be retryable")
	}
}

func TestClassifyWebhookMedia(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		media []domain.MediaItem
		want  string
	}{
		{"single image", []domain.MediaItem{{URL: "https://x/a.jpg"}}, "image"},
		{"single video", []domain.MediaItem{{URL: "https://x/a.mp4"}}, "video"},
		{"carousel", []domain.MediaItem{{URL: "https://x/a.jpg"}, {URL: "https://x/b.jpg"}}, "multiple_images"},
	}
	for _, tc := range cases {
		if got := classifyWebhookMedia(tc.media); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
