package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/tag"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	PostID          string   `json:"postId"`
	ProjectID       string   `json:"projectId"`
	MediaType       string   `json:"mediaType"`
	Caption         string   `json:"caption"`
	MediaURLs       []string `json:"mediaUrls"`
	FirstComment    *string  `json:"firstComment,omitempty"`
	PublishMode     string   `json:"publishMode"`
	VerificationTag *string  `json:"verificationTag,omitempty"`
}

// WebhookBackend posts a flat payload to a per-project webhook, falling back
// to the configured default URL. A 2xx response only means the call was
// accepted: final status arrives through an external confirmation channel or
// the stuck-post sweep.
type WebhookBackend struct {
	client     *resty.Client
	defaultURL string
}

var _ Backend = (*WebhookBackend)(nil)

func NewWebhookBackend(defaultURL string) (*WebhookBackend, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookBackendWithClient(defaultURL, client)
}

func NewWebhookBackendWithClient(defaultURL string, client *resty.Client) (*WebhookBackend, error) {
	trimmed := strings.TrimSpace(defaultURL)
	if trimmed != "" {
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return nil, fmt.Errorf("invalid default webhook url: %w", err)
		}
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookBackend{
		client:     client,
		defaultURL: trimmed,
	}, nil
}

func (b *WebhookBackend) Kind() domain.BackendKind { return domain.BackendWebhook }

func (b *WebhookBackend) Send(ctx context.Context, post domain.Post) (*SendResult, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("backend is not initialized")
	}

	endpoint := b.resolveURL(post)
	if endpoint == "" {
		return nil, &BackendError{
			Message:   "no webhook url configured for project " + post.ProjectID,
			Transient: false,
		}
	}

	if len(post.Media) > domain.MaxCarouselItems {
		return nil, &BackendError{
			Message:   fmt.Sprintf("webhook backend accepts at most %d media items (got %d)", domain.MaxCarouselItems, len(post.Media)),
			Transient: false,
		}
	}

	caption := post.Caption
	if post.IsStory() && post.VerificationTag != nil {
		caption = tag.Append(caption, *post.VerificationTag)
	}

	mediaURLs := make([]string, 0, len(post.Media))
	for _, item := range post.Media {
		mediaURLs = append(mediaURLs, item.URL)
	}

	reqBody := webhookRequest{
		PostID:          post.ID,
		ProjectID:       post.ProjectID,
		MediaType:       classifyWebhookMedia(post.Media),
		Caption:         caption,
		MediaURLs:       mediaURLs,
		FirstComment:    post.FirstComment,
		PublishMode:     strings.ToLower(post.PublishMode.String()),
		VerificationTag: post.VerificationTag,
	}

	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(endpoint)
	if err != nil {
		return nil, &BackendError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &BackendError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			RemoteStatus: RemotePending,
			RawResponse:  responseBody,
		}, nil
	}

	return nil, &BackendError{
		StatusCode: statusCode,
		Message:    webhookErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (b *WebhookBackend) resolveURL(post domain.Post) string {
	if post.WebhookURL != nil && strings.TrimSpace(*post.WebhookURL) != "" {
		return strings.TrimSpace(*post.WebhookURL)
	}
	return b.defaultURL
}

func classifyWebhookMedia(media []domain.MediaItem) string {
	if len(media) > 1 {
		return "multiple_images"
	}
	if len(media) == 1 && IsVideoURL(media[0].URL) {
		return "video"
	}
	return "image"
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
