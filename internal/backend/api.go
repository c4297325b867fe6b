package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/tag"
)

const (
	defaultAPITimeout = 15 * time.Second

	// Media hosts can lag CDN propagation; the backend validates URLs at
	// create time, so give freshly re-hosted media a moment to settle.
	defaultPropagationDelay = 3 * time.Second
)

type apiMediaItem struct {
	Type    string  `json:"type"`
	URL     string  `json:"url"`
	AltText *string `json:"altText,omitempty"`
}

type apiCreateRequest struct {
	Kind           string         `json:"kind"`
	Caption        string         `json:"caption"`
	FirstComment   *string        `json:"firstComment,omitempty"`
	Media          []apiMediaItem `json:"media"`
	PublishNow     bool           `json:"publishNow"`
	StoryPlacement bool           `json:"storyPlacement,omitempty"`
}

type apiPostResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Permalink      string     `json:"permalink,omitempty"`
	PlatformPostID string     `json:"platformPostId,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	Error          *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// APIBackend publishes through the managed create-post API and doubles as the
// backend of record for reconciliation.
type APIBackend struct {
	client           *resty.Client
	baseURL          string
	apiKey           string
	propagationDelay time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
}

var _ Backend = (*APIBackend)(nil)
var _ StatusSource = (*APIBackend)(nil)

func NewAPIBackend(baseURL, apiKey string) (*APIBackend, error) {
	client := resty.New()
	client.SetTimeout(defaultAPITimeout)
	client.SetRetryCount(0)

	return NewAPIBackendWithClient(baseURL, apiKey, client)
}

func NewAPIBackendWithClient(baseURL, apiKey string, client *resty.Client) (*APIBackend, error) {
	trimmedURL := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("api backend url is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api backend key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAPITimeout)
	}
	client.SetRetryCount(0)

	return &APIBackend{
		client:           client,
		baseURL:          trimmedURL,
		apiKey:           apiKey,
		propagationDelay: defaultPropagationDelay,
		sleep:            sleepWithContext,
	}, nil
}

func (b *APIBackend) Kind() domain.BackendKind { return domain.BackendAPI }

func (b *APIBackend) Send(ctx context.Context, post domain.Post) (*SendResult, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("backend is not initialized")
	}

	if err := b.checkMediaReachable(ctx, post.Media); err != nil {
		return nil, err
	}

	if b.propagationDelay > 0 {
		if err := b.sleep(ctx, b.propagationDelay); err != nil {
			return nil, err
		}
	}

	caption := post.Caption
	if post.IsStory() && post.VerificationTag != nil {
		caption = tag.Append(caption, *post.VerificationTag)
	}

	media := make([]apiMediaItem, 0, len(post.Media))
	for _, item := range post.Media {
		mediaType := "image"
		if IsVideoURL(item.URL) {
			mediaType = "video"
		}
		media = append(media, apiMediaItem{
			Type:    mediaType,
			URL:     item.URL,
			AltText: item.AltText,
		})
	}

	reqBody := apiCreateRequest{
		Kind:           strings.ToLower(post.Kind.String()),
		Caption:        caption,
		FirstComment:   post.FirstComment,
		Media:          media,
		PublishNow:     true,
		StoryPlacement: post.IsStory(),
	}

	var parsed apiPostResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+b.apiKey).
		SetBody(reqBody).
		SetResult(&parsed).
		SetError(&parsed).
		Post(b.baseURL + "/posts")
	if err != nil {
		return nil, &BackendError{
			Message:   "create post request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	if statusErr := b.classifyResponse(response, &parsed, post.Kind); statusErr != nil {
		return nil, statusErr
	}
	if parsed.ID == "" {
		return nil, &BackendError{
			StatusCode: response.StatusCode(),
			Message:    "backend returned no post id",
			Transient:  true,
		}
	}

	result := &SendResult{
		BackendPostID:  parsed.ID,
		Permalink:      parsed.Permalink,
		PlatformPostID: parsed.PlatformPostID,
		PublishedAt:    parsed.PublishedAt,
		RawResponse:    strings.TrimSpace(response.String()),
	}

	switch parsed.Status {
	case RemotePublished:
		result.RemoteStatus = RemotePublished
	case RemoteFailed, RemotePartial:
		return nil, &BackendError{
			StatusCode: response.StatusCode(),
			Message:    remoteFailureMessage(&parsed, post.Kind),
			Transient:  parsed.Error != nil && isAspectRatioCode(parsed.Error.Code),
		}
	default:
		// Accepted but not yet final; reconciliation resolves it.
		result.RemoteStatus = RemotePublishing
	}

	return result, nil
}

// GetPost fetches the authoritative remote state for a previously created post.
func (b *APIBackend) GetPost(ctx context.Context, backendPostID string) (*RemotePost, error) {
	if strings.TrimSpace(backendPostID) == "" {
		return nil, fmt.Errorf("backend post id is required")
	}

	var parsed apiPostResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+b.apiKey).
		SetResult(&parsed).
		SetError(&parsed).
		Get(b.baseURL + "/posts/" + backendPostID)
	if err != nil {
		return nil, &BackendError{
			Message:   "get post request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	if statusErr := b.classifyResponse(response, &parsed, ""); statusErr != nil {
		return nil, statusErr
	}

	remote := &RemotePost{
		ID:             parsed.ID,
		Status:         parsed.Status,
		Permalink:      parsed.Permalink,
		PlatformPostID: parsed.PlatformPostID,
		PublishedAt:    parsed.PublishedAt,
	}
	if parsed.Error != nil {
		remote.ErrorMessage = parsed.Error.Message
	}
	return remote, nil
}

// checkMediaReachable verifies every media URL responds before the backend is
// asked to fetch it. A single unreachable URL is a terminal error naming it.
func (b *APIBackend) checkMediaReachable(ctx context.Context, media []domain.MediaItem) error {
	for _, item := range media {
		response, err := b.client.R().SetContext(ctx).Head(item.URL)
		if err != nil {
			return &BackendError{
				Message:   fmt.Sprintf("media url %s is unreachable", item.URL),
				Transient: false,
				Cause:     err,
			}
		}
		if response.StatusCode() >= http.StatusBadRequest {
			return &BackendError{
				StatusCode: response.StatusCode(),
				Message:    fmt.Sprintf("media url %s is unreachable", item.URL),
				Transient:  false,
			}
		}
	}
	return nil
}

func (b *APIBackend) classifyResponse(response *resty.Response, parsed *apiPostResponse, kind domain.Kind) error {
	if response == nil {
		return &BackendError{Message: "backend returned empty response", Transient: true}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	backendErr := &BackendError{
		StatusCode: statusCode,
		Transient:  isTransientHTTPStatus(statusCode),
		Message:    fmt.Sprintf("backend returned status %d", statusCode),
	}

	if statusCode == http.StatusTooManyRequests {
		backendErr.RetryAfter = retryAfterFromHeader(response)
	}

	if parsed != nil && parsed.Error != nil {
		if kind != "" && isAspectRatioCode(parsed.Error.Code) {
			// Media rejections stay retryable up to the attempt cap.
			backendErr.Message = AspectRatioMessage(kind)
			backendErr.Transient = true
		} else if parsed.Error.Message != "" {
			backendErr.Message = parsed.Error.Message
		}
	}

	return backendErr
}

func isAspectRatioCode(code string) bool {
	normalized := strings.ToLower(code)
	return strings.Contains(normalized, "aspect_ratio") || strings.Contains(normalized, "aspect-ratio")
}

func remoteFailureMessage(parsed *apiPostResponse, kind domain.Kind) string {
	if parsed.Error != nil {
		if isAspectRatioCode(parsed.Error.Code) {
			return AspectRatioMessage(kind)
		}
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
	}
	return fmt.Sprintf("backend reported status %s", parsed.Status)
}

func retryAfterFromHeader(response *resty.Response) time.Duration {
	raw := strings.TrimSpace(response.Header().Get("Retry-After"))
	if raw == "" {
		return time.Minute
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
