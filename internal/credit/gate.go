// Package credit integrates the external billing service. Deduction happens
// after a successful backend send so that billing reflects only work actually
// submitted.
package credit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/postlane/publish-engine/internal/domain"
)

const defaultGateTimeout = 10 * time.Second

// FeaturePublish is the feature key billed per dispatched post.
const FeaturePublish = "publish_post"

// Gate authorizes billable work against the credit service.
type Gate interface {
	Authorize(ctx context.Context, userID, feature string) error
}

type deductRequest struct {
	UserID  string `json:"userId"`
	Feature string `json:"feature"`
}

// HTTPGate calls the credit service's deduct endpoint.
type HTTPGate struct {
	client  *resty.Client
	baseURL string
}

var _ Gate = (*HTTPGate)(nil)

func NewHTTPGate(baseURL string) (*HTTPGate, error) {
	client := resty.New()
	client.SetTimeout(defaultGateTimeout)
	client.SetRetryCount(0)

	return NewHTTPGateWithClient(baseURL, client)
}

func NewHTTPGateWithClient(baseURL string, client *resty.Client) (*HTTPGate, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("credit service url is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGateTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPGate{client: client, baseURL: trimmed}, nil
}

// Authorize deducts credits for the feature. An exhausted balance maps to
// domain.ErrInsufficientCredits; every other failure is an ordinary error the
// caller treats as retryable.
func (g *HTTPGate) Authorize(ctx context.Context, userID, feature string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(feature) == "" {
		return fmt.Errorf("%w: feature is required", domain.ErrValidation)
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(deductRequest{UserID: userID, Feature: feature}).
		Post(g.baseURL + "/credits/deduct")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("credit deduction request failed: %w", err)
	}

	statusCode := response.StatusCode()
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return nil
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("user %s: %w", userID, domain.ErrInsufficientCredits)
	default:
		return fmt.Errorf("credit service returned status %d: %s", statusCode, strings.TrimSpace(response.String()))
	}
}
