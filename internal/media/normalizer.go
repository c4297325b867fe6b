// Package media prepares image URLs at post-creation time so that dispatch
// never pays fetch or crop costs under lock contention.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postlane/publish-engine/internal/backend"
	"github.com/postlane/publish-engine/internal/domain"
)

// Accepted aspect ratio band for feed media (width / height).
const (
	MinAspectRatio = 0.75
	MaxAspectRatio = 1.91
)

const (
	fetchAttempts      = 3
	fetchBackoffBase   = time.Second
	defaultFetchLimit  = 32 << 20 // 32 MiB
	normalizedKeyChars = 21
	jpegQuality        = 85
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Normalizer fetches, crops, and re-hosts images whose aspect ratio falls
// outside the accepted band.
type Normalizer struct {
	client *resty.Client
	store  BlobStore
	sleep  func(ctx context.Context, d time.Duration) error
	newKey func() (string, error)
}

func NewNormalizer(store BlobStore) (*Normalizer, error) {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(0)

	return NewNormalizerWithClient(store, client)
}

func NewNormalizerWithClient(store BlobStore, client *resty.Client) (*Normalizer, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	client.SetRetryCount(0)

	return &Normalizer{
		client: client,
		store:  store,
		sleep:  sleepWithContext,
		newKey: func() (string, error) {
			return gonanoid.New(normalizedKeyChars)
		},
	}, nil
}

// Normalize rewrites out-of-band image URLs in place and records the
// re-hosted paths on the post for later cleanup. Only feed-style posts are
// normalized; stories and reels pass through untouched. Any unrecoverable
// fetch, crop, or upload failure is returned so the caller can abort creation.
func (n *Normalizer) Normalize(ctx context.Context, post *domain.Post) error {
	if post == nil {
		return fmt.Errorf("post is required")
	}
	if post.Kind != domain.KindSingle && post.Kind != domain.KindCarousel {
		return nil
	}

	for i := range post.Media {
		item := &post.Media[i]
		if item.Normalized || backend.IsVideoURL(item.URL) {
			continue
		}

		data, err := n.fetch(ctx, item.URL)
		if err != nil {
			return fmt.Errorf("failed to fetch media %s: %w", item.URL, err)
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to decode media %s: %w", item.URL, err)
		}

		bounds := img.Bounds()
		ratio := float64(bounds.Dx()) / float64(bounds.Dy())
		if ratio >= MinAspectRatio && ratio <= MaxAspectRatio {
			item.Normalized = true
			continue
		}

		cropped, err := cropToBand(img)
		if err != nil {
			return fmt.Errorf("failed to crop media %s: %w", item.URL, err)
		}

		var encoded bytes.Buffer
		if err := jpeg.Encode(&encoded, cropped, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode media %s: %w", item.URL, err)
		}

		key, err := n.newKey()
		if err != nil {
			return fmt.Errorf("failed to derive object key: %w", err)
		}

		stored, err := n.store.Put(ctx, "normalized/"+key+".jpg", encoded.Bytes(), "image/jpeg")
		if err != nil {
			return fmt.Errorf("failed to re-host media %s: %w", item.URL, err)
		}

		item.URL = stored.URL
		item.Normalized = true
		post.RehostedPaths = append(post.RehostedPaths, stored.Pathname)
	}

	return nil
}

// fetch downloads the media bytes with bounded retry and exponential backoff.
func (n *Normalizer) fetch(ctx context.Context, url string) ([]byte, error) {
	backoff := fetchBackoffBase
	var lastErr error

	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if attempt > 1 {
			if err := n.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		response, err := n.client.R().SetContext(ctx).Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		if response.StatusCode() != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d", response.StatusCode())
			continue
		}

		data := response.Body()
		if len(data) == 0 {
			lastErr = fmt.Errorf("empty response body")
			continue
		}
		if len(data) > defaultFetchLimit {
			return nil, fmt.Errorf("media exceeds %d bytes", defaultFetchLimit)
		}
		if kind, _ := filetype.Match(data); kind != filetype.Unknown && filetype.IsVideo(data) {
			return nil, fmt.Errorf("url resolves to video content")
		}

		return data, nil
	}

	return nil, fmt.Errorf("exhausted %d fetch attempts: %w", fetchAttempts, lastErr)
}

// cropToBand center-crops the image to the nearest edge of the accepted
// aspect ratio band.
func cropToBand(img image.Image) (image.Image, error) {
	sub, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T does not support cropping", img)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	ratio := float64(width) / float64(height)

	var rect image.Rectangle
	switch {
	case ratio > MaxAspectRatio:
		// Too wide: trim the sides.
		newWidth := int(float64(height) * MaxAspectRatio)
		offset := (width - newWidth) / 2
		rect = image.Rect(bounds.Min.X+offset, bounds.Min.Y, bounds.Min.X+offset+newWidth, bounds.Max.Y)
	case ratio < MinAspectRatio:
		// Too tall: trim top and bottom.
		newHeight := int(float64(width) / MinAspectRatio)
		offset := (height - newHeight) / 2
		rect = image.Rect(bounds.Min.X, bounds.Min.Y+offset, bounds.Max.X, bounds.Min.Y+offset+newHeight)
	default:
		return img, nil
	}

	return sub.SubImage(rect), nil
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
