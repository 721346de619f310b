package vision

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"
)

// HTTPFrameSource pulls single frames from a network camera's snapshot
// endpoint. Most lab microscope cameras expose one; it keeps the controller
// free of vendor SDKs.
type HTTPFrameSource struct {
	url    string
	client *http.Client
}

func NewHTTPFrameSource(url string, timeout time.Duration) *HTTPFrameSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFrameSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPFrameSource) Capture(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned %s", resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}
