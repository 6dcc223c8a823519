package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ReadClient talks to a Read-style OCR REST API: submit the document URL,
// then poll the returned operation until the analysis settles.
type ReadClient struct {
	http *resty.Client
}

const (
	pollInterval    = time.Second
	maxPollAttempts = 60
)

func NewReadClient(endpoint, apiKey string) (*ReadClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ocr endpoint required")
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Ocp-Apim-Subscription-Key", apiKey).
		SetTimeout(30 * time.Second)
	return &ReadClient{http: client}, nil
}

func (c *ReadClient) ExtractText(ctx context.Context, docURL string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"urlSource": docURL}).
		Post("/documentintelligence/documentModels/prebuilt-read:analyze?api-version=2024-11-30")
	if err != nil {
		return "", fmt.Errorf("ocr submit failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ocr submit failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	opURL := resp.Header().Get("Operation-Location")
	if opURL == "" {
		return "", fmt.Errorf("ocr submit failed: missing Operation-Location header")
	}
	return c.poll(ctx, opURL)
}

func (c *ReadClient) poll(ctx context.Context, opURL string) (string, error) {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}

		resp, err := c.http.R().SetContext(ctx).Get(opURL)
		if err != nil {
			return "", fmt.Errorf("ocr poll failed: %w", err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("ocr poll failed: status %d", resp.StatusCode())
		}

		body := resp.String()
		switch gjson.Get(body, "status").String() {
		case "succeeded":
			return gjson.Get(body, "analyzeResult.content").String(), nil
		case "failed":
			return "", fmt.Errorf("ocr analysis failed: %s", gjson.Get(body, "error.message").String())
		}
		// "running" / "notStarted": keep polling.
	}
	return "", fmt.Errorf("ocr analysis did not settle after %d polls", maxPollAttempts)
}
