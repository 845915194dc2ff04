package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-dompet/internal/resilience"
)

// ErrProviderUnavailable means no text could be obtained from the provider.
var ErrProviderUnavailable = errors.New("ocr: provider unavailable")

// Provider extracts raw text from a receipt image.
type Provider interface {
	ExtractText(ctx context.Context, image []byte, contentType string) (string, error)
}

// Doer sends an outbound request; *resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = (*resilience.HTTPClient)(nil)

// HTTPProvider posts images as base64 JSON to an OCR endpoint.
type HTTPProvider struct {
	Endpoint string
	APIKey   string
	HTTP     Doer
}

type extractRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
}

type extractResponse struct {
	Text string `json:"text"`
}

func (p *HTTPProvider) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	if p.Endpoint == "" || p.HTTP == nil {
		return "", fmt.Errorf("%w: endpoint not configured", ErrProviderUnavailable)
	}
	body, err := json.Marshal(extractRequest{Image: base64.StdEncoding.EncodeToString(image), MimeType: contentType})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.HTTP.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return out.Text, nil
}
