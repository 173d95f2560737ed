// Package adapters implements the reconciliation collaborator ports over
// HTTP. Both clients are single-shot: no retry, no engine-imposed timeout
// beyond the caller's context, failures surface verbatim to the upload
// request that triggered them.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPExtractor calls the file extraction collaborator. The collaborator
// accepts the raw file body and answers with the extracted plain text.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExtractor(baseURL string, client *http.Client) *HTTPExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExtractor{baseURL: baseURL, client: client}
}

func (e *HTTPExtractor) Extract(ctx context.Context, data []byte, kind string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract?kind="+kind, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("extractor returned %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode extractor response: %w", err)
	}
	return out.Text, nil
}
