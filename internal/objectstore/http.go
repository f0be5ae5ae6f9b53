package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPStore implements Store against presigned URLs. Get expects a
// presigned GET URL; Put signs nothing itself and PUTs against a base
// upload endpoint joined with the key.
type HTTPStore struct {
	client    *http.Client
	uploadURL string
}

// NewHTTPStore creates an HTTP-backed store. uploadURL is the base
// endpoint presigned PUT requests are issued against.
func NewHTTPStore(uploadURL string) *HTTPStore {
	return &HTTPStore{
		client:    &http.Client{Timeout: 60 * time.Second},
		uploadURL: uploadURL,
	}
}

// Get fetches the object behind a presigned URL.
func (s *HTTPStore) Get(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", ref, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object fetch returned status %d for %s", resp.StatusCode, ref)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Put uploads data under key and returns the object URL.
func (s *HTTPStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	target, err := url.JoinPath(s.uploadURL, key)
	if err != nil {
		return "", fmt.Errorf("failed to build upload URL for %s: %w", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("object upload returned status %d for %s", resp.StatusCode, key)
	}
	return target, nil
}
