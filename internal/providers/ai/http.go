package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps how much of a provider body is read into memory.
const maxResponseBytes = 4 << 20

func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, &RequestError{Provider: provider, StatusCode: http.StatusInternalServerError, Code: CodeEncode, Message: "encode request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, &RequestError{Provider: provider, StatusCode: http.StatusBadRequest, Code: "build_request", Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(provider, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(provider, resp.StatusCode, body)
	}
	return body, nil
}
