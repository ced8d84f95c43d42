package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// poolSize bounds idle connections per backend host.
const poolSize = 4

// newHTTPClient returns a pooled client with no client-level timeout; each
// request carries its own deadline through its context.
func newHTTPClient() (*http.Client, *http.Transport) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	return &http.Client{Transport: transport}, transport
}

// jsonRequest describes one JSON exchange with a backend.
type jsonRequest struct {
	backend string
	model   string
	method  string
	url     string
	bearer  string
	body    any
}

// doJSON performs req and decodes a 2xx response into out. Non-2xx
// responses and transport failures are classified into AmanErrors.
func doJSON(ctx context.Context, client *http.Client, req jsonRequest, out any) error {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", req.backend, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", req.backend, err)
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return transportError(ctx, req.backend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxErrorBody))
		return statusError(req.backend, req.model, resp, respBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(ctx, req.backend, err)
		}
		return invalidResponse(req.backend, "decode response: %v", err)
	}
	return nil
}
