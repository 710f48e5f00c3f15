package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

type offerResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// call описывает один запрос к API офферов.
type call struct {
	step           string
	method         string
	path           string
	userID         string
	idempotencyKey string
	body           any
	want           int
}

type offersClient struct {
	baseURL string
	http    *http.Client
	rec     *recorder
}

func newOffersClient(baseURL string, httpClient *http.Client, rec *recorder) *offersClient {
	return &offersClient{baseURL: baseURL, http: httpClient, rec: rec}
}

// do выполняет запрос, записывает код ответа и декодирует тело в out, если он задан.
func (c *offersClient) do(ctx context.Context, req call, out any) error {
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", req.step, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", req.step, err)
	}
	httpReq.Header.Set(headerUserID, req.userID)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(headerIdempotencyKey, req.idempotencyKey)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.rec.observe(req.step, time.Since(started), codeTransport, false)
		return fmt.Errorf("%s: %w", req.step, err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	c.rec.observe(req.step, time.Since(started), strconv.Itoa(resp.StatusCode), readErr == nil && resp.StatusCode == req.want)

	switch {
	case readErr != nil:
		return fmt.Errorf("%s: read body: %w", req.step, readErr)
	case resp.StatusCode != req.want:
		return fmt.Errorf("%s: unexpected status %d: %s", req.step, resp.StatusCode, strings.TrimSpace(string(payload)))
	case out == nil:
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.step, err)
	}
	return nil
}
