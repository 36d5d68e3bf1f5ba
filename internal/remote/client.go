package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/edgesync/internal/record"
)

// HTTPClient is a Remote speaking the binding served by Server.
//
// Status mapping: 200 applied, 409 conflict, 400 and 422 VALIDATION,
// 404 NOT_FOUND. Transport failures and every other status are NETWORK.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient returns a client for the authority at baseURL. A nil
// client uses one with a 10 second timeout.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Push implements Remote.
func (c *HTTPClient) Push(ctx context.Context, rec record.SyncRecord) (PushResult, error) {
	body, err := json.Marshal(toWireRecord(rec))
	if err != nil {
		return PushResult{}, &record.Error{Code: record.CodeValidation, Op: "push", Err: err, RecordID: rec.ID}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return PushResult{}, record.NetworkError("push", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return PushResult{}, record.NetworkError("push", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		var w wirePushResult
		if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
			return PushResult{}, record.NetworkError("push", fmt.Errorf("decode response: %w", err))
		}
		return w.result(), nil
	default:
		return PushResult{}, statusError("push", rec.ID, resp)
	}
}

// Fetch implements Remote.
func (c *HTTPClient) Fetch(ctx context.Context, entityType, entityID string) (Entity, error) {
	u := fmt.Sprintf("%s/v1/entities/%s/%s", c.baseURL, url.PathEscape(entityType), url.PathEscape(entityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Entity{}, record.NetworkError("fetch", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Entity{}, record.NetworkError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Entity{}, statusError("fetch", "", resp)
	}
	var w wireEntity
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return Entity{}, record.NetworkError("fetch", fmt.Errorf("decode response: %w", err))
	}
	return w.entity(), nil
}

func statusError(op, recordID string, resp *http.Response) error {
	var w wireError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &w); err != nil || w.Message == "" {
		w.Message = strings.TrimSpace(string(data))
	}
	msg := fmt.Sprintf("status %d: %s", resp.StatusCode, w.Message)

	code := record.CodeNetwork
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = record.CodeValidation
	case http.StatusNotFound:
		code = record.CodeNotFound
	}
	return &record.Error{Code: code, Op: op, Err: errors.New(msg), RecordID: recordID}
}
