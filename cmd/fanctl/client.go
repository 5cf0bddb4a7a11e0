package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fanout/internal/runs"
)

// APIClient talks to a running fanout server.
type APIClient struct {
	BaseURL string
	Client  *http.Client
}

// NewAPIClient constructs a client for the given server address.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type startRunRequest struct {
	Tasks       []taskPayload `json:"tasks"`
	Concurrency int           `json:"concurrency"`
	Runner      string        `json:"runner"`
	Serial      bool          `json:"serial"`
}

type taskPayload struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// StartRun submits a batch and returns the created run.
func (c *APIClient) StartRun(ctx context.Context, batch *Batch) (*runs.Run, error) {
	req := startRunRequest{
		Concurrency: batch.Concurrency,
		Runner:      batch.Runner,
		Serial:      batch.Serial,
		Tasks:       make([]taskPayload, len(batch.Tasks)),
	}
	for i, task := range batch.Tasks {
		req.Tasks[i] = taskPayload{ID: task.ID, Payload: task.Payload}
	}

	var run runs.Run
	if err := c.post(ctx, "/api/v1/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches a run with its results.
func (c *APIClient) GetRun(ctx context.Context, id string) (*runs.Run, error) {
	var run runs.Run
	if err := c.get(ctx, "/api/v1/runs/"+id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// StopRun asks the server to stop a run.
func (c *APIClient) StopRun(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/runs/"+id+"/stop", struct{}{}, nil)
}

func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *APIClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *APIClient) do(req *http.Request, out any) error {
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
