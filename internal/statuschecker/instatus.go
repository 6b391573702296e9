package statuschecker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	StatusOperational = "OPERATIONAL"
	StatusMajorOutage = "MAJOROUTAGE"

	instatusBaseURL = "https://api.instatus.com/v1"
)

type InstatusConfig struct {
	PageID string
	APIKey string
}

type InstatusClient struct {
	pageID     string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewInstatusClient(pageID, apiKey string) *InstatusClient {
	return &InstatusClient{
		pageID:  pageID,
		apiKey:  apiKey,
		baseURL: instatusBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type componentUpdateRequest struct {
	Status string `json:"status"`
}

// UpdateComponentStatus is a no-op on an unconfigured or nil client so
// the checker never needs to branch on status page configuration.
func (c *InstatusClient) UpdateComponentStatus(ctx context.Context, componentID, status string) error {
	if c == nil || c.apiKey == "" || c.pageID == "" {
		return nil
	}

	url := fmt.Sprintf("%s/%s/components/%s", c.baseURL, c.pageID, componentID)

	body, err := json.Marshal(componentUpdateRequest{Status: status})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instatus api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("instatus api returned status %d for component %s", resp.StatusCode, componentID)
	}
	return nil
}
