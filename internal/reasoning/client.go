package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config holds the reasoning client configuration.
type Config struct {
	APIKey  string
	APIURL  string
	Timeout int // seconds
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	return nil
}

// Client is an HTTP implementation of Service targeting a
// generateContent-style endpoint. Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new reasoning client with the given configuration.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimSuffix(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

// Generate sends one generate request and returns the concatenated text of
// the first candidate.
func (c *Client) Generate(ctx context.Context, model string, parts []Part) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no parts provided")
	}

	request := generateRequest{
		Contents: []content{{Parts: toWireParts(parts)}},
	}

	response, err := c.makeRequest(ctx, fmt.Sprintf("/models/%s:generateContent", model), request)
	if err != nil {
		return "", err
	}

	if len(response.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// makeRequest makes a raw HTTP request to the reasoning API.
func (c *Client) makeRequest(ctx context.Context, path string, payload interface{}) (*generateResponse, error) {
	url := c.baseURL + path

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var genResponse generateResponse
	if err := json.Unmarshal(responseBody, &genResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for API errors
	if genResponse.Error != nil && genResponse.Error.Message != "" {
		if genResponse.Error.Code == 0 {
			genResponse.Error.Code = resp.StatusCode
		}
		return nil, genResponse.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Code:    resp.StatusCode,
			Message: strings.TrimSpace(string(responseBody)),
		}
	}

	return &genResponse, nil
}
