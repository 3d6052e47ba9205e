package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// JSONPoster sends a JSON request and returns the raw response body.
type JSONPoster interface {
	PostJSON(ctx context.Context, rawURL string, headers map[string]string, payload any) ([]byte, error)
}

// APIClient calls the call-tracking phone endpoint.
type APIClient struct {
	poster JSONPoster
	url    string
}

// NewAPIClient creates a client for the endpoint at apiURL.
func NewAPIClient(poster JSONPoster, apiURL string) *APIClient {
	return &APIClient{poster: poster, url: apiURL}
}

type phoneResponse struct {
	Phone string `json:"phone"`
}

// RequestPhone performs one API call. A response without a phone yields
// ErrEmptyPhone and an undecodable body ErrMalformedResponse.
func (c *APIClient) RequestPhone(ctx context.Context, headers map[string]string, payload map[string]any) (string, error) {
	body, err := c.poster.PostJSON(ctx, c.url, headers, payload)
	if err != nil {
		return "", err
	}

	var resp phoneResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
	}
	phone := strings.TrimSpace(resp.Phone)
	if phone == "" {
		return "", types.ErrEmptyPhone
	}
	return phone, nil
}
