package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"companionai/pkg/domain"
)

// Client calls the identity service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs an identity service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Me resolves the bearer token to the current caller.
func (c *Client) Me(ctx context.Context, token string) (domain.Caller, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return domain.Caller{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Caller{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.Caller{}, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	var caller domain.Caller
	if err := json.NewDecoder(resp.Body).Decode(&caller); err != nil {
		return domain.Caller{}, err
	}
	caller.ID = strings.TrimSpace(caller.ID)
	caller.FirstName = strings.TrimSpace(caller.FirstName)
	return caller, nil
}

// APIError represents an identity service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}
