// Package client calls the companion API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"companionai/pkg/domain"
)

// Client calls the companion service with a caller bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; chat replies are bounded by ctx.
	streamClient *http.Client
}

// APIError represents a companion service error response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// New constructs a client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        strings.TrimSpace(token),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
	}
}

// CreateCompanion posts a new companion.
func (c *Client) CreateCompanion(ctx context.Context, in domain.CompanionInput) (domain.Companion, error) {
	var out domain.Companion
	err := c.doJSON(ctx, http.MethodPost, "/api/companion", in, &out)
	return out, err
}

// UpdateCompanion patches an existing companion.
func (c *Client) UpdateCompanion(ctx context.Context, id string, in domain.CompanionInput) (domain.Companion, error) {
	var out domain.Companion
	err := c.doJSON(ctx, http.MethodPatch, "/api/companion/"+url.PathEscape(id), in, &out)
	return out, err
}

// GetCompanion fetches one companion.
func (c *Client) GetCompanion(ctx context.Context, id string) (domain.Companion, error) {
	var out domain.Companion
	err := c.doJSON(ctx, http.MethodGet, "/api/companion/"+url.PathEscape(id), nil, &out)
	return out, err
}

// DeleteCompanion removes a companion owned by the caller.
func (c *Client) DeleteCompanion(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/companion/"+url.PathEscape(id), nil, nil)
}

// ListCompanions lists companions, optionally filtered by category and name.
func (c *Client) ListCompanions(ctx context.Context, categoryID, name string) ([]domain.Companion, error) {
	q := url.Values{}
	if categoryID != "" {
		q.Set("categoryId", categoryID)
	}
	if name != "" {
		q.Set("name", name)
	}
	path := "/api/companions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Items []domain.Companion `json:"items"`
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Items, err
}

// ListCategories lists all categories.
func (c *Client) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var out struct {
		Items []domain.Category `json:"items"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/categories", nil, &out)
	return out.Items, err
}

// UploadImage uploads an image and returns the reference to store in src.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/uploads", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		Src string `json:"src"`
	}
	if err := c.do(c.httpClient, req, &out); err != nil {
		return "", err
	}
	return out.Src, nil
}

// Chat sends prompt to a companion and streams the reply through onDelta.
// The full reply is returned once the stream ends.
func (c *Client) Chat(ctx context.Context, companionID, prompt string, onDelta func(string) error) (string, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/"+url.PathEscape(companionID), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", apiError(resp)
	}
	var text strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			text.WriteString(chunk)
			if onDelta != nil {
				if err := onDelta(chunk); err != nil {
					return text.String(), err
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			return text.String(), nil
		}
		if readErr != nil {
			return text.String(), fmt.Errorf("read chat stream: %w", readErr)
		}
	}
}

// ListMessages returns the caller's stored conversation with a companion.
func (c *Client) ListMessages(ctx context.Context, companionID string) ([]domain.Message, error) {
	var out struct {
		Items []domain.Message `json:"items"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(companionID)+"/messages", nil, &out)
	return out.Items, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(c.httpClient, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{
		Status:  resp.StatusCode,
		Code:    resp.Header.Get("X-Error-Code"),
		Message: msg,
	}
}
