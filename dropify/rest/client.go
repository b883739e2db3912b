package rest

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
	"strings"
	"time"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
)

// Client provides REST API access to the Dropify backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL is the backend root, e.g. "http://localhost:8000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ErrEmptyBody is returned when a 2xx response that must carry JSON is empty.
var ErrEmptyBody = errors.New("empty response body")

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API 404, e.g. an unknown or expired session.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Session endpoints

// CreateSession opens a new session and returns its code.
func (c *Client) CreateSession(ctx context.Context) (*SessionInfo, error) {
	var resp SessionInfo
	if err := c.post(ctx, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinSession validates an existing session code.
func (c *Client) JoinSession(ctx context.Context, code string) (*SessionInfo, error) {
	var resp SessionInfo
	if err := c.post(ctx, "/sessions/join", JoinRequest{Code: code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession looks a session up. Expired sessions answer 404.
func (c *Client) GetSession(ctx context.Context, code string) (*SessionInfo, error) {
	var resp SessionInfo
	if err := c.get(ctx, sessionPath(code), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExpireSession forces a session to expire. Used by test harnesses.
func (c *Client) ExpireSession(ctx context.Context, code string) (*ExpireResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+sessionPath(code)+"/expire", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var resp ExpireResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QRCodeURL returns the URL of the session's QR code image.
func (c *Client) QRCodeURL(code string) string {
	return c.baseURL + sessionPath(code) + "/qrcode"
}

// Drop endpoints

// ListDrops fetches the full drop list of a session.
func (c *Client) ListDrops(ctx context.Context, code string) (model.Snapshot, error) {
	var resp model.Snapshot
	if err := c.get(ctx, sessionPath(code)+"/drops", &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = model.Snapshot{}
	}
	return resp, nil
}

// ListDropsRaw fetches the drop list without decoding it, leaving shape
// validation to the caller.
func (c *Client) ListDropsRaw(ctx context.Context, code string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.get(ctx, sessionPath(code)+"/drops", &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, ErrEmptyBody
	}
	return resp, nil
}

// SendText posts a text or code drop. The drop itself arrives over the channel.
func (c *Client) SendText(ctx context.Context, code string, req TextDropRequest) (*TextDropResponse, error) {
	if req.DropType == "" {
		req.DropType = model.KindText
	}
	var resp TextDropResponse
	if err := c.post(ctx, sessionPath(code)+"/drops/text", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadFile posts r as the multipart field "file".
func (c *Client) UploadFile(ctx context.Context, code, filename string, r io.Reader) (*FileDropResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath(code)+"/drops/file", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp FileDropResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConsumeDrop marks a burn-after-read drop as read. On success the backend
// broadcasts a DELETE_DROP for it.
func (c *Client) ConsumeDrop(ctx context.Context, code string, id int64) (*ConsumeResponse, error) {
	var resp ConsumeResponse
	if err := c.post(ctx, fmt.Sprintf("%s/drops/%d/consume", sessionPath(code), id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadURL builds the download link of a file drop from its path.
func (c *Client) DownloadURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Helper methods

func sessionPath(code string) string {
	return "/sessions/" + url.PathEscape(code)
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			apiErr.Message = errResp.Detail
			if apiErr.Message == "" {
				apiErr.Message = errResp.Error
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if dest != nil && len(body) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
