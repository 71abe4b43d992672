package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"logdash/internal/auth"
)

// maxBodyBytes caps analysis responses read into memory.
const maxBodyBytes = 32 << 20

// ErrBodyTooLarge is returned when an analysis response exceeds the read cap.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPError is a non-2xx answer from the analysis backend.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend %s %s status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the log analysis backend. Every request carries a bearer
// token acquired from the provider right before the request is sent.
type Client struct {
	baseURL string
	tokens  auth.Provider
	http    *http.Client
	maxBody int64
}

func NewClient(baseURL string, tokens auth.Provider, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
		maxBody: maxBodyBytes,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload streams r to POST /upload as the multipart field "file".
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) error {
	token, err := auth.Acquire(ctx, c.tokens)
	if err != nil {
		return err
	}

	u, err := c.resolve("/upload")
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	defer func() {
		_ = pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(http.MethodPost, "/upload", resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// Get performs one authenticated GET against an analysis path and returns
// the raw body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	token, err := auth.Acquire(ctx, c.tokens)
	if err != nil {
		return nil, err
	}

	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newHTTPError(http.MethodGet, path, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("read %s: %w: exceeds %d bytes", path, ErrBodyTooLarge, c.maxBody)
	}
	return body, nil
}

func (c *Client) resolve(path string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("backend base url not configured")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func newHTTPError(method, path string, resp *http.Response) *HTTPError {
	blob, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(blob)),
	}
}
