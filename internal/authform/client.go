package authform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// API のエンドポイント
const (
	LoginPath    = "/api/login"
	LogoutPath   = "/api/logout"
	RegisterPath = "/api/register"
)

const maxResponseBytes = 1 << 20

// Credentials はサインインの入力です。
type Credentials struct {
	Email    string
	Password string
}

// Registration はサインアップの入力です。
type Registration struct {
	Username string
	Email    string
	Password string
}

// API はコントローラーが呼び出す認証 API です。
type API interface {
	Login(ctx context.Context, creds Credentials) Result
	Register(ctx context.Context, reg Registration) Result
	Logout(ctx context.Context) error
}

// StatusError はログアウトが 2xx 以外で終わったことを表します。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client は net/http で認証 API を呼び出します。
type Client struct {
	baseURL string
	http    *http.Client
}

var _ API = (*Client)(nil)

// NewClient は Client を作成します。baseURL はスキームとホストを含むURLです。
// hc が nil の場合は http.DefaultClient を使います（Cookie を保持する場合は Jar を設定したものを渡してください）。
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// Login は POST /api/login を呼び出します。
func (c *Client) Login(ctx context.Context, creds Credentials) Result {
	return c.postAuth(ctx, LoginPath, url.Values{
		"email":    {creds.Email},
		"password": {creds.Password},
	})
}

// Register は POST /api/register を呼び出します。
func (c *Client) Register(ctx context.Context, reg Registration) Result {
	return c.postAuth(ctx, RegisterPath, url.Values{
		"username": {reg.Username},
		"email":    {reg.Email},
		"password": {reg.Password},
	})
}

// Logout は POST /api/logout を呼び出します。レスポンス本文は読み捨てます。
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, LogoutPath, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) postAuth(ctx context.Context, path string, form url.Values) Result {
	resp, err := c.post(ctx, path, form)
	if err != nil {
		return Malformed{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Malformed{Status: resp.StatusCode, Err: err}
	}
	return decodeResult(resp.StatusCode, body)
}

// post はフォームと同じ application/x-www-form-urlencoded で送信します。
func (c *Client) post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	return c.http.Do(req)
}
