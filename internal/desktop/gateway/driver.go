// internal/desktop/gateway/driver.go

// Package gateway speaks to a remote desktop sandbox over its control API.
// The gateway owns the real display; this driver only translates
// DesktopDriver calls into authenticated HTTP requests.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

var gatewayJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRequestTimeout = 30 * time.Second
	defaultTokenTTL       = 5 * time.Minute

	// tokenRefreshSlack re-mints the bearer token before it actually
	// expires so in-flight requests never race the expiry.
	tokenRefreshSlack = 30 * time.Second

	maxErrorBodyBytes = 4096
)

// -- Gateway Wire Payloads (Internal to this file) --

type moveRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type clickRequest struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button"`
	Count  int    `json:"count"`
}

type buttonRequest struct {
	Button string `json:"button"`
}

type dragRequest struct {
	From schemas.Point `json:"from"`
	To   schemas.Point `json:"to"`
}

type scrollRequest struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

type typeRequest struct {
	Text string `json:"text"`
}

type pressRequest struct {
	Keys []string `json:"keys"`
}

type shellRequest struct {
	Command string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Driver implements schemas.DesktopDriver against the gateway REST API.
type Driver struct {
	cfg        config.GatewayConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time
}

// New validates the gateway settings and prepares the HTTP client. No
// request is sent until the first driver call.
func New(cfg config.GatewayConfig, logger *zap.Logger) (*Driver, error) {
	if cfg.BaseURL == "" {
		return nil, schemas.NewConfigurationError("desktop.gateway.base_url", "gateway URL is required")
	}
	if cfg.AuthSecret == "" {
		return nil, schemas.NewConfigurationError("desktop.gateway.auth_secret", "auth secret is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	log := logger.Named("desktop.gateway")

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	// ConfigureTransport modifies the transport in place to add HTTP/2 support.
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}

	return &Driver{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: log,
	}, nil
}

// -- Capture --

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	req, err := d.newRequest(ctx, http.MethodGet, "/v1/screenshot", nil)
	if err != nil {
		return nil, schemas.NewDriverError("screenshot", err)
	}
	req.Header.Set("Accept", "image/png")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, schemas.NewDriverError("screenshot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, schemas.NewDriverError("screenshot", statusError(resp))
	}
	shot, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, schemas.NewDriverError("screenshot", fmt.Errorf("failed to read image body: %w", err))
	}
	return shot, nil
}

func (d *Driver) Resolution(ctx context.Context) (schemas.Size, error) {
	var size schemas.Size
	if err := d.do(ctx, "resolution", http.MethodGet, "/v1/display", nil, &size); err != nil {
		return schemas.Size{}, err
	}
	return size, nil
}

// -- Mouse --

func (d *Driver) MoveMouse(ctx context.Context, p schemas.Point) error {
	return d.do(ctx, "move_mouse", http.MethodPost, "/v1/mouse/move", moveRequest{X: p.X, Y: p.Y}, nil)
}

func (d *Driver) Click(ctx context.Context, p schemas.Point, button schemas.MouseButton, count int) error {
	if count <= 0 {
		count = 1
	}
	payload := clickRequest{X: p.X, Y: p.Y, Button: string(button), Count: count}
	return d.do(ctx, "click", http.MethodPost, "/v1/mouse/click", payload, nil)
}

func (d *Driver) MousePress(ctx context.Context, button schemas.MouseButton) error {
	return d.do(ctx, "mouse_press", http.MethodPost, "/v1/mouse/press", buttonRequest{Button: string(button)}, nil)
}

func (d *Driver) MouseRelease(ctx context.Context, button schemas.MouseButton) error {
	return d.do(ctx, "mouse_release", http.MethodPost, "/v1/mouse/release", buttonRequest{Button: string(button)}, nil)
}

func (d *Driver) Drag(ctx context.Context, start, end schemas.Point) error {
	return d.do(ctx, "drag", http.MethodPost, "/v1/mouse/drag", dragRequest{From: start, To: end}, nil)
}

func (d *Driver) Scroll(ctx context.Context, direction schemas.ScrollDirection, amount int) error {
	if amount <= 0 {
		amount = 1
	}
	payload := scrollRequest{Direction: string(direction), Amount: amount}
	return d.do(ctx, "scroll", http.MethodPost, "/v1/mouse/scroll", payload, nil)
}

// -- Keyboard --

func (d *Driver) Write(ctx context.Context, text string) error {
	return d.do(ctx, "write", http.MethodPost, "/v1/keyboard/type", typeRequest{Text: text}, nil)
}

func (d *Driver) Press(ctx context.Context, keys []string) error {
	return d.do(ctx, "press", http.MethodPost, "/v1/keyboard/press", pressRequest{Keys: keys}, nil)
}

// -- State --

func (d *Driver) CursorPosition(ctx context.Context) (*schemas.Point, error) {
	req, err := d.newRequest(ctx, http.MethodGet, "/v1/cursor", nil)
	if err != nil {
		return nil, schemas.NewDriverError("cursor", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, schemas.NewDriverError("cursor", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var p schemas.Point
		if err := gatewayJSON.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, schemas.NewDriverError("cursor", fmt.Errorf("failed to decode cursor position: %w", err))
		}
		return &p, nil
	case http.StatusNoContent:
		// The gateway cannot determine the pointer location.
		return nil, nil
	default:
		return nil, schemas.NewDriverError("cursor", statusError(resp))
	}
}

func (d *Driver) RunShellCommand(ctx context.Context, command string) (*schemas.ShellOutput, error) {
	var out schemas.ShellOutput
	if err := d.do(ctx, "shell", http.MethodPost, "/v1/shell", shellRequest{Command: command}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamURL returns the live-view URL the gateway advertises.
func (d *Driver) StreamURL() string { return d.cfg.StreamURL }

// Close ends the remote session best-effort and drops pooled connections.
func (d *Driver) Close(ctx context.Context) error {
	err := d.do(ctx, "close", http.MethodDelete, "/v1/session", nil, nil)
	if transport, ok := d.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	if err != nil {
		d.logger.Warn("Gateway session close failed", zap.Error(err))
		return err
	}
	d.logger.Info("Gateway session closed")
	return nil
}

// -- Transport internals --

// do sends one authenticated JSON request and decodes the response into out
// when out is non-nil. Failures of any kind come back as *DriverError.
func (d *Driver) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := gatewayJSON.Marshal(payload)
		if err != nil {
			return schemas.NewDriverError(op, fmt.Errorf("failed to encode request: %w", err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := d.newRequest(ctx, method, path, body)
	if err != nil {
		return schemas.NewDriverError(op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return schemas.NewDriverError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return schemas.NewDriverError(op, statusError(resp))
	}
	if out != nil {
		if err := gatewayJSON.NewDecoder(resp.Body).Decode(out); err != nil {
			return schemas.NewDriverError(op, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

func (d *Driver) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	token, err := d.token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// token returns a cached HS256 bearer token, minting a fresh one when the
// cached token is near expiry.
func (d *Driver) token() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.bearerToken != "" && now.Add(tokenRefreshSlack).Before(d.tokenExpiry) {
		return d.bearerToken, nil
	}

	ttl := d.cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	expiry := now.Add(ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    "operator-cli",
		Subject:   "desktop-control",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(d.cfg.AuthSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign gateway token: %w", err)
	}

	d.bearerToken = signed
	d.tokenExpiry = expiry
	return signed, nil
}

// statusError turns a non-2xx response into an error carrying the
// gateway's own message when it sent one.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var payload errorResponse
	if err := gatewayJSON.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, payload.Error)
	}
	if len(body) > 0 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return errors.New("gateway returned status " + resp.Status)
}
