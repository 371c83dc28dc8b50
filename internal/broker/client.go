// Package broker implements the typed transport against the remote
// broker's HTTP API: one method per endpoint, each wrapping a shared
// signed-request helper (C4).
package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/reqsign"
)

// DefaultBaseURL is the compile-time broker endpoint (spec.md section 6).
const DefaultBaseURL = "https://broker-1.opacitynodes.com:3000/api/v1/"

// Client is the typed broker transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *reqsign.Signer
	logger     *slog.Logger
}

// New builds a Client against baseURL, signing every authenticated
// request with signer.
func New(baseURL string, signer *reqsign.Signer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		signer:     signer,
		logger:     logger.With(slog.String("component", "broker")),
	}
}

func (c *Client) url(path string) string { return c.baseURL + path }

// doJSON POSTs a signed JSON envelope and returns the raw response body
// and status code.
func (c *Client) doJSON(ctx context.Context, path string, body any) ([]byte, int, error) {
	env, err := c.signer.SignJSON(body)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: marshal envelope: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// doUnsigned POSTs a plain JSON body with no signed envelope, used by
// endpoints the spec marks unsigned (download).
func (c *Client) doUnsigned(ctx context.Context, path string, body any) ([]byte, int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: marshal body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// multipartPart describes one binary form part to attach alongside the
// signed text fields.
type multipartPart struct {
	FieldName string
	Data      []byte
}

// doMultipart POSTs the signed envelope as separate text/plain form
// parts plus one binary part, per spec.md 4.3.
func (c *Client) doMultipart(ctx context.Context, path string, body any, part multipartPart) ([]byte, int, error) {
	fields, err := c.signer.SignMultipart(body)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for name, value := range map[string]string{
		"requestBody": fields.RequestBody,
		"signature":   fields.Signature,
		"publicKey":   fields.PublicKey,
	} {
		fw, err := w.CreatePart(textPartHeader(name))
		if err != nil {
			return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
		}
		if _, err := fw.Write([]byte(value)); err != nil {
			return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
		}
	}

	fw, err := w.CreateFormFile(part.FieldName, part.FieldName)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}
	if _, err := fw.Write(part.Data); err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), buf)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

func textPartHeader(name string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"`, name)},
		"Content-Type":        {"text/plain; charset=utf-8"},
	}
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("broker: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// GetURL performs a raw GET against an absolute URL (used for the
// per-file download URLs the broker hands back, which live outside the
// base API path).
func (c *Client) GetURL(ctx context.Context, rangeHeader, absoluteURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("broker: get %s: %w", absoluteURL, err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return c.do(req)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// mapStatus converts a non-2xx response to a domain error, using the
// classification spec.md section 7 assigns per call site. It always
// yields a BrokerError; callers that need a more specific error check
// for those statuses themselves before calling it.
func mapStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return &domain.BrokerError{Status: status, Body: string(body)}
}
