// Package transport sends server operations over HTTP.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport is the RPC boundary to the server.
type Transport interface {
	Get(ctx context.Context, rawURL string, params map[string]string, timeout time.Duration) ([]byte, error)
	Post(ctx context.Context, rawURL string, params map[string]string, timeout time.Duration) ([]byte, error)
	Upload(ctx context.Context, rawURL string, params map[string]string, fileField, filePath string, timeout time.Duration) ([]byte, error)
}

// maxBodySize caps how much of a response is read.
const maxBodySize = 8 << 20

// HTTP implements Transport with net/http.
type HTTP struct {
	client *http.Client
	logger logrus.FieldLogger
}

// NewHTTP creates an HTTP transport. Timeouts are applied per call.
func NewHTTP(logger logrus.FieldLogger) *HTTP {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTP{
		client: &http.Client{},
		logger: logger.WithField("component", "transport"),
	}
}

// Get sends params as the query string.
func (h *HTTP) Get(ctx context.Context, rawURL string, params map[string]string, timeout time.Duration) ([]byte, error) {
	u, err := withQuery(rawURL, params)
	if err != nil {
		return nil, err
	}
	return h.do(ctx, http.MethodGet, u, nil, "", timeout)
}

// Post sends params as a form encoded body.
func (h *HTTP) Post(ctx context.Context, rawURL string, params map[string]string, timeout time.Duration) ([]byte, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return h.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", timeout)
}

// Upload sends a multipart request with every param as a field plus the file
// part. Only the operation is repeated on the query string.
func (h *HTTP) Upload(ctx context.Context, rawURL string, params map[string]string, fileField, filePath string, timeout time.Duration) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range params {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	part, err := mw.CreateFormFile(fileField, filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy upload file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	u := rawURL
	if op, ok := params["operation"]; ok {
		if u, err = withQuery(rawURL, map[string]string{"operation": op}); err != nil {
			return nil, err
		}
	}
	return h.do(ctx, http.MethodPost, u, &body, mw.FormDataContentType(), timeout)
}

func (h *HTTP) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.WithError(err).WithField("method", method).Debug("request failed")
		if isConnectivity(err) {
			return nil, &ConnectivityError{Op: method + " " + redact(rawURL), Err: err}
		}
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &ConnectivityError{Op: "read response", Err: err}
	}

	h.logger.WithFields(logrus.Fields{
		"method":   method,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func isConnectivity(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func withQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact drops the query string, which carries session and device ids.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
