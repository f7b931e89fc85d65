package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// Headers sent with every HTTP submission.
const (
	HeaderReportID  = "X-Report-ID"
	HeaderUrgent    = "X-Report-Urgent"
	HeaderCreatedAt = "X-Report-Created-At"
	HeaderDigest    = "X-Content-Digest"
	HeaderReference = "X-Report-Reference"
)

// HTTPTransport submits the artifact as the body of a single HTTP request.
// The report ID is appended to the endpoint path.
type HTTPTransport struct {
	endpoint *url.URL
	method   string
	headers  map[string]string
	client   *http.Client
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithMethod sets the request method. PUT and POST are accepted.
func WithMethod(method string) HTTPOption {
	return func(t *HTTPTransport) {
		if m := strings.ToUpper(method); m == http.MethodPut || m == http.MethodPost {
			t.method = m
		}
	}
}

// WithHeaders adds static headers, typically authentication.
func WithHeaders(h map[string]string) HTTPOption {
	return func(t *HTTPTransport) {
		for k, v := range h {
			t.headers[k] = v
		}
	}
}

// NewHTTPTransport creates a transport for endpoint.
func NewHTTPTransport(endpoint string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid upload endpoint %q", endpoint))
	}
	t := &HTTPTransport{
		endpoint: u,
		method:   http.MethodPut,
		headers:  make(map[string]string),
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements core.Transport.
func (t *HTTPTransport) Name() string { return "http" }

// Send implements core.Transport. Any 2xx response is a confirmation. 408,
// 429 and 5xx responses are retryable failures; other statuses are not.
func (t *HTTPTransport) Send(ctx context.Context, sub core.Submission) (core.Receipt, error) {
	target := t.endpoint.JoinPath(url.PathEscape(sub.ReportID.String()))

	req, err := http.NewRequestWithContext(ctx, t.method, target.String(), sub.Body)
	if err != nil {
		return core.Receipt{}, core.ErrUpload("building request", false).WithCause(err)
	}
	req.ContentLength = sub.Size
	req.Header.Set("Content-Type", "application/octet-stream")
	if sub.Encoding != "" && sub.Encoding != "identity" {
		req.Header.Set("Content-Encoding", sub.Encoding)
	}
	req.Header.Set(HeaderReportID, sub.ReportID.String())
	req.Header.Set(HeaderUrgent, strconv.FormatBool(sub.Urgent))
	req.Header.Set(HeaderDigest, sub.Digest)
	if !sub.CreatedAt.IsZero() {
		req.Header.Set(HeaderCreatedAt, sub.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		var de *core.DomainError
		if errors.As(err, &de) {
			return core.Receipt{}, de
		}
		return core.Receipt{}, core.ErrUpload("sending request", true).WithCause(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.Receipt{}, core.ErrUpload(
			fmt.Sprintf("upload failed: %s; body: %s", resp.Status, strings.TrimSpace(string(body))),
			retryableStatus(resp.StatusCode),
		).WithDetail("status", resp.StatusCode)
	}

	return core.Receipt{Reference: reference(resp.Header, body)}, nil
}

// reference prefers the reference header, then a JSON {"id": ...} body.
func reference(h http.Header, body []byte) string {
	if ref := h.Get(HeaderReference); ref != "" {
		return ref
	}
	var out struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
	}
	if json.Unmarshal(body, &out) == nil {
		if out.Reference != "" {
			return out.Reference
		}
		return out.ID
	}
	return ""
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

var _ core.Transport = (*HTTPTransport)(nil)
