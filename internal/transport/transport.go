// Package transport sends templated HTTP requests for notifications. Send
// never fails: transport errors come back as a synthetic 503 response.
package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout  = 10 * time.Second
	maxContentBytes = 1 << 20
)

type Request struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	MimeType string
}

type Response struct {
	StatusCode int
	Reason     string
	Content    string
}

// Success reports a 2xx status.
func (response Response) Success() bool {
	return response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices
}

// Retryable reports a 5xx status.
func (response Response) Retryable() bool {
	return response.StatusCode >= http.StatusInternalServerError
}

// Sender is implemented by Client and by test doubles.
type Sender interface {
	Send(ctx context.Context, request Request) Response
}

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

func (client *Client) Send(ctx context.Context, request Request) Response {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(request.Method))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if request.Body != "" && method != http.MethodGet && method != http.MethodHead {
		body = strings.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, method, request.URL, body)
	if err != nil {
		return unavailable(err)
	}
	for name, value := range request.Headers {
		httpRequest.Header.Set(name, value)
	}
	if body != nil && httpRequest.Header.Get("Content-Type") == "" && request.MimeType != "" {
		httpRequest.Header.Set("Content-Type", request.MimeType)
	}
	if httpRequest.Header.Get("X-Request-Id") == "" {
		httpRequest.Header.Set("X-Request-Id", uuid.NewString())
	}

	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	content, err := io.ReadAll(io.LimitReader(response.Body, maxContentBytes))
	if err != nil {
		return unavailable(err)
	}
	return Response{
		StatusCode: response.StatusCode,
		Reason:     http.StatusText(response.StatusCode),
		Content:    string(content),
	}
}

func unavailable(err error) Response {
	return Response{
		StatusCode: http.StatusServiceUnavailable,
		Reason:     http.StatusText(http.StatusServiceUnavailable),
		Content:    err.Error(),
	}
}
