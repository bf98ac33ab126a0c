package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

type HTTPOption func(*HTTP)

// WithRetryClient replaces the default retrying client.
func WithRetryClient(client *retryablehttp.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		h.headers.Set(key, value)
	}
}

// HTTP reads an archive through ranged GET requests. The server must answer
// range requests with 206 Partial Content.
type HTTP struct {
	url     string
	client  *retryablehttp.Client
	headers http.Header
	size    int64
}

func NewHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = zerologLeveled{}
	return client
}

func NewHTTP(ctx context.Context, url string, opts ...HTTPOption) (*HTTP, error) {
	h := &HTTP{
		url:     url,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = NewHTTPClient()
	}

	size, err := h.probeSize(ctx)
	if err != nil {
		return nil, wrapIOError(err)
	}
	h.size = size

	return h, nil
}

// probeSize asks for the first byte and reads the total from Content-Range.
func (h *HTTP) probeSize(ctx context.Context) (int64, error) {
	resp, err := h.get(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("server does not support range requests for <%s>: %s", h.url, resp.Status)
	}

	contentRange := resp.Header.Get("Content-Range")
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 || contentRange[idx+1:] == "*" {
		return 0, fmt.Errorf("unknown object size for <%s>: content-range %q", h.url, contentRange)
	}

	return strconv.ParseInt(contentRange[idx+1:], 10, 64)
}

func (h *HTTP) get(ctx context.Context, start, end int64) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}

	for k, values := range h.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	return h.client.Do(req)
}

func (h *HTTP) ReadAt(p []byte, off int64) (int, error) {
	if off >= h.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	want := p
	if off+int64(len(p)) > h.size {
		want = p[:h.size-off]
	}

	resp, err := h.get(context.Background(), off, off+int64(len(want))-1)
	if err != nil {
		return 0, wrapIOError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, wrapIOError(fmt.Errorf("range read at %d from <%s>: %s", off, h.url, resp.Status))
	}

	n, err := io.ReadFull(resp.Body, want)
	if err != nil {
		return n, wrapIOError(fmt.Errorf("range read at %d from <%s>: %v", off, h.url, err))
	}

	metrics().RecordRangeRead(h.url, int64(n))

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *HTTP) Size() int64 {
	return h.size
}

func (h *HTTP) String() string {
	return h.url
}

type zerologLeveled struct{}

func (zerologLeveled) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (zerologLeveled) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (zerologLeveled) Debug(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(keysAndValues).Msg(msg)
}

func (zerologLeveled) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}
