// Package completion talks to the external natural-language-to-SQL
// completion service and decodes its incremental responses.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/metrics"
)

// PayloadFormat selects which historical upstream request shape to send.
type PayloadFormat string

const (
	// PayloadFormatChat sends {chatId, databaseIds, message, stream}.
	PayloadFormatChat PayloadFormat = "chat"
	// PayloadFormatLegacy sends {database_ids, query}.
	PayloadFormatLegacy PayloadFormat = "legacy"
)

// ResponseKind tags how the upstream answered.
type ResponseKind int

const (
	// KindStream means the body is an incremental event stream.
	KindStream ResponseKind = iota
	// KindDocument means the body was a single JSON document.
	KindDocument
)

// Response is the outcome of one successful upstream call. For KindStream the
// caller owns Stream and must close it; closing also releases the call's
// timeout context.
type Response struct {
	Kind     ResponseKind
	Stream   io.ReadCloser
	Document json.RawMessage
}

// UpstreamError is the single failure kind for upstream problems: network
// errors, non-success status codes, and timeouts all collapse into it.
type UpstreamError struct {
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion service unavailable: %s", e.Detail)
	}
	return fmt.Sprintf("completion service error: %s", e.Detail)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Client issues one bounded call per turn to the completion service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	format     PayloadFormat
	logger     *logger.Logger
}

// NewClient creates a completion service client. timeout is the hard
// wall-clock bound on the whole call, including stream consumption.
func NewClient(baseURL string, timeout time.Duration, format PayloadFormat, log *logger.Logger) *Client {
	if format != PayloadFormatLegacy {
		format = PayloadFormatChat
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
		format:     format,
		logger:     log,
	}
}

// chatPayload is the current upstream request shape.
type chatPayload struct {
	ChatID      string   `json:"chatId"`
	DatabaseIDs []string `json:"databaseIds"`
	Message     string   `json:"message"`
	Stream      bool     `json:"stream"`
}

// legacyPayload is the older upstream request shape, kept as a supported
// alias because the live upstream contract is unconfirmed.
type legacyPayload struct {
	DatabaseIDs []string `json:"database_ids"`
	Query       string   `json:"query"`
}

// Complete issues the one outbound call for a turn. The returned error, when
// non-nil, is always an *UpstreamError.
func (c *Client) Complete(ctx context.Context, chat *model.Chat, userText string) (*Response, error) {
	var payload any
	switch c.format {
	case PayloadFormatLegacy:
		payload = legacyPayload{DatabaseIDs: chat.DatabaseIDs, Query: userText}
	default:
		payload = chatPayload{ChatID: chat.ID, DatabaseIDs: chat.DatabaseIDs, Message: userText, Stream: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &UpstreamError{Detail: err.Error(), Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &UpstreamError{Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		metrics.RecordUpstreamCall("error", time.Since(start).Seconds())
		return nil, &UpstreamError{Detail: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		resp.Body.Close()
		cancel()
		metrics.RecordUpstreamCall(fmt.Sprintf("%d", resp.StatusCode), time.Since(start).Seconds())
		return nil, &UpstreamError{Detail: strings.TrimSpace(string(detail))}
	}

	metrics.RecordUpstreamCall("ok", time.Since(start).Seconds())

	if isStreamContentType(resp.Header.Get("Content-Type")) {
		// The timeout keeps running while the stream is consumed; Close
		// releases it.
		return &Response{
			Kind:   KindStream,
			Stream: &cancelReadCloser{rc: resp.Body, cancel: cancel},
		}, nil
	}

	defer cancel()
	defer resp.Body.Close()

	doc, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Detail: err.Error(), Err: err}
	}
	return &Response{Kind: KindDocument, Document: doc}, nil
}

func isStreamContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/event-stream", "application/x-ndjson":
		return true
	}
	return false
}

// cancelReadCloser ties the call's timeout context to the stream lifetime.
type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) {
	return c.rc.Read(p)
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.rc.Close()
}
