package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// UserAgent is sent with every delivery.
const UserAgent = "Courier-Webhook/1.0"

// Sender performs one HTTP POST per attempt.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender. A nil client uses a fresh http.Client; the
// per-attempt timeout is applied through the request context.
func NewSender(client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	return &Sender{client: client}
}

// Send posts body to url with the given headers and timeout.
func (s *Sender) Send(ctx context.Context, url string, body []byte, header http.Header, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header = header

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out after " + timeout.String()
		}
		return Result{Error: msg, LatencyMs: latency}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  latency,
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  latency,
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
