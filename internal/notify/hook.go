package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HookSender forwards raw event JSON to an outbound HTTP endpoint.
type HookSender struct {
	url string
	hc  *http.Client
}

func NewHookSender(url string) *HookSender {
	return &HookSender{url: url, hc: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HookSender) Send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify hook: status %d", resp.StatusCode)
	}
	return nil
}

// Backoff is the retry delay before attempt n (1-based), capped at one minute.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << (attempt - 1)
	if d > time.Minute || d <= 0 {
		return time.Minute
	}
	return d
}
