package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 1 << 20

// StatusError reports a non-2xx answer from a third-party endpoint.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// DecodeJSON decodes a 2xx JSON body into dst and closes it. Non-2xx answers
// become a *StatusError carrying a bounded prefix of the body.
func DecodeJSON(resp *http.Response, upstream string, dst any) error {
	defer func() { _ = resp.Body.Close() }()

	body := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(body, 4<<10))
		return &StatusError{Upstream: upstream, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", upstream, err)
	}
	return nil
}
