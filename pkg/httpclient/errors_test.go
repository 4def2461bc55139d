package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestDecodeJSON_Success(t *testing.T) {
	var out struct {
		Success bool `json:"success"`
	}
	require.NoError(t, DecodeJSON(makeResponse(http.StatusOK, `{"success":true}`), "recaptcha", &out))
	assert.True(t, out.Success)
}

func TestDecodeJSON_StatusError(t *testing.T) {
	var out map[string]any
	err := DecodeJSON(makeResponse(http.StatusTooManyRequests, "slow down"), "google-userinfo", &out)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "google-userinfo", statusErr.Upstream)
	assert.Equal(t, "slow down", statusErr.Body)
	assert.True(t, statusErr.Temporary())
	assert.Contains(t, err.Error(), "429")
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var out map[string]any
	err := DecodeJSON(makeResponse(http.StatusOK, "<html>"), "recaptcha", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode recaptcha response")
}

func TestStatusError_Temporary(t *testing.T) {
	assert.True(t, (&StatusError{StatusCode: 503}).Temporary())
	assert.False(t, (&StatusError{StatusCode: 401}).Temporary())
}
