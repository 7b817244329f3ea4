package delegate

import (
	"net/http"

	"github.com/wudi/delegate/internal/config"
	"github.com/wudi/delegate/internal/errors"
)

// Fallback produces the response for a failed upstream call. It is called
// exactly once per failing call with the inbound request and must not
// panic.
type Fallback func(r *http.Request) Response

// StaticFallback returns a fallback answering with a fixed response. The
// response is copied per call.
func StaticFallback(resp Response) Fallback {
	header := lowerKeys(resp.Header)
	body := append([]byte(nil), resp.Body...)
	return func(*http.Request) Response {
		return Response{
			Status: resp.Status,
			Header: lowerKeys(header),
			Body:   append([]byte(nil), body...),
		}
	}
}

// DefaultFallback answers 502 with a JSON error body.
func DefaultFallback() Fallback {
	return StaticFallback(Response{
		Status: errors.ErrBadGateway.Code,
		Header: map[string]string{"content-type": "application/json"},
		Body:   errors.ErrBadGateway.Bytes(),
	})
}

// FallbackFromConfig builds a literal fallback from configuration. A nil
// config yields the default fallback. Named fallbacks are resolved by the
// caller.
func FallbackFromConfig(cfg *config.FallbackConfig) Fallback {
	if cfg == nil {
		return DefaultFallback()
	}
	status := cfg.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	return StaticFallback(Response{
		Status: status,
		Header: cfg.Headers,
		Body:   []byte(cfg.Body),
	})
}
