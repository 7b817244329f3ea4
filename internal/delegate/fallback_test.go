package delegate

import (
	"net/http/httptest"
	"testing"

	"github.com/wudi/delegate/internal/config"
)

func TestStaticFallbackCopiesPerCall(t *testing.T) {
	fb := StaticFallback(Response{
		Status: 503,
		Header: map[string]string{"Retry-After": "5"},
		Body:   []byte("busy"),
	})
	r := httptest.NewRequest("GET", "/", nil)

	first := fb(r)
	first.Body[0] = 'X'
	first.Header["retry-after"] = "0"

	second := fb(r)
	if string(second.Body) != "busy" {
		t.Errorf("body shared between calls: %q", second.Body)
	}
	if second.Header["retry-after"] != "5" {
		t.Errorf("headers shared between calls: %v", second.Header)
	}
}

func TestFallbackFromConfig(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)

	if resp := FallbackFromConfig(nil)(r); resp.Status != 502 {
		t.Errorf("expected default 502, got %d", resp.Status)
	}

	resp := FallbackFromConfig(&config.FallbackConfig{Body: "{}"})(r)
	if resp.Status != 502 {
		t.Errorf("expected status to default to 502, got %d", resp.Status)
	}

	resp = FallbackFromConfig(&config.FallbackConfig{
		Status:  599,
		Headers: map[string]string{"X-Fallback": "yes"},
	})(r)
	if resp.Status != 599 || len(resp.Body) != 0 {
		t.Errorf("unexpected fallback %d %q", resp.Status, resp.Body)
	}
	if resp.Header["x-fallback"] != "yes" {
		t.Errorf("expected lower-case headers, got %v", resp.Header)
	}
}
