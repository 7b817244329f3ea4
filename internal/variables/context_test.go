package variables

import (
	"net/http/httptest"
	"sync"
	"testing"
)

func TestWithRequest_ReusesExisting(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)

	r1, c1 := WithRequest(r)
	r2, c2 := WithRequest(r1)

	if c1 != c2 {
		t.Fatal("WithRequest should reuse the attached context")
	}
	if r1 != r2 {
		t.Error("WithRequest should return the same request when a context is attached")
	}
	if GetFromRequest(r2) != c1 {
		t.Error("GetFromRequest should return the attached context")
	}
}

func TestGetFromRequest_Detached(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)
	c := GetFromRequest(r)
	if c == nil {
		t.Fatal("GetFromRequest returned nil")
	}
	if _, ok := FromContext(r.Context()); ok {
		t.Error("GetFromRequest must not attach a context")
	}
}

func TestCustomValues(t *testing.T) {
	c := NewContext(httptest.NewRequest("GET", "/", nil))
	if _, ok := c.GetCustom("gateway"); ok {
		t.Fatal("empty context should have no custom values")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SetCustom("gateway", "http://gw/api")
		}()
	}
	wg.Wait()

	if v, _ := c.GetCustom("gateway"); v != "http://gw/api" {
		t.Errorf("GetCustom = %q", v)
	}
	snapshot := c.Custom()
	snapshot["gateway"] = "mutated"
	if v, _ := c.GetCustom("gateway"); v != "http://gw/api" {
		t.Error("Custom() should return a copy")
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"xff first hop", "203.0.113.1, 10.0.0.1", "", "10.0.0.2:1234", "203.0.113.1"},
		{"real ip", "", "198.51.100.7", "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", "", "", "192.0.2.9:5555", "192.0.2.9"},
		{"remote addr without port", "", "", "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
