package delegate

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestSafeMaxStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		want     int
	}{
		{"single", []int{201}, 201},
		{"max wins", []int{200, 404, 500}, 500},
		{"mixed 304 downgrades to 200", []int{200, 304}, 200},
		{"304 with lower status", []int{304, 204}, 200},
		{"all 304", []int{304, 304, 304}, 304},
		{"304 below max is irrelevant", []int{304, 502}, 502},
		{"empty", nil, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeMaxStatus(tt.statuses); got != tt.want {
				t.Errorf("SafeMaxStatus(%v) = %d, want %d", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestAggregateSinglePassthrough(t *testing.T) {
	res := Result{
		Status: 418,
		Header: map[string]string{"content-type": "text/plain"},
		Body:   []byte("teapot"),
		Label:  "ignored",
	}
	resp := Aggregate([]Result{res})

	if resp.Status != 418 || string(resp.Body) != "teapot" || resp.Header["content-type"] != "text/plain" {
		t.Errorf("expected passthrough, got %+v", resp)
	}
}

func TestAggregateEnvelopeWireFormat(t *testing.T) {
	results := []Result{
		{
			Status: 200,
			Header: map[string]string{"content-type": "application/json", "x-b": "2", "content-length": "14"},
			Body:   []byte(`{"users": [1, 2]}`),
			Label:  "users",
		},
		{
			Status: 304,
			Header: map[string]string{"etag": `"abc"`},
			Body:   nil,
		},
		{
			Status: 500,
			Header: nil,
			Body:   []byte("<b>not-json</b>"),
			Label:  "legacy",
		},
	}

	resp := Aggregate(results)

	want := `{"responses":[` +
		`{"status_code":"200","headers":{"content-length":"14","content-type":"application/json","x-b":"2"},"domain":"users","body":{"users":[1,2]}},` +
		`{"status_code":"304","headers":{"etag":"\"abc\""},"domain":null,"body":""},` +
		`{"status_code":"500","headers":{},"domain":"legacy","body":"<b>not-json</b>"}` +
		`]}`
	if string(resp.Body) != want {
		t.Errorf("unexpected envelope\n got: %s\nwant: %s", resp.Body, want)
	}
	if resp.Status != 500 {
		t.Errorf("expected aggregate status 500, got %d", resp.Status)
	}

	// Top-level headers come from the first result, without its body framing.
	if resp.Header["content-type"] != "application/json" || resp.Header["x-b"] != "2" {
		t.Errorf("expected first result headers, got %v", resp.Header)
	}
	if _, ok := resp.Header["content-length"]; ok {
		t.Error("content-length of the first result must not describe the envelope")
	}
}

func TestEnvelopeBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"object", `{"a":1}`, `{"a":1}`},
		{"array", `[1,"x"]`, `[1,"x"]`},
		{"number", `42`, `42`},
		{"quoted string", `"hi"`, `"hi"`},
		{"plain text", `not-json`, `"not-json"`},
		{"truncated json", `{"a":`, `"{\"a\":"`},
		{"empty", ``, `""`},
		{"json null", `null`, `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(envelopeBody([]byte(tt.body)))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("envelopeBody(%q) = %s, want %s", tt.body, got, tt.want)
			}
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Set("Content-Type", "text/html")
	h.Set("Status", "200 OK")

	got := NormalizeHeader(h)
	if got["set-cookie"] != "a=1; b=2" {
		t.Errorf("expected joined set-cookie, got %q", got["set-cookie"])
	}
	if got["content-type"] != "text/html" {
		t.Errorf("expected lower-case content-type, got %v", got)
	}
	if _, ok := got["status"]; ok {
		t.Error("expected status pseudo header dropped")
	}
}
