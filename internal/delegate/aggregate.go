package delegate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

// SafeMaxStatus reconciles per-upstream statuses: the maximum wins, except
// that 304 survives only when every status is 304; a mix yields 200.
func SafeMaxStatus(statuses []int) int {
	if len(statuses) == 0 {
		return http.StatusOK
	}
	agg := statuses[0]
	for _, s := range statuses[1:] {
		if s > agg {
			agg = s
		}
	}
	if agg == http.StatusNotModified {
		for _, s := range statuses {
			if s != http.StatusNotModified {
				return http.StatusOK
			}
		}
	}
	return agg
}

type envelope struct {
	Responses []envelopeEntry `json:"responses"`
}

type envelopeEntry struct {
	StatusCode string            `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Domain     *string           `json:"domain"`
	Body       any               `json:"body"`
}

// Aggregate merges results in configured order. A single result passes
// through; several are wrapped in the JSON envelope.
func Aggregate(results []Result) Response {
	switch len(results) {
	case 0:
		return Response{Status: http.StatusOK, Header: map[string]string{}}
	case 1:
		return results[0].Response()
	}

	statuses := make([]int, len(results))
	env := envelope{Responses: make([]envelopeEntry, len(results))}
	for i, res := range results {
		statuses[i] = res.Status
		env.Responses[i] = newEnvelopeEntry(res)
	}

	// Top-level headers are those of the first configured upstream, minus
	// the ones describing its own body.
	header := make(map[string]string, len(results[0].Header)+1)
	for k, v := range results[0].Header {
		switch k {
		case "content-length", "content-encoding", "transfer-encoding":
			continue
		}
		header[k] = v
	}

	return Response{
		Status: SafeMaxStatus(statuses),
		Header: header,
		Body:   encodeEnvelope(env),
	}
}

func newEnvelopeEntry(res Result) envelopeEntry {
	e := envelopeEntry{
		StatusCode: strconv.Itoa(res.Status),
		Headers:    res.Header,
		Body:       envelopeBody(res.Body),
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	if res.Label != "" {
		label := res.Label
		e.Domain = &label
	}
	return e
}

// envelopeBody embeds valid JSON as-is and falls back to the raw text.
func envelopeBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if gjson.ValidBytes(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(body)
}

func encodeEnvelope(env envelope) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		// gjson accepted a body encoding/json rejects; retry with every
		// body as text.
		buf.Reset()
		for i := range env.Responses {
			if raw, ok := env.Responses[i].Body.(json.RawMessage); ok {
				env.Responses[i].Body = string(raw)
			}
		}
		_ = enc.Encode(env)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
