package strategies

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Request is the projection of an HTTP request the key extractors operate
// on. The body, when present, has already been buffered by the caller;
// extraction never consumes the underlying stream.
type Request struct {
	ClientIP    string
	Path        string
	Header      http.Header
	Query       url.Values
	Body        []byte
	ContentType string
}

// FromHTTP builds a Request fingerprint from an HTTP request. body may be
// nil when no body strategy is configured or the body exceeded the
// buffering ceiling.
func FromHTTP(r *http.Request, clientIP string, body []byte) *Request {
	return &Request{
		ClientIP:    clientIP,
		Path:        r.URL.Path,
		Header:      r.Header,
		Query:       r.URL.Query(),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	}
}

// BodyField extracts the value of a top-level field from the buffered
// body. JSON-like content types are parsed as JSON, anything else as
// form-url-encoded. Scalar JSON values are stringified exactly as
// received; missing fields, non-scalar values, and unparseable bodies
// report ok=false.
func (r *Request) BodyField(name string) (string, bool) {
	if len(r.Body) == 0 {
		return "", false
	}

	if isJSONContentType(r.ContentType) {
		return jsonField(r.Body, name)
	}

	values, err := url.ParseQuery(string(r.Body))
	if err != nil {
		return "", false
	}
	if !values.Has(name) {
		return "", false
	}
	return values.Get(name), true
}

func isJSONContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return mediaType == "application/json" ||
		strings.HasSuffix(mediaType, "+json")
}

func jsonField(body []byte, name string) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber() // keep numbers exactly as received

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", false
	}

	value, ok := fields[name]
	if !ok {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		// null, arrays and objects don't identify a bucket
		return "", false
	}
}
