package base

import (
	"net/http"
	"sort"
	"strings"
)

// HeaderValue holds the (rare) repeated values of a single header name.
type HeaderValue []string

// Header is a case-insensitive multi-map of header name to value, matching
// the well-known names (CSeq, Content-Length, Session, Transport,
// Content-Type) to their canonical casing on write and accepting any casing
// on read.
type Header map[string]HeaderValue

// well-known header names.
const (
	HeaderCSeq          = "CSeq"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderSession       = "Session"
	HeaderTransport     = "Transport"
	HeaderPublic        = "Public"
	HeaderServer        = "Server"
	HeaderWWWAuthenticate = "WWW-Authenticate"
	HeaderAuthorization   = "Authorization"
	HeaderDate          = "Date"
	HeaderRTPInfo       = "RTP-Info"
)

var canonicalOverrides = map[string]string{
	"cseq":             HeaderCSeq,
	"rtp-info":         HeaderRTPInfo,
	"www-authenticate": HeaderWWWAuthenticate,
}

func canonicalKey(name string) string {
	lower := strings.ToLower(name)
	if c, ok := canonicalOverrides[lower]; ok {
		return c
	}
	return http.CanonicalHeaderKey(name)
}

// NewHeader returns an empty Header.
func NewHeader() Header {
	return make(Header)
}

// Get returns the first value stored for name, and whether it was present.
// First-write-wins semantics mean repeated Set calls for the same name are
// rejected by Set itself; Get never has to choose among duplicates for
// unknown header names.
func (h Header) Get(name string) (string, bool) {
	v, ok := h[canonicalKey(name)]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Values returns every value stored for name.
func (h Header) Values(name string) HeaderValue {
	return h[canonicalKey(name)]
}

// Set stores value for name, first-write-wins: a name already present is
// left untouched. Use Replace to overwrite.
func (h Header) Set(name, value string) {
	k := canonicalKey(name)
	if _, ok := h[k]; ok {
		return
	}
	h[k] = HeaderValue{value}
}

// Replace unconditionally overwrites the value(s) for name.
func (h Header) Replace(name, value string) {
	h[canonicalKey(name)] = HeaderValue{value}
}

// Add appends an additional value for name, used by headers that legally
// repeat (WWW-Authenticate with multiple schemes).
func (h Header) Add(name, value string) {
	k := canonicalKey(name)
	h[k] = append(h[k], value)
}

// Del removes all values for name.
func (h Header) Del(name string) {
	delete(h, canonicalKey(name))
}

// SortedKeys returns the header names in a stable order (CSeq first, then
// alphabetical) so encoding is deterministic — useful for tests and for
// signatures computed over encoded messages.
func (h Header) SortedKeys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == HeaderCSeq {
			return true
		}
		if keys[j] == HeaderCSeq {
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
