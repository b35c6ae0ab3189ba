package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/y-yagi/nodachi/internal/route"
)

// Pair is one query parameter in the order it was received.
type Pair struct {
	Key   string
	Value string
}

// Request is a single inbound request bound for an upstream.
type Request struct {
	ID          string
	Method      string
	Route       *route.RouteConfig
	Target      string
	Query       []Pair
	Body        io.Reader
	ContentLen  int64
	ContentType string
	Header      http.Header
}

// NewRequest rewrites r against rc. path is the escaped request path the route
// was matched on.
func NewRequest(rc *route.RouteConfig, r *http.Request, path string) *Request {
	query := ParseQuery(r.URL.RawQuery)

	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}

	return &Request{
		ID:          id,
		Method:      r.Method,
		Route:       rc,
		Target:      rc.To + rc.LocalTarget(path) + QueryString(query),
		Query:       query,
		Body:        r.Body,
		ContentLen:  r.ContentLength,
		ContentType: r.Header.Get("Content-Type"),
		Header:      forwardedHeader(r),
	}
}

// TargetURL is to + (path without the route prefix) + the rebuilt query.
func TargetURL(rc *route.RouteConfig, path, rawQuery string) string {
	return rc.To + rc.LocalTarget(path) + QueryString(ParseQuery(rawQuery))
}

// ParseQuery decodes rawQuery into pairs, keeping the received order. Values
// that fail to decode are kept raw.
func ParseQuery(rawQuery string) []Pair {
	var pairs []Pair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		pairs = append(pairs, Pair{Key: unescape(key), Value: unescape(value)})
	}
	return pairs
}

// QueryString renders pairs as ?k1=v1&k2=v2, or "" when there are none.
// Values are inserted as they are, without re-encoding.
func QueryString(pairs []Pair) string {
	if len(pairs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return "?" + strings.Join(parts, "&")
}

func unescape(s string) string {
	u, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return u
}

// wireURL escapes the bytes that cannot appear in a request line. Everything
// else in target is sent unchanged.
func wireURL(target string) (*url.URL, error) {
	var b strings.Builder
	for i := 0; i < len(target); i++ {
		c := target[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte("\"<>\\^`{|}", c) >= 0 || (c == '%' && !isEscape(target[i:])) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}

	u, err := url.Parse(b.String())
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream scheme %q in %s", u.Scheme, target)
	}
	return u, nil
}

func forwardedHeader(r *http.Request) http.Header {
	h := http.Header{}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		h.Set("User-Agent", ua)
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		h.Set("Accept", accept)
	}

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-Host", r.Host)

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			host = prior + ", " + host
		}
		h.Set("X-Forwarded-For", host)
	}
	return h
}

func isEscape(s string) bool {
	return len(s) >= 3 && s[0] == '%' && isHex(s[1]) && isHex(s[2])
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
