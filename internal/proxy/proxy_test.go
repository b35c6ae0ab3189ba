package proxy_test

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y-yagi/nodachi/internal/proxy"
	"github.com/y-yagi/nodachi/internal/route"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		to       string
		path     string
		rawQuery string
		want     string
	}{
		{
			name:     "plain pattern with query",
			from:     "/api",
			to:       "http://upstream.test/v1",
			path:     "/api/users",
			rawQuery: "k1=v1&k2=v2",
			want:     "http://upstream.test/v1/users?k1=v1&k2=v2",
		},
		{
			name:     "wildcard pattern strips like plain",
			from:     "/api*",
			to:       "http://upstream.test/v1",
			path:     "/api/users",
			rawQuery: "k1=v1&k2=v2",
			want:     "http://upstream.test/v1/users?k1=v1&k2=v2",
		},
		{
			name: "no query has no trailing question mark",
			from: "/api",
			to:   "http://upstream.test",
			path: "/api/users",
			want: "http://upstream.test/users",
		},
		{
			name:     "received order is kept",
			from:     "/",
			to:       "http://upstream.test/",
			path:     "/search",
			rawQuery: "z=1&a=2&m=3",
			want:     "http://upstream.test/search?z=1&a=2&m=3",
		},
		{
			name:     "values are decoded and not re-encoded",
			from:     "/",
			to:       "http://upstream.test/",
			path:     "/q",
			rawQuery: "name=a%20b&plus=c+d",
			want:     "http://upstream.test/q?name=a b&plus=c d",
		},
		{
			name:     "key without value",
			from:     "/",
			to:       "http://upstream.test/",
			path:     "/q",
			rawQuery: "flag&&x=1",
			want:     "http://upstream.test/q?flag=&x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := &route.RouteConfig{From: tt.from, To: tt.to}
			assert.Equal(t, tt.want, proxy.TargetURL(rc, tt.path, tt.rawQuery))
		})
	}
}

func TestQueryStringEmpty(t *testing.T) {
	assert.Equal(t, "", proxy.QueryString(nil))
	assert.Empty(t, proxy.ParseQuery(""))
}

func TestParsePolicy(t *testing.T) {
	p, err := proxy.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, proxy.Relay, p)

	p, err = proxy.ParsePolicy("fallback")
	require.NoError(t, err)
	assert.Equal(t, proxy.Fallback, p)

	_, err = proxy.ParsePolicy("retry")
	assert.Error(t, err)
}

type seen struct {
	method      string
	uri         string
	body        string
	contentType string
	requestID   string
}

func upstream(t *testing.T, status int, reply string) (*httptest.Server, *seen) {
	t.Helper()
	s := &seen{}
	as := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.method = r.Method
		s.uri = r.URL.RequestURI()
		s.body = string(b)
		s.contentType = r.Header.Get("Content-Type")
		s.requestID = r.Header.Get("X-Request-Id")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(as.Close)
	return as, s
}

func serveThrough(f *proxy.Forwarder, rc *route.RouteConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.Serve(w, r, proxy.NewRequest(rc, r, r.URL.EscapedPath()))
	})
}

func noFollow(c *http.Client) *http.Client {
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

func TestServeRelaysBody(t *testing.T) {
	as, s := upstream(t, http.StatusOK, "hello from upstream")

	rc := &route.RouteConfig{From: "/api/*", To: as.URL + "/v1/", Kind: route.Forward}
	f := proxy.New(proxy.WithLogger(quietLogger()))
	ts := httptest.NewServer(serveThrough(f, rc))
	defer ts.Close()

	res, err := ts.Client().Get(ts.URL + "/api/users?k1=v1&k2=v2")
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hello from upstream", string(body))
	assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Equal(t, http.MethodGet, s.method)
	assert.Equal(t, "/v1/users?k1=v1&k2=v2", s.uri)
	assert.NotEmpty(t, s.requestID)
}

func TestServeForwardsFormBody(t *testing.T) {
	as, s := upstream(t, http.StatusCreated, "ok")

	rc := &route.RouteConfig{From: "/form", To: as.URL + "/submit", Kind: route.Forward}
	f := proxy.New(proxy.WithLogger(quietLogger()))
	ts := httptest.NewServer(serveThrough(f, rc))
	defer ts.Close()

	form := url.Values{"name": {"nodachi"}}
	res, err := ts.Client().PostForm(ts.URL+"/form", form)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, http.MethodPost, s.method)
	assert.Equal(t, "/submit", s.uri)
	assert.Equal(t, "name=nodachi", s.body)
	assert.Equal(t, "application/x-www-form-urlencoded", s.contentType)
}

func TestServeForwardsJSONBodyVerbatim(t *testing.T) {
	as, s := upstream(t, http.StatusOK, "ok")

	rc := &route.RouteConfig{From: "/rpc", To: as.URL, Kind: route.Forward}
	f := proxy.New(proxy.WithLogger(quietLogger()))
	ts := httptest.NewServer(serveThrough(f, rc))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/rpc/call", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.MethodPut, s.method)
	assert.Equal(t, "/call", s.uri)
	assert.Equal(t, `{"a":1}`, s.body)
	assert.Equal(t, "application/json", s.contentType)
}

func TestServeRedirectsToRootOnConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	rc := &route.RouteConfig{From: "/api", To: "http://" + addr, Kind: route.Forward}
	f := proxy.New(proxy.WithLogger(quietLogger()))
	ts := httptest.NewServer(serveThrough(f, rc))
	defer ts.Close()

	res, err := noFollow(ts.Client()).Get(ts.URL + "/api/users")
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/", res.Header.Get("Location"))
}

func TestServeRedirectsToRootOnTimeout(t *testing.T) {
	release := make(chan struct{})
	as := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer as.Close()
	defer close(release)

	rc := &route.RouteConfig{From: "/slow", To: as.URL, Kind: route.Forward}
	f := proxy.New(proxy.WithLogger(quietLogger()), proxy.WithTimeout(20*time.Millisecond))
	ts := httptest.NewServer(serveThrough(f, rc))
	defer ts.Close()

	res, err := noFollow(ts.Client()).Get(ts.URL + "/slow")
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/", res.Header.Get("Location"))
}

func TestServeNon2xxPolicy(t *testing.T) {
	as, _ := upstream(t, http.StatusNotFound, "missing")
	rc := &route.RouteConfig{From: "/", To: as.URL + "/", Kind: route.Forward}

	t.Run("relay", func(t *testing.T) {
		f := proxy.New(proxy.WithLogger(quietLogger()))
		ts := httptest.NewServer(serveThrough(f, rc))
		defer ts.Close()

		res, err := noFollow(ts.Client()).Get(ts.URL + "/nothing")
		require.NoError(t, err)
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)

		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Equal(t, "missing", string(body))
	})

	t.Run("fallback", func(t *testing.T) {
		f := proxy.New(proxy.WithLogger(quietLogger()), proxy.WithPolicy(proxy.Fallback))
		ts := httptest.NewServer(serveThrough(f, rc))
		defer ts.Close()

		res, err := noFollow(ts.Client()).Get(ts.URL + "/nothing")
		require.NoError(t, err)
		res.Body.Close()

		assert.Equal(t, http.StatusFound, res.StatusCode)
		assert.Equal(t, "/", res.Header.Get("Location"))
	})
}

func TestServeRedirectsToRootWhenBodyTooLarge(t *testing.T) {
	as, _ := upstream(t, http.StatusOK, strings.Repeat("x", 32))
	rc := &route.RouteConfig{From: "/", To: as.URL + "/", Kind: route.Forward}

	f := proxy.New(proxy.WithLogger(quietLogger()), proxy.WithMaxBodySize(16))
	ts := httptest.NewServer(serveThrough(f, rc))
	defer ts.Close()

	res, err := noFollow(ts.Client()).Get(ts.URL + "/big")
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/", res.Header.Get("Location"))

	req := &proxy.Request{ID: "1", Method: http.MethodGet, Route: rc, Target: as.URL + "/big"}
	result := f.Do(httptest.NewRequest(http.MethodGet, "/", nil).Context(), req)
	assert.ErrorIs(t, result.Err, proxy.ErrBodyTooLarge)

	f = proxy.New(proxy.WithLogger(quietLogger()), proxy.WithMaxBodySize(32))
	result = f.Do(httptest.NewRequest(http.MethodGet, "/", nil).Context(), req)
	require.NoError(t, result.Err)
	assert.Len(t, result.Body, 32)
}

func TestDoRejectsNonHTTPTarget(t *testing.T) {
	f := proxy.New(proxy.WithLogger(quietLogger()))
	rc := &route.RouteConfig{From: "/", To: "/srv/public"}
	req := &proxy.Request{ID: "1", Method: http.MethodGet, Route: rc, Target: "/srv/public/x"}

	res := f.Do(httptest.NewRequest(http.MethodGet, "/", nil).Context(), req)
	assert.True(t, res.Failed())
}

func TestDoSendsUnsafeBytesEscaped(t *testing.T) {
	as, s := upstream(t, http.StatusOK, "ok")
	f := proxy.New(proxy.WithLogger(quietLogger()))
	rc := &route.RouteConfig{From: "/", To: as.URL + "/"}
	req := &proxy.Request{ID: "1", Method: http.MethodGet, Route: rc, Target: as.URL + "/q?name=a b&pct=100%"}

	res := f.Do(httptest.NewRequest(http.MethodGet, "/", nil).Context(), req)
	require.NoError(t, res.Err)
	assert.Equal(t, "/q?name=a%20b&pct=100%25", s.uri)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestServeRedirectsToRootOnTransportError(t *testing.T) {
	var target string
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		target = r.URL.String()
		return nil, &net.DNSError{Err: "no such host", Name: "upstream.invalid"}
	})

	rc := &route.RouteConfig{From: "/api/*", To: "http://upstream.invalid/", Kind: route.Forward}
	f := proxy.New(proxy.WithLogger(quietLogger()), proxy.WithTransport(rt))

	req := httptest.NewRequest(http.MethodGet, "/api/users?id=7", nil)
	rec := httptest.NewRecorder()
	f.Serve(rec, req, proxy.NewRequest(rc, req, req.URL.EscapedPath()))

	assert.Equal(t, "http://upstream.invalid/users?id=7", target)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}
