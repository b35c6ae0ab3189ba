package router

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/y-yagi/nodachi/internal/config"
	"github.com/y-yagi/nodachi/internal/proxy"
	"github.com/y-yagi/nodachi/internal/route"
)

// Listener names the side a Router serves.
type Listener string

const (
	Plain  Listener = "http"
	Secure Listener = "https"
)

type Router struct {
	conf      *config.Config
	listener  Listener
	forwarder *proxy.Forwarder
	logger    logrus.FieldLogger
}

// New builds the handler for one listener. The secure listener additionally
// answers cross-origin requests for any origin.
func New(conf *config.Config, listener Listener) http.Handler {
	logger := logrus.FieldLogger(logrus.StandardLogger())
	if conf.AppLogger != nil {
		logger = conf.AppLogger
	}
	logger = logger.WithField("listener", string(listener))

	var handler http.Handler
	handler = &Router{
		conf:     conf,
		listener: listener,
		forwarder: proxy.New(
			proxy.WithTimeout(forwardTimeout(conf)),
			proxy.WithMaxBodySize(int64(conf.ResponseBodyMaxSize)),
			proxy.WithPolicy(conf.UpstreamPolicy),
			proxy.WithLogger(logger),
		),
		logger: logger,
	}

	if conf.Timelimit != 0 {
		handler = http.TimeoutHandler(handler, conf.Timelimit, "")
	}

	if conf.RequestBodyMaxSize > 0 {
		handler = http.MaxBytesHandler(handler, int64(conf.RequestBodyMaxSize))
	}

	if listener == Secure {
		handler = cors.AllowAll().Handler(handler)
	}

	return handler
}

// forwardTimeout returns the outbound deadline. With a time limit set, the
// deadline expires a quarter of the limit early so the redirect to the root
// is still written before the time limit answers 503.
func forwardTimeout(conf *config.Config) time.Duration {
	d := conf.ForwardTimeout
	if conf.Timelimit <= 0 {
		return d
	}

	limit := conf.Timelimit - conf.Timelimit/4
	if d <= 0 || d > limit {
		d = limit
	}
	return d
}

func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scw := &captureWriter{ResponseWriter: w}
	from := router.serve(scw, r)
	_ = router.conf.Logging.WriteHTTPLog(r, string(router.listener), from, scw.status, scw.size)
}

// serve dispatches r and returns the pattern of the route that handled it.
func (router *Router) serve(w http.ResponseWriter, r *http.Request) string {
	if router.conf.RequestBodyMaxSize > 0 && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return ""
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	for _, h := range router.conf.Headers {
		w.Header().Set(h.Key, h.Value)
	}

	path := r.URL.EscapedPath()
	for _, b := range router.conf.Table.Match(path, router.listener == Secure) {
		rc := b.Route

		if b.Action == route.Redirect {
			router.redirectSecure(w, r)
			return rc.From
		}

		switch rc.Kind {
		case route.Forward:
			router.forwarder.Serve(w, r, proxy.NewRequest(rc, r, path))
			return rc.From
		case route.Static:
			if serveStatic(w, r, rc) {
				return rc.From
			}
		}
	}

	http.NotFound(w, r)
	return ""
}
