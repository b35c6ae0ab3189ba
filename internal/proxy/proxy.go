package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBodySize bounds how much of an upstream response is buffered.
	DefaultMaxBodySize = 10 << 20
)

// ErrBodyTooLarge is the failure recorded when an upstream body exceeds the
// forwarder's limit.
var ErrBodyTooLarge = errors.New("upstream body too large")

// Policy decides what a non-2xx upstream response means.
type Policy int

const (
	// Relay passes every upstream response through, whatever its status.
	Relay Policy = iota
	// Fallback treats non-2xx like a failed call.
	Fallback
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "relay":
		return Relay, nil
	case "fallback":
		return Fallback, nil
	default:
		return Relay, fmt.Errorf("unknown upstream_errors policy: %q", s)
	}
}

// StatusError is the failure recorded for a non-2xx response under Fallback.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.Code, http.StatusText(e.Code))
}

// Result is the outcome of one outbound call. Err is set on failure, in which
// case the other fields are empty.
type Result struct {
	Status      int
	ContentType string
	Location    string
	Body        []byte
	Err         error
}

func (r Result) Failed() bool {
	return r.Err != nil
}

type Forwarder struct {
	client      *http.Client
	policy      Policy
	maxBodySize int64
	logger      logrus.FieldLogger
}

type Option func(*Forwarder)

func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(f *Forwarder) {
		f.policy = p
	}
}

// WithMaxBodySize sets the largest upstream body that is relayed. Anything
// bigger is a failed call.
func WithMaxBodySize(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// WithTransport replaces the outbound transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.client.Transport = rt
	}
}

func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		client:      &http.Client{Timeout: DefaultTimeout},
		policy:      Relay,
		maxBodySize: DefaultMaxBodySize,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Do issues req and reads the upstream body, up to the forwarder's limit.
func (f *Forwarder) Do(ctx context.Context, req *Request) Result {
	u, err := wireURL(req.Target)
	if err != nil {
		return Result{Err: err}
	}

	body := req.Body
	if req.ContentLen == 0 || body == nil {
		body = http.NoBody
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return Result{Err: err}
	}
	if req.ContentLen > 0 {
		out.ContentLength = req.ContentLen
	}
	for k, v := range req.Header {
		out.Header[k] = v
	}
	if req.ContentType != "" {
		out.Header.Set("Content-Type", req.ContentType)
	}
	out.Header.Set("X-Request-Id", req.ID)

	res, err := f.client.Do(out)
	if err != nil {
		return Result{Err: err}
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, f.maxBodySize+1))
	if err != nil {
		return Result{Err: err}
	}
	if int64(len(b)) > f.maxBodySize {
		return Result{Err: fmt.Errorf("%w: more than %s", ErrBodyTooLarge, humanize.IBytes(uint64(f.maxBodySize)))}
	}

	if f.policy == Fallback && (res.StatusCode < 200 || res.StatusCode > 299) {
		return Result{Err: &StatusError{Code: res.StatusCode}}
	}

	return Result{
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Location:    res.Header.Get("Location"),
		Body:        b,
	}
}

// Serve forwards r and writes either the upstream response or a redirect to
// the site root.
func (f *Forwarder) Serve(w http.ResponseWriter, r *http.Request, req *Request) {
	res := f.Do(r.Context(), req)

	entry := f.logger.WithFields(logrus.Fields{
		"id":     req.ID,
		"method": req.Method,
		"route":  req.Route.From,
		"target": req.Target,
	})

	if res.Failed() {
		entry.WithError(res.Err).Warn("forward failed, redirecting to /")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	entry.WithFields(logrus.Fields{
		"status": res.Status,
		"size":   humanize.Bytes(uint64(len(res.Body))),
	}).Debug("forwarded")

	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	if res.Location != "" {
		w.Header().Set("Location", res.Location)
	}
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}
