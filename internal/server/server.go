package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
	"github.com/y-yagi/nodachi/internal/certs"
	"github.com/y-yagi/nodachi/internal/config"
	"github.com/y-yagi/nodachi/internal/router"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	conf      *config.Config
	tlsConfig *tls.Config
	logger    logrus.FieldLogger
}

// New loads the TLS material when the secure listener is needed. An
// unreadable key or certificate is fatal: no listener is started.
func New(conf *config.Config) (*Server, error) {
	s := &Server{conf: conf, logger: logrus.StandardLogger()}
	if conf.AppLogger != nil {
		s.logger = conf.AppLogger
	}

	keys := conf.HTTPS.Keys
	if !conf.Table.HasSecure() && keys.Private == "" && keys.Public == "" {
		return s, nil
	}

	m, err := certs.Load(keys.Private, keys.Public)
	if err != nil {
		return nil, err
	}
	if s.tlsConfig, err = m.TLSConfig(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Start(g *errgroup.Group, ctx context.Context, done context.CancelFunc) {
	g.Go(func() error {
		return s.startHttpServer(ctx, ":"+s.conf.Port, router.New(s.conf, router.Plain), nil)
	})

	if s.tlsConfig != nil {
		handler := router.New(s.conf, router.Secure)
		if s.conf.UseHttp3 {
			h3 := &http3.Server{
				Addr:      ":" + s.conf.SecurePort,
				Handler:   handler,
				TLSConfig: http3.ConfigureTLSConfig(s.tlsConfig.Clone()),
			}
			handler = altSvc(h3, handler)

			g.Go(func() error {
				return s.startHttp3Server(ctx, h3)
			})
		}

		g.Go(func() error {
			return s.startHttpServer(ctx, ":"+s.conf.SecurePort, handler, s.tlsConfig)
		})
	}

	g.Go(func() error {
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		defer signal.Stop(sighup)

		for {
			select {
			case <-sighup:
				if err := s.conf.Logging.Reopen(); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}

		}
	})

	g.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		select {
		case <-stop:
			done()
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})
}

func (s *Server) startHttpServer(ctx context.Context, addr string, handler http.Handler, tlsConfig *tls.Config) error {
	httpserver := &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.WithField("addr", addr).WithField("tls", tlsConfig != nil).Info("listening")
		if tlsConfig != nil {
			if err := httpserver.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		} else {
			if err := httpserver.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpserver.Shutdown(tctx)
	}
}

func (s *Server) startHttp3Server(ctx context.Context, h3 *http3.Server) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.WithField("addr", h3.Addr).Info("listening (http3)")
		if err := h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return h3.Close()
	}
}

// altSvc advertises the HTTP/3 listener on TCP responses.
func altSvc(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h3.SetQuicHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}
