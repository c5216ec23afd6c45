package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/csremote/broker/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

// Server is an HTTP server that owns its listener from construction,
// so the bound port is known before Run.
type Server struct {
	http.Server

	opts     Options
	listener *Listener
	certs    *autocert.Manager
	redirect *http.Server
	log      *logger.Logger
}

type (
	Handler        = http.Handler
	HandlerFunc    = http.HandlerFunc
	ResponseWriter = http.ResponseWriter
	Request        = http.Request
)

// Mux is a ServeMux with an optional path prefix.
type Mux struct {
	*http.ServeMux
	prefix string
}

func NewServeMux(prefix string) *Mux { return &Mux{ServeMux: http.NewServeMux(), prefix: prefix} }

func (m *Mux) Handle(pattern string, handler Handler) *Mux {
	m.ServeMux.Handle(m.prefix+pattern, handler)
	return m
}

func (m *Mux) HandleFunc(pattern string, handler func(ResponseWriter, *Request)) *Mux {
	m.ServeMux.HandleFunc(m.prefix+pattern, handler)
	return m
}

// HandleMethod registers the handler with a Go method pattern, i.e. "POST /api/codes".
func (m *Mux) HandleMethod(method, pattern string, handler func(ResponseWriter, *Request)) *Mux {
	m.ServeMux.HandleFunc(method+" "+m.prefix+pattern, handler)
	return m
}

func NewServer(address string, handler Handler, options ...Option) (*Server, error) {
	opts := Options{
		HttpsRedirect: true,
		CertCache:     "certs",
		IdleTimeout:   120 * time.Second,
		ReadTimeout:   30 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if address == "" {
		address = ":http"
		if opts.Https {
			address = ":https"
		}
	}

	listener, err := NewListener(address, opts.PortRoll, opts.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Server: http.Server{
			Addr:        buildAddress(address, *listener),
			Handler:     handler,
			IdleTimeout: opts.IdleTimeout,
			ReadTimeout: opts.ReadTimeout,
			// zero for the broker, sockets set their own write deadlines
			WriteTimeout: opts.WriteTimeout,
		},
		opts:     opts,
		listener: listener,
		log:      opts.Logger,
	}
	if opts.Https && opts.IsAutoHttpsCert() {
		s.certs = newCertManager(opts.HttpsDomain, opts.CertCache)
		s.TLSConfig = s.certs.TLSConfig()
	}
	opts.Logger.Debug().Msgf("httpx %v (%v)", s.Addr, address)
	return s, nil
}

// Port returns the port the server listens on.
func (s *Server) Port() int { return s.listener.GetPort() }

func (s *Server) Protocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}

func (s *Server) Run() {
	if s.opts.Https && s.opts.HttpsRedirect && s.opts.HttpsRedirectAddress != "" {
		s.redirect = &http.Server{Addr: s.opts.HttpsRedirectAddress, Handler: s.redirection()}
		go func() {
			if err := s.redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("https redirect server failed")
			}
		}()
	}
	go func() {
		var err error
		if s.opts.Https {
			err = s.ServeTLS(s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
		} else {
			err = s.Serve(s.listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msgf("%v server failed", s.Protocol())
		}
	}()
}

// Shutdown stops accepting requests and waits for the active ones.
// Hijacked connections are not tracked here. It also releases the
// listener of a server that never ran.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.redirect != nil {
		err = s.redirect.Shutdown(ctx)
	}
	err = errors.Join(err, s.Server.Shutdown(ctx))
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Server) String() string { return s.Protocol() + "://" + s.Addr }

// redirection sends plain HTTP to the TLS port of the same host and
// answers ACME challenges when certificates are managed.
func (s *Server) redirection() Handler {
	host := s.opts.HttpsDomain
	port := s.Port()
	var h Handler = HandlerFunc(func(w ResponseWriter, r *Request) {
		target := host
		if target == "" {
			target = extractHost(r.Host)
		}
		if port != 443 {
			target += ":" + strconv.Itoa(port)
		}
		u := url.URL{Scheme: "https", Host: target, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
		http.Redirect(w, r, u.String(), http.StatusFound)
	})
	if s.certs != nil {
		h = s.certs.HTTPHandler(h)
	}
	return h
}
