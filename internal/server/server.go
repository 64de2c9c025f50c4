// Package server implements qpackd, an HTTP service hosting QPACK
// encoder/decoder sessions that are driven one instruction at a time.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"qpackd/internal/logging"
)

type Server struct {
	Config *Config
	Logger logging.Logger

	store *SessionStore
}

// NewServer loads the config file and opens the configured log file.
func NewServer(configPath string) (*Server, error) {
	conf, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(conf.Logger.Level)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewDefaultLogger(level, conf.Logger.File)
	if err != nil {
		return nil, err
	}

	return New(conf, logger), nil
}

func New(conf *Config, logger logging.Logger) *Server {
	return &Server{
		Config: conf,
		Logger: logger,
		store:  NewSessionStore(time.Duration(conf.Sessions.TTL)*time.Second, logger),
	}
}

func (s *Server) Log(level logging.LogLevel, message string, args ...interface{}) {
	s.Logger.Log(level, message, args...)
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequest)
	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/encode", s.encode)
			r.Post("/encoder/feed", s.feedEncoder)
			r.Post("/decoder/feed", s.feedDecoder)
			r.Post("/decoder/streams/{stream}", s.feedHeader)
			r.Post("/decoder/streams/{stream}/resume", s.resumeHeader)
			r.Delete("/decoder/streams/{stream}", s.cancelStream)
		})
	})

	return r
}

// Start serves qpackd until the listener fails. With certificates the
// listener speaks TLS.
func (s *Server) Start(cert []tls.Certificate) error {
	addr := s.Config.Addr()
	s.Log(logging.LogLevelInfo, "Starting qpackd on %s", addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.Log(logging.LogLevelError, "Failed to listen on %s: %v", addr, err)
		return err
	}

	scheme := "http"
	if len(cert) > 0 {
		tlsConfig := &tls.Config{
			NextProtos:   []string{"h2", "http/1.1"},
			Certificates: cert,
		}
		ln = tls.NewListener(ln, tlsConfig)
		scheme = "https"
	}

	defer func() {
		if cerr := ln.Close(); cerr != nil {
			s.Log(logging.LogLevelDebug, "Failed to close listener: %v", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.store.Run(ctx)

	s.Log(logging.LogLevelInfo, "Listening on %s://%s", scheme, ln.Addr().String())

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.Serve(ln)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log(logging.LogLevelDebug, "%s %s from %v: %d in %v", r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start))
	})
}
