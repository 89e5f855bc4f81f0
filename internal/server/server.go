// Package server provides the HTTP surface of the three memory-layer
// services: ingestion, indexing, and composer. Each service gets its own
// router; lifecycle, middleware, and error mapping are shared.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Pinger verifies the shared store answers queries; health endpoints use it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps an http.Server with listener preflight and graceful shutdown.
type Server struct {
	name     string
	srv      *http.Server
	listener net.Listener
}

// New builds a server for the given handler. The standard middleware chain
// (rate limiting, CORS for loopback origins, security headers) is applied
// here so every service carries it.
func New(name, host string, port int, handler http.Handler) *Server {
	wrapped := securityHeaders(corsLoopback(rateLimit(handler)))
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      wrapped,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Listen binds the address, taking over from a prior instance when the
// port is held. A failure here is a startup error the caller maps to its
// bind-failure exit path.
func (s *Server) Listen() error {
	listener, err := listenWithPreflight(s.name, s.srv.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.srv.Addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address. Useful with port 0 in tests.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Serve runs the server until ctx is cancelled, then drains connections.
// Listen must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	log.Printf("%s: listening on %s", s.name, s.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("%s: shutdown: %v", s.name, err)
	}
	return nil
}
