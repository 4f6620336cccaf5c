// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpserver runs the homeserver's HTTP listener with graceful
// shutdown.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address, e.g. "127.0.0.1:8008" or
	// "127.0.0.1:0" for an OS-assigned port. Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ReadTimeout and WriteTimeout bound a single request. The write
	// timeout must exceed the longest long-poll wait. Zero disables
	// the timeout.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the drain of in-flight requests after
	// the context is cancelled. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Server serves HTTP on a TCP listener until its context is cancelled.
type Server struct {
	config Config
	ready  chan struct{}
	addr   net.Addr

	// onShutdown runs once shutdown begins, before in-flight requests
	// drain. Hijacked websocket connections are not tracked by
	// http.Server and are closed from here.
	onShutdown []func()
}

// New creates a Server. Panics if a required field is missing.
func New(config Config) *Server {
	if config.Address == "" {
		panic("httpserver.New: Address is required")
	}
	if config.Handler == nil {
		panic("httpserver.New: Handler is required")
	}
	if config.Logger == nil {
		panic("httpserver.New: Logger is required")
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &Server{config: config, ready: make(chan struct{})}
}

// RegisterOnShutdown adds f to the functions run when shutdown begins.
// Must be called before Serve.
func (s *Server) RegisterOnShutdown(f func()) {
	s.onShutdown = append(s.onShutdown, f)
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address. Valid after Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve binds the listener and serves until ctx is cancelled, then
// stops accepting connections and waits up to ShutdownTimeout for
// active requests.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	for _, f := range s.onShutdown {
		server.RegisterOnShutdown(f)
	}

	logger := s.config.Logger
	logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
