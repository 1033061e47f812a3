// Package server assembles the receiver's HTTP and HTTP/3 listeners (C4,
// C5) behind the process supervisor's Component lifecycle.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/quic-go/quic-go/http3"

	"ingestpipe/pkg/admission"
	"ingestpipe/pkg/config"
	"ingestpipe/pkg/logger"
	"ingestpipe/services/receiver-svc/internal/middleware"
)

// Server runs an HTTP/1.1 listener and, when enabled, an HTTP/3 (QUIC)
// listener over the same handler and TLS material.
type Server struct {
	cfg     config.HTTPConfig
	tlsCfg  config.TLSConfig
	handler http.Handler
	filter  admission.Filter

	httpSrv *http.Server
	h3Srv   *http3.Server
	ln      net.Listener
}

// New builds a Server. filter may be nil to disable ingress filtering at
// the listener level.
func New(cfg config.HTTPConfig, tlsCfg config.TLSConfig, handler http.Handler, filter admission.Filter) *Server {
	return &Server{cfg: cfg, tlsCfg: tlsCfg, handler: handler, filter: filter}
}

// Name implements supervisor.Component.
func (s *Server) Name() string { return "http-receiver" }

// Start binds the configured listeners and begins serving in the
// background. It returns once the listeners are bound, not once they stop.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("receiver: failed to bind %s: %w", addr, err)
	}
	if s.filter != nil {
		ln = middleware.WrapListener(ln, s.filter)
	}
	s.ln = ln

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	var tlsConfig *tls.Config
	if s.tlsCfg.Enabled {
		cert, err := tls.LoadX509KeyPair(s.tlsCfg.CertFile, s.tlsCfg.KeyFile)
		if err != nil {
			return fmt.Errorf("receiver: failed to load TLS material: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		s.httpSrv.TLSConfig = tlsConfig
	}

	go func() {
		var serveErr error
		if s.tlsCfg.Enabled {
			serveErr = s.httpSrv.ServeTLS(s.ln, "", "")
		} else {
			serveErr = s.httpSrv.Serve(s.ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Log.Error("receiver: http server stopped", "error", serveErr)
		}
	}()

	if s.cfg.EnableHTTP3 && s.tlsCfg.Enabled {
		s.h3Srv = &http3.Server{
			Addr:      addr,
			Handler:   s.handler,
			TLSConfig: tlsConfig,
		}
		go func() {
			if err := s.h3Srv.ListenAndServe(); err != nil {
				logger.Log.Error("receiver: http3 server stopped", "error", err)
			}
		}()
	}

	logger.Log.Info("receiver: listening", "addr", addr, "http3", s.cfg.EnableHTTP3 && s.tlsCfg.Enabled)
	return nil
}

// Stop gracefully drains in-flight requests up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.h3Srv != nil {
		_ = s.h3Srv.Close()
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
