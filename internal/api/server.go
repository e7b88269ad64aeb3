// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/seerrlite/internal/api/handlers"
	"github.com/autobrr/seerrlite/internal/api/middleware"
	"github.com/autobrr/seerrlite/internal/api/swagger"
	"github.com/autobrr/seerrlite/internal/config"
)

// AcquisitionService is what the API needs from the acquisition service.
type AcquisitionService interface {
	handlers.Intake
	handlers.Monitor
}

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	acquisition AcquisitionService
}

type Dependencies struct {
	Config      *config.AppConfig
	Version     string
	Acquisition AcquisitionService
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// inline webhooks run the whole pipeline before replying
			WriteTimeout: 15 * time.Minute,
			IdleTimeout:  180 * time.Second,
		},
		logger:      log.Logger.With().Str("module", "api").Logger(),
		config:      deps.Config,
		version:     deps.Version,
		acquisition: deps.Acquisition,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Str("webhook_mode", s.config.Config.WebhookMode).
		Msgf("Starting API server - Webhook: http://%s%sjellyseer-webhook/", host, s.baseURL())

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) baseURL() string {
	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		return "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func (s *Server) Handler() (*chi.Mux, error) {
	if s.acquisition == nil {
		return nil, errors.New("acquisition service is required")
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	// HTTP compression - handles gzip, brotli, zstd, deflate automatically
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	baseURL := s.baseURL()
	if baseURL == "/" {
		s.registerRoutes(r)
		return r, nil
	}

	r.Route(strings.TrimSuffix(baseURL, "/"), s.registerRoutes)
	r.Get("/", func(w http.ResponseWriter, request *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
	})

	return r, nil
}

func (s *Server) registerRoutes(r chi.Router) {
	healthHandler := handlers.NewHealthHandler(func() bool {
		return s.acquisition.Status().Started
	})
	webhookHandler := handlers.NewWebhookHandler(s.acquisition, s.config.Config.WebhookMode, s.config.Config.WebhookSecret)
	acquisitionHandler := handlers.NewAcquisitionHandler(s.acquisition)

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Post("/jellyseer-webhook/", webhookHandler.Handle)

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", webhookHandler.Handle)
		r.Get("/openapi.yaml", swagger.ServeSpec)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.config.Config.APIKey))

			r.Get("/activity", acquisitionHandler.GetActivity)
			r.Get("/status", acquisitionHandler.GetStatus)
			r.Post("/sync", acquisitionHandler.TriggerSync)
		})
	})
}
