package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/picklesync/go/internal/config"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// UI API and event stream
	services.Gateway.RegisterRoutes(mux)

	// Peer link for the companion device
	if services.PeerHandler != nil {
		mux.Handle(cfg.Transport.PeerPath, services.PeerHandler)
		log.Info().Str("path", cfg.Transport.PeerPath).Msg("accepting peer connections")
	}

	setupHealthCheck(mux)
	setupInfo(mux, cfg, services)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func setupInfo(mux *http.ServeMux, cfg *config.Config, services *Services) {
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info := map[string]any{
			"service":     "picklesync",
			"device_id":   cfg.Device.ID,
			"role":        cfg.Device.Role,
			"transport":   cfg.Transport.Kind,
			"store":       cfg.Store.Driver,
			"connections": services.Gateway.ConnectionCount(),
		}
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})
}
