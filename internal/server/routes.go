// Package server wires HTTP handlers into a ServeMux for the chat relay via
// routing helpers.
package server

import (
	"net/http"

	"github.com/rs/cors"
)

// SetupRoutes configures the application routes around the given API and
// wraps them in CORS for the browser front end. It returns the handler to
// mount on the HTTP server.
func SetupRoutes(api *API) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", HealthHandler)
	mux.HandleFunc("GET /ws/{room}", api.ServeWS)
	mux.HandleFunc("GET /rooms", api.ListRooms)
	mux.HandleFunc("POST /rooms", api.CreateRoom)
	mux.HandleFunc("GET /test", api.TestPage)
	mux.Handle("GET /metrics", MetricsHandler())

	c := cors.New(cors.Options{
		AllowedOrigins:   api.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}
