package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tokenrooms/backend/internal/config"
	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/httputil"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/metrics"
	"github.com/tokenrooms/backend/internal/middleware"
)

// router builds the HTTP surface with its middleware chain.
func (a *app) router(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.healthHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth
	api.HandleFunc("/auth/nonce", a.nonceHandler()).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", a.loginHandler()).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", a.logoutHandler()).Methods(http.MethodPost)

	// Rooms
	api.HandleFunc("/rooms/popular", a.popularRoomsHandler()).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{name}", a.getRoomHandler()).Methods(http.MethodGet)
	api.HandleFunc("/rooms", a.resolveRoomHandler()).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{name}", a.updateGateHandler()).Methods(http.MethodPatch)
	api.HandleFunc("/rooms/{name}/avatar", a.uploadAvatarHandler()).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{name}/avatar", a.resetAvatarHandler()).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{name}/access", a.roomAccessHandler()).Methods(http.MethodGet)

	// Messages
	api.HandleFunc("/rooms/{name}/messages", a.listMessagesHandler()).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{name}/messages", a.sendMessageHandler()).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{name}/ws", a.roomStreamHandler()).Methods(http.MethodGet)

	// GIFs
	api.HandleFunc("/gifs/search", a.searchGifsHandler()).Methods(http.MethodGet)
	api.HandleFunc("/gifs/trending", a.trendingGifsHandler()).Methods(http.MethodGet)

	skipAuth := []string{
		"/health",
		"/metrics",
		"/api/v1/auth/nonce",
		"/api/v1/auth/login",
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	rateLimiter.StartCleanup(10 * time.Minute)

	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.MetricsMiddleware("server", m))
	r.Use(middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler)
	// Auth runs before the rate limiter so authenticated callers are
	// limited per user rather than per connection.
	r.Use(middleware.NewAuthMiddleware(a.issuer, a.repo, logger, skipAuth).Handler)
	r.Use(rateLimiter.Handler)

	return r
}

func (a *app) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := a.repo.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"service":   "server",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// writeError maps any error onto the standard error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("internal server error", err)
	}
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}
