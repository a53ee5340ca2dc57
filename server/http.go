package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/upb/agent-governor/config"
	"github.com/upb/agent-governor/models"
)

type contextKey string

const actorContextKey contextKey = "governor.actor"

func withActor(ctx context.Context, actor *models.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func actorFrom(ctx context.Context) *models.Actor {
	actor, _ := ctx.Value(actorContextKey).(*models.Actor)
	return actor
}

// HTTPServer serves the tool protocol over HTTP
type HTTPServer struct {
	registry *Registry
	cfg      *config.Config
	logger   *zap.Logger
}

// NewHTTPServer wires the registry into an HTTP transport
func NewHTTPServer(registry *Registry, cfg *config.Config, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{registry: registry, cfg: cfg, logger: logger}
}

// Router builds the chi router with the standard middleware stack
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		if s.cfg.Auth.Enabled {
			api.Use(authMiddleware(s.cfg.Auth.JWTSecret))
		}
		api.Get("/tools", s.handleListTools)
		api.Post("/tools/{name}", s.handleCallTool)
	})

	return r
}

func (s *HTTPServer) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, map[string]interface{}{"tools": s.registry.Names()})
}

func (s *HTTPServer) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var payload json.RawMessage
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, fmt.Errorf("decoding request body: %w", err))
			return
		}
	}

	// an authenticated actor backfills payloads that name none
	if actor := actorFrom(r.Context()); actor != nil {
		var err error
		payload, err = injectActor(payload, actor)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := s.registry.Call(r.Context(), name, payload)
	if err != nil {
		s.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

// injectActor sets the actor field of a tool payload when it is absent
func injectActor(payload json.RawMessage, actor *models.Actor) (json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("decoding payload for actor injection: %w", err)
		}
	}
	if raw, ok := doc["actor"]; ok && string(raw) != "null" {
		return payload, nil
	}
	encoded, err := json.Marshal(actor)
	if err != nil {
		return nil, fmt.Errorf("encoding authenticated actor: %w", err)
	}
	doc["actor"] = encoded
	return json.Marshal(doc)
}

// ListenAndServe runs the HTTP transport until ctx is canceled
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http transport listening", zap.Int("port", s.cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
