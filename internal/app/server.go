package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/autophile/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/autophile/internal/api/middlewares"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(a *App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + a.Config.Port,
			Handler:           NewRouter(a.Config.CORSOrigins, handlers.NewDocumentHandler(a.Documents, a.Config.MaxFileSize, logger), handlers.NewChatHandler(a.Chat, logger)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger,
	}
}

// NewRouter mounts the API. Streaming chat sits outside the request timeout.
func NewRouter(origins []string, docHandler *handlers.DocumentHandler, chatHandler *handlers.ChatHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", appMiddleware.UserHeader},
		ExposedHeaders:   []string{"X-Session-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.Identity)

		api.Post("/chat/stream", chatHandler.ChatStream)

		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(60 * time.Second))
			timed.Post("/documents/upload", docHandler.UploadDocument)
			timed.Get("/documents", docHandler.GetDocuments)
			timed.Get("/documents/{id}", docHandler.GetDocument)
			timed.Post("/documents/{id}/reprocess", docHandler.Reprocess)
			timed.Get("/documents/{id}/search", docHandler.Search)
			timed.Get("/documents/{id}/pages/{page}/image", docHandler.PageImage)

			timed.Post("/chat", chatHandler.Chat)
			timed.Get("/chat/sessions/{document_id}", chatHandler.Sessions)
			timed.Get("/chat/history/{session_id}", chatHandler.History)
		})
	})
	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Serve starts the ingestion workers and the HTTP server, blocking until ctx
// is cancelled, the server has drained and running ingestions have finished.
func Serve(ctx context.Context, a *App, logger *slog.Logger) error {
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		stopWorkers()
		a.Ingestor.Wait()
	}()
	if err := a.StartWorkers(workerCtx); err != nil {
		return err
	}

	srv := NewServer(a, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
