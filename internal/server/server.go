package server

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/rx-tracker/internal/assistant"
	"github.com/zombor/rx-tracker/internal/record"
)

// Documents is the document pipeline the server exposes
type Documents interface {
	ProcessUpload(ctx context.Context, filename string, data []byte) (*record.Document, error)
	SearchDocuments(query, category string) ([]record.Document, error)
	GetDocument(id string) (*record.Document, error)
	GetDocumentImage(id string) ([]byte, string, error)
	DeleteDocument(id string) error
}

// Chats is the assistant conversation service
type Chats interface {
	Send(ctx context.Context, chatID, content, language string) (*assistant.Chat, error)
	List() ([]assistant.Chat, error)
	Get(id string) (*assistant.Chat, error)
	Delete(id string) error
}

// Tips serves the wellness tips
type Tips interface {
	Load(ctx context.Context) ([]assistant.HealthTip, error)
	Refresh(ctx context.Context) ([]assistant.HealthTip, error)
}

// Server handles HTTP requests for documents, chats and tips
type Server struct {
	documents Documents
	chats     Chats
	tips      Tips
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// New creates a new Server with default mux
func New(documents Documents, chats Chats, tips Tips, basicAuth BasicAuth) *Server {
	return NewWithMux(documents, chats, tips, basicAuth, http.NewServeMux())
}

// NewWithMux creates a new Server with a custom mux for testing
func NewWithMux(documents Documents, chats Chats, tips Tips, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		documents: documents,
		chats:     chats,
		tips:      tips,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	return username == s.basicAuth.Username && password == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Rx Tracker"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/documents/{id}/image", s.requireAuth(s.handleGetDocumentImage))
	s.mux.HandleFunc("GET /api/documents/{id}", s.requireAuth(s.handleGetDocument))
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.requireAuth(s.handleDeleteDocument))
	s.mux.HandleFunc("GET /api/documents", s.requireAuth(s.handleListDocuments))
	s.mux.HandleFunc("POST /api/documents", s.requireAuth(s.handleUploadDocument))

	s.mux.HandleFunc("GET /api/chats/{id}", s.requireAuth(s.handleGetChat))
	s.mux.HandleFunc("DELETE /api/chats/{id}", s.requireAuth(s.handleDeleteChat))
	s.mux.HandleFunc("GET /api/chats", s.requireAuth(s.handleListChats))
	s.mux.HandleFunc("POST /api/chats", s.requireAuth(s.handleSendMessage))

	s.mux.HandleFunc("POST /api/tips/refresh", s.requireAuth(s.handleRefreshTips))
	s.mux.HandleFunc("GET /api/tips", s.requireAuth(s.handleListTips))

	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleListCategories))
}

// ServeHTTP adds CORS headers and answers preflight requests before routing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
