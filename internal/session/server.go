package session

import (
	"log/slog"
	"net/http"
)

// Server exposes a Session over HTTP
type Server struct {
	session *Session
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(session *Session) *Server {
	return NewServerWithMux(session, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(session *Session, mux *http.ServeMux) *Server {
	s := &Server{
		session: session,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)

	s.mux.HandleFunc("GET /api/scans", s.handleListScans)
	s.mux.HandleFunc("POST /api/scans", s.handleResolve)
	s.mux.HandleFunc("POST /api/recognized", s.handleRecognized)

	s.mux.HandleFunc("GET /api/cart", s.handleGetCart)
	s.mux.HandleFunc("POST /api/cart", s.handleAddToCart)
	s.mux.HandleFunc("DELETE /api/cart/{id}", s.handleRemoveFromCart)

	s.mux.HandleFunc("GET /api/confirmations", s.handleListConfirmations)
	s.mux.HandleFunc("POST /api/confirmations/{id}", s.handleConfirm)
	s.mux.HandleFunc("DELETE /api/confirmations/{id}", s.handleCancel)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
