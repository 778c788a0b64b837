package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/zombor/shop-scanner/internal/cart"
	"github.com/zombor/shop-scanner/internal/scan"
)

const maxBodySize = 1 << 20

// codeRequest is the body of every endpoint that takes a scanned code
type codeRequest struct {
	Code string `json:"code"`
}

// cartResponse is the cart as returned by the API
type cartResponse struct {
	Lines []cart.Line     `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a size-limited JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

// handleState returns the whole observable state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// handleListScans returns the resolved scans in resolution order
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Scans())
}

// handleResolve resolves a code against the record store
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := s.session.Resolve(r.Context(), req.Code)
	switch {
	case errors.Is(err, scan.ErrEmptyCode):
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "Record store unavailable")
		return
	}

	switch outcome.Status {
	case scan.StatusAdded:
		writeJSON(w, http.StatusCreated, outcome)
	case scan.StatusNotFound:
		writeJSON(w, http.StatusNotFound, outcome)
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}

// handleRecognized feeds a recognized item into the scan router
func (s *Server) handleRecognized(w http.ResponseWriter, r *http.Request) {
	var item Item
	if err := decodeBody(w, r, &item); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if item.Kind == "" {
		item.Kind = KindBarcode
	}

	// Routing outlives the request; resolution results arrive on the stream.
	s.session.Recognize(context.WithoutCancel(r.Context()), item)
	w.WriteHeader(http.StatusAccepted)
}

// handleGetCart returns the cart lines and total
func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	lines, total := s.session.Cart()
	writeJSON(w, http.StatusOK, cartResponse{Lines: lines, Total: total})
}

// handleAddToCart starts an admission attempt for a resolved code
func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	attempt, err := s.session.AddToCart(req.Code)
	switch {
	case errors.Is(err, scan.ErrEmptyCode):
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	case errors.Is(err, ErrUnknownCode):
		writeError(w, http.StatusNotFound, "Scan this product first")
		return
	case err != nil:
		slog.Error("Error adding to cart", "code", req.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if attempt.State == cart.StateAwaitingSecondaryScan {
		writeJSON(w, http.StatusAccepted, attempt)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

// handleRemoveFromCart removes a cart line by ID
func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.session.RemoveFromCart(id); !ok {
		writeError(w, http.StatusNotFound, "Cart line not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListConfirmations returns attempts awaiting a secondary scan
func (s *Server) handleListConfirmations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Pending())
}

// handleConfirm checks a secondary code for a pending attempt
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	attempt, err := s.session.Confirm(r.PathValue("id"), req.Code)
	if err != nil {
		writeAttemptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// handleCancel abandons a pending attempt
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.session.Cancel(r.PathValue("id"))
	if err != nil {
		writeAttemptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func writeAttemptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "Confirmation not found")
	case errors.Is(err, cart.ErrAttemptExpired):
		writeError(w, http.StatusGone, "Confirmation expired")
	default:
		slog.Error("Error handling confirmation", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleStream sends state changes as server-sent events until the client goes away
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	changes, cancel := s.session.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change.Data)
			if err != nil {
				slog.Error("Error encoding change", "topic", change.Topic, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Topic, data)
			flusher.Flush()
		}
	}
}
