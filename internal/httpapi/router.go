// Package httpapi binds the HTTP and WebSocket endpoints to the relay and
// finalizer.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dictation-relay-service/internal/asr"
	"dictation-relay-service/internal/events"
	"dictation-relay-service/internal/finalize"
	"dictation-relay-service/internal/models"
	"dictation-relay-service/internal/observability/metrics"
	"dictation-relay-service/internal/relay"
	"dictation-relay-service/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Desktop clients connect from arbitrary origins.
	},
}

// Deps holds everything the router needs.
type Deps struct {
	ServiceName string
	Store       *session.Store
	Finalizer   *finalize.Finalizer
	Dialer      asr.Dialer
	Publisher   *events.Publisher
	Logger      zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	s := &server{deps: deps, logger: deps.Logger.With().Str("component", "httpapi").Logger()}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Post("/end-dictation", s.handleEndDictation)
	r.Get("/ws/asr", s.handleASR)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return r
}

type server struct {
	deps   Deps
	logger zerolog.Logger
}

// cors applies the permissive policy the desktop client expects.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   s.deps.ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleEndDictation runs LLM cleanup over the session's accumulated text
// (or directly supplied text) and deletes the session.
func (s *server) handleEndDictation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.FinalizeRequest
	body, err := io.ReadAll(r.Body)
	if err == nil {
		// A body that is not valid JSON is treated as an empty request.
		if jsonErr := json.Unmarshal(body, &req); jsonErr != nil {
			req = models.FinalizeRequest{}
		}
	}

	resp, err := s.deps.Finalizer.Finalize(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		msg := err.Error()
		if err == finalize.ErrNoText {
			status = http.StatusBadRequest
			msg = "No text provided"
		} else {
			s.logger.Error().Err(err).Str("sessionId", req.SessionID).Msg("Finalize failed")
			if msg == "" {
				msg = "Processing failed"
			}
		}
		metrics.DefaultMetrics.RecordFinalize(strconv.Itoa(status), time.Since(start).Seconds())
		writeJSON(w, status, models.ErrorResponse{Error: msg})
		return
	}

	metrics.DefaultMetrics.RecordFinalize("200", time.Since(start).Seconds())
	metrics.DefaultMetrics.SetSessionsActive(s.deps.Store.Len())
	writeJSON(w, http.StatusOK, resp)
}

// handleASR upgrades the connection and relays between the client and the
// upstream transcription stream until the client goes away.
func (s *server) handleASR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	logger := s.logger.With().Str("sessionId", sessionID).Logger()
	logger.Info().Msg("New dictation connection")

	// The socket outlives the request; its context would misfire here.
	ctx := context.Background()

	stream, err := s.deps.Dialer.Dial(ctx, sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create upstream stream")
		ws.WriteJSON(models.ServerMessage{
			Type:      models.MessageTypeError,
			Error:     "ASR connection failed",
			SessionID: sessionID,
		})
		return
	}

	conn := relay.NewConnection(sessionID, stream, s.deps.Store, s.deps.Publisher, ws, logger)
	defer conn.Close()

	if err := conn.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start upstream stream")
		return
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			logger.Info().Err(err).Msg("Client disconnected")
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := conn.HandleBinary(ctx, data); err != nil {
				logger.Error().Err(err).Msg("Audio forward failed")
			}
		case websocket.TextMessage:
			if err := conn.HandleText(ctx, data); err != nil {
				logger.Error().Err(err).Msg("Control message failed")
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
