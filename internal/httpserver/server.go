package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/telmind/didgate/internal/config"
	"github.com/telmind/didgate/internal/logging"
	"github.com/telmind/didgate/internal/pipeline"
	"github.com/telmind/didgate/internal/smpp"
	"github.com/telmind/didgate/internal/webhook"
	"github.com/telmind/didgate/pkg/codes"
)

// SessionGateway is the slice of the SMPP client the ops server needs.
type SessionGateway interface {
	Submit(ctx context.Context, from, to, text string) (string, error)
	Status() string
	Stats() (delivered, dropped, submitted int64)
}

// Server exposes the gateway's operational HTTP surface: health, status,
// outbound submission, and webhook test/receive endpoints.
type Server struct {
	config     config.HTTPConfig
	gateway    SessionGateway
	supervisor *smpp.Supervisor
	counters   *pipeline.Counters
	webhooks   *webhook.Dispatcher
	httpServer *http.Server
	stopOnce   sync.Once
}

func NewServer(cfg config.HTTPConfig, gw SessionGateway, sup *smpp.Supervisor, counters *pipeline.Counters, wh *webhook.Dispatcher) *Server {
	if gw == nil {
		panic("session gateway cannot be nil for HTTP server")
	}
	return &Server{
		config:     cfg,
		gateway:    gw,
		supervisor: sup,
		counters:   counters,
		webhooks:   wh,
	}
}

// ListenAndServe starts the HTTP server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	if s.httpServer != nil {
		return errors.New("http server already started")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /messages/send", s.handleSend)
	mux.HandleFunc("POST /webhooks/test", s.handleWebhookTest)
	mux.HandleFunc("POST /webhooks/receive", s.handleWebhookReceive)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	slog.Info("Starting ops HTTP server", slog.String("address", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("ops HTTP server ListenAndServe error", slog.Any("error", err))
		return err
	}
	slog.Info("Ops HTTP server stopped.")
	return nil
}

// Shutdown stops the server gracefully. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
	})
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode HTTP response", slog.Any("error", err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Connection        string           `json:"connection"`
	ReconnectAttempts int              `json:"reconnect_attempts"`
	Delivered         int64            `json:"delivered"`
	Dropped           int64            `json:"dropped"`
	Submitted         int64            `json:"submitted"`
	Pipeline          map[string]int64 `json:"pipeline"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	delivered, dropped, submitted := s.gateway.Stats()
	resp := statusResponse{
		Connection: s.gateway.Status(),
		Delivered:  delivered,
		Dropped:    dropped,
		Submitted:  submitted,
	}
	if s.supervisor != nil {
		resp.ReconnectAttempts = s.supervisor.Attempts()
		// A gateway that gave up reconnecting reads as plain "disconnected"
		// from the session alone; the supervisor knows the state is terminal.
		if s.supervisor.Exhausted() {
			resp.Connection = codes.StatusExhausted
		}
	}
	if s.counters != nil {
		resp.Pipeline = s.counters.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleSend submits an outbound short message over the bound session.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		slog.WarnContext(ctx, "Failed to decode send request body", slog.Any("error", err))
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: "invalid JSON body"})
		return
	}
	if req.From == "" || req.To == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: "missing required fields (from, to, text)"})
		return
	}

	logCtx := logging.ContextWithSender(ctx, req.From)
	logCtx = logging.ContextWithDid(logCtx, req.To)

	msgID, err := s.gateway.Submit(logCtx, req.From, req.To, req.Text)
	if err != nil {
		code, status := mapSubmitError(err)
		slog.WarnContext(logCtx, "Outbound submit failed",
			slog.String("code", code), slog.Any("error", err))
		writeJSON(w, status, sendResponse{Error: code})
		return
	}

	logCtx = logging.ContextWithCarrierMsgID(logCtx, msgID)
	slog.InfoContext(logCtx, "Outbound message accepted by carrier")
	writeJSON(w, http.StatusOK, sendResponse{MessageID: msgID})
}

// mapSubmitError translates session errors into stable API error codes.
func mapSubmitError(err error) (string, int) {
	var bindErr *smpp.BindRejectedError
	switch {
	case errors.Is(err, smpp.ErrNotConnected):
		return codes.ErrorCodeNotConnected, http.StatusServiceUnavailable
	case errors.Is(err, smpp.ErrSubmitTimeout):
		return codes.ErrorCodeSubmitTimeout, http.StatusGatewayTimeout
	case errors.Is(err, smpp.ErrSessionClosed):
		return codes.ErrorCodeSessionClosed, http.StatusServiceUnavailable
	case errors.Is(err, smpp.ErrRateLimited):
		return codes.ErrorCodeRateLimited, http.StatusTooManyRequests
	case errors.As(err, &bindErr):
		return codes.ErrorCodeBindRejected, http.StatusServiceUnavailable
	default:
		return codes.ErrorCodeSubmitFailed, http.StatusBadGateway
	}
}

type webhookTestRequest struct {
	URL     string          `json:"url"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handleWebhookTest fires a single signed delivery at the given URL so an
// operator can verify endpoint wiring without waiting for live traffic.
func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req webhookTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing required field (url)"})
		return
	}

	payload := any(map[string]string{
		"test":      "true",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	logCtx := logging.ContextWithWebhookURL(ctx, req.URL)
	result, err := s.webhooks.Send(logCtx, req.URL, payload, &webhook.Options{MaxRetries: 1})
	if err != nil {
		slog.WarnContext(logCtx, "Webhook test delivery failed", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWebhookReceive verifies inbound webhook signatures. It exists so a
// deployment can loop a platform's outbound traffic back for validation.
func (s *Server) handleWebhookReceive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	signature := r.Header.Get(webhook.HeaderSignature)
	timestamp := r.Header.Get(webhook.HeaderTimestamp)
	if signature == "" || timestamp == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing signature headers"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if err := s.webhooks.VerifySignature(body, signature, timestamp); err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignatureMismatch):
			slog.WarnContext(ctx, "Webhook receive rejected: signature mismatch")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature mismatch"})
		default:
			slog.WarnContext(ctx, "Webhook receive rejected", slog.Any("error", err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
