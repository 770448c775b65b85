package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ent0n29/tzevaot/internal/chat"
	"github.com/ent0n29/tzevaot/internal/config"
	"github.com/ent0n29/tzevaot/internal/history"
	"github.com/ent0n29/tzevaot/internal/identity"
	"github.com/ent0n29/tzevaot/internal/memory"
	"github.com/ent0n29/tzevaot/internal/observability"
)

// ChatPath is the single chat endpoint.
const ChatPath = "/api/tzevaotChat"

const maxBodyBytes = 64 << 10

type ChatService interface {
	Profile(ctx context.Context, rawIdentity string) (memory.Record, error)
	Send(ctx context.Context, req chat.Request) (chat.Result, error)
	ProviderName() string
	StoreBackend() string
}

type Server struct {
	cfg     config.Config
	chat    ChatService
	metrics *observability.Metrics
	logger  *zap.Logger
}

func New(cfg config.Config, svc ChatService, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		chat:    svc,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(s.cors)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get(ChatPath, s.handleGetChat)
	r.Post(ChatPath, s.handlePostChat)
	r.Options(ChatPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"store_backend": s.chat.StoreBackend(),
		"provider":      s.chat.ProviderName(),
	})
}

type profileResponse struct {
	Address    string         `json:"address"`
	History    []memory.Entry `json:"history"`
	IsHolder   bool           `json:"isHolder"`
	SeenCount  int            `json:"seenCount"`
	OwnedItems []string       `json:"ownedItems"`
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("address")
	if raw == "" {
		raw = q.Get("identity")
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	rec, err := s.chat.Profile(ctx, raw)
	if err != nil {
		s.countRequest(http.MethodGet, outcomeOf(err))
		s.respondChatError(w, err, nil)
		return
	}
	s.countRequest(http.MethodGet, "ok")
	respondJSON(w, http.StatusOK, profileResponse{
		Address:    rec.Identity,
		History:    nonNilEntries(rec.History),
		IsHolder:   rec.IsHolder,
		SeenCount:  rec.SeenCount,
		OwnedItems: nonNilItems(rec.OwnedItems),
	})
}

type chatRequest struct {
	Address    string  `json:"address"`
	Identity   string  `json:"identity"`
	IsHolder   bool    `json:"isHolder"`
	Message    string  `json:"message"`
	OwnedItems itemIDs `json:"ownedItems"`
}

type chatResponse struct {
	Reply   string         `json:"reply"`
	History []memory.Entry `json:"history"`
}

func (s *Server) handlePostChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.countRequest(http.MethodPost, "invalid")
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	raw := req.Address
	if raw == "" {
		raw = req.Identity
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.chat.Send(ctx, chat.Request{
		Identity:   raw,
		IsHolder:   req.IsHolder,
		Message:    req.Message,
		OwnedItems: []string(req.OwnedItems),
	})
	if err != nil {
		s.countRequest(http.MethodPost, outcomeOf(err))
		s.respondChatError(w, err, &res)
		return
	}
	s.countRequest(http.MethodPost, "ok")
	respondJSON(w, http.StatusOK, chatResponse{
		Reply:   res.Reply,
		History: nonNilEntries(res.History),
	})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// respondChatError maps pipeline errors to status codes. A storage failure
// after a reply was generated still carries that reply.
func (s *Server) respondChatError(w http.ResponseWriter, err error, res *chat.Result) {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		respondError(w, http.StatusBadRequest, "invalid_identity", "address is required")
	case errors.Is(err, chat.ErrMissingField):
		respondError(w, http.StatusBadRequest, "missing_field", "message is required")
	case errors.Is(err, chat.ErrProviderFailure):
		respondError(w, http.StatusBadGateway, "provider_failure", "completion provider failed")
	case errors.Is(err, history.ErrStorageUnavailable):
		body := errorResponse{Error: "history storage unavailable", Code: "storage_unavailable"}
		if res != nil && res.Reply != "" {
			body.Reply = res.Reply
			body.History = nonNilEntries(res.History)
		}
		respondJSON(w, http.StatusServiceUnavailable, body)
	default:
		s.logger.Error("chat request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity), errors.Is(err, chat.ErrMissingField):
		return "invalid"
	case errors.Is(err, chat.ErrProviderFailure):
		return "provider_error"
	case errors.Is(err, history.ErrStorageUnavailable):
		return "storage_error"
	default:
		return "error"
	}
}

func (s *Server) countRequest(method, outcome string) {
	if s.metrics != nil {
		s.metrics.ChatRequests.WithLabelValues(method, outcome).Inc()
	}
}

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Reply   string         `json:"reply,omitempty"`
	History []memory.Entry `json:"history,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func nonNilEntries(entries []memory.Entry) []memory.Entry {
	if entries == nil {
		return []memory.Entry{}
	}
	return entries
}

func nonNilItems(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// itemIDs accepts token ids sent either as JSON strings or numbers.
type itemIDs []string

func (ids *itemIDs) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ids = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.New("ownedItems must be an array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return errors.New("ownedItems entries must be strings or numbers")
		}
		out = append(out, n.String())
	}
	*ids = out
	return nil
}
