package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
	"github.com/chatwarden/chatwarden/internal/metrics"
)

// Moderation is the part of the moderation service the API exposes
type Moderation interface {
	BufferSummary() []domain.BufferSummary
	PendingMessages(chatID int64) []domain.BufferedMessage
	History(ctx context.Context, chatID int64) ([]domain.HistoryEntry, error)
	Review(ctx context.Context, reviewID string) (*domain.ReviewRecord, *domain.ReviewTombstone, error)
	Flush(ctx context.Context, chatID int64) error
}

// Server provides the admin HTTP API
type Server struct {
	svc        Moderation
	configRepo repo.ChatConfigRepo
	log        *zap.Logger

	server *http.Server
	port   int
}

// NewServer creates a new API server
func NewServer(svc Moderation, configRepo repo.ChatConfigRepo, port int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		svc:        svc,
		configRepo: configRepo,
		port:       port,
		log:        log.Named("api"),
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Buffer inspection
	mux.HandleFunc("GET /api/buffer/summary", s.handleBufferSummary)
	mux.HandleFunc("GET /api/chats/{id}/buffer", s.handleChatBuffer)
	mux.HandleFunc("POST /api/chats/{id}/flush", s.handleFlush)

	// Conversation log
	mux.HandleFunc("GET /api/chats/{id}/history", s.handleHistory)

	// Chat configuration
	mux.HandleFunc("GET /api/chats/{id}/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/chats/{id}/config", s.handlePutConfig)

	// Reviews
	mux.HandleFunc("GET /api/reviews/{id}", s.handleReview)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.Int("port", s.port))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// ============ Buffer Handlers ============

func (s *Server) handleBufferSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{"summaries": s.svc.BufferSummary()})
}

func (s *Server) handleChatBuffer(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, map[string]interface{}{"messages": s.svc.PendingMessages(chatID)})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if err := s.svc.Flush(r.Context(), chatID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"flushed": true,
		"pending": len(s.svc.PendingMessages(chatID)),
	})
}

// ============ History Handlers ============

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	entries, err := s.svc.History(r.Context(), chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	s.writeJSON(w, map[string]interface{}{"entries": entries})
}

// ============ Config Handlers ============

// chatConfigView hides the api key
type chatConfigView struct {
	ChatID     int64   `json:"chat_id"`
	Configured bool    `json:"configured"`
	Enabled    bool    `json:"enabled"`
	HasAPIKey  bool    `json:"has_api_key"`
	Admins     []int64 `json:"admins"`
}

// configUpdate changes only the fields that are present
type configUpdate struct {
	APIKey  *string  `json:"api_key"`
	Enabled *bool    `json:"enabled"`
	Admins  *[]int64 `json:"admins"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	view, err := s.configView(r.Context(), chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req configUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	cfg, err := s.configRepo.GetChatConfig(ctx, chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cfg == nil {
		cfg = &domain.ChatConfig{ChatID: chatID, Enabled: true}
	}
	if req.APIKey != nil {
		cfg.APIKey = *req.APIKey
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if err := s.configRepo.SaveChatConfig(ctx, cfg); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Admins != nil {
		if err := s.configRepo.SetAdmins(ctx, chatID, *req.Admins); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.log.Info("Chat config updated", zap.Int64("chat_id", chatID), zap.Bool("enabled", cfg.Enabled))

	view, err := s.configView(ctx, chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) configView(ctx context.Context, chatID int64) (*chatConfigView, error) {
	cfg, err := s.configRepo.GetChatConfig(ctx, chatID)
	if err != nil {
		return nil, err
	}
	admins, err := s.configRepo.GetAdmins(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if admins == nil {
		admins = []int64{}
	}

	view := &chatConfigView{ChatID: chatID, Enabled: true, Admins: admins}
	if cfg != nil {
		view.Configured = true
		view.Enabled = cfg.Enabled
		view.HasAPIKey = cfg.APIKey != ""
	}
	return view, nil
}

// ============ Review Handlers ============

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, tomb, err := s.svc.Review(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch {
	case rec != nil:
		s.writeJSON(w, map[string]interface{}{"review": rec})
	case tomb != nil:
		s.writeJSON(w, map[string]interface{}{"resolved": tomb})
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrReviewNotFound.Error()})
	}
}

// ============ Helper Functions ============

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return 0, false
	}
	return chatID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Warn("Request failed", zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
