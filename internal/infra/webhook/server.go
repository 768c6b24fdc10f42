package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"xiaoi/config"
	"xiaoi/internal/application"
	"xiaoi/internal/domain"
)

const maxBodyBytes = 64 * 1024

// Speaker is the part of the core the webhook drives.
type Speaker interface {
	TTS(ctx context.Context, text, did string) error
	PlayAudio(ctx context.Context, url, did string) (any, error)
	SetVolume(ctx context.Context, volume int, did string) (any, error)
	DoAction(ctx context.Context, siid, aiid int, params any, did string) (any, error)
	Status() application.Status
}

type Options struct {
	Addr               string
	Token              string
	UserID             string
	RateLimitPerMinute int
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// IsAuthError reports speaker failures caused by a rejected or missing
	// vendor login; they are answered with 401.
	IsAuthError func(error) bool
}

type Server struct {
	addr     string
	speaker  Speaker
	logger   *slog.Logger
	mux      *http.ServeMux
	limiter  *RateLimiter
	started  time.Time
	server   *http.Server
	listener net.Listener

	mu      sync.RWMutex
	running bool
	ready   bool
	lastErr string
	token   string
	userID  string

	isAuthError func(error) bool
}

func NewServer(speaker Speaker, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		addr:    opts.Addr,
		speaker: speaker,
		logger:  logger,
		mux:     http.NewServeMux(),
		limiter: NewRateLimiter(opts.RateLimitPerMinute),
		started: time.Now(),
		token:   opts.Token,
		userID:  opts.UserID,

		isAuthError: opts.IsAuthError,
	}

	s.mux.HandleFunc("GET /{$}", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	s.mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.mux.HandleFunc("POST /webhook/tts", s.guard(s.handleTTS))
	s.mux.HandleFunc("POST /webhook/audio", s.guard(s.handleAudio))
	s.mux.HandleFunc("POST /webhook/volume", s.guard(s.handleVolume))
	s.mux.HandleFunc("POST /webhook/command", s.guard(s.handleCommand))
	return s
}

// Start binds the listener synchronously and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("webhook server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}

	s.running = false
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Handler() http.Handler {
	return s.cors(s.mux)
}

// SetToken replaces the auth token; an empty token disables auth.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Server) SetUserID(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// SetEngineState records the outcome of the latest speaker initialization.
func (s *Server) SetEngineState(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = err == nil
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
}

type response struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ttsRequest struct {
	Text string `json:"text"`
	DID  string `json:"did"`
}

type audioRequest struct {
	URL string `json:"url"`
	DID string `json:"did"`
}

type volumeRequest struct {
	Volume *int   `json:"volume"`
	DID    string `json:"did"`
}

type commandRequest struct {
	SIID   *int   `json:"siid"`
	AIID   *int   `json:"aiid"`
	Params any    `json:"params"`
	DID    string `json:"did"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.speaker.TTS(r.Context(), req.Text, req.DID)
	s.reply(w, r, "tts", nil, err)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.speaker.PlayAudio(r.Context(), req.URL, req.DID)
	s.reply(w, r, "audio", res, err)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Volume == nil {
		s.reply(w, r, "volume", nil, domain.ErrInvalidVolume)
		return
	}
	res, err := s.speaker.SetVolume(r.Context(), *req.Volume, req.DID)
	s.reply(w, r, "volume", res, err)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SIID == nil || req.AIID == nil {
		s.reply(w, r, "command", nil, &domain.CommandFormatError{Value: "missing siid or aiid"})
		return
	}
	res, err := s.speaker.DoAction(r.Context(), *req.SIID, *req.AIID, req.Params, req.DID)
	s.reply(w, r, "command", res, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	lastErr := s.lastErr
	s.mu.RUnlock()

	status := "ok"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"engine_ready": ready,
		"last_error":   lastErr,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	lastErr := s.lastErr
	token := s.token
	userID := s.userID
	s.mu.RUnlock()

	st := s.speaker.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":      true,
		"engine_ready": ready,
		"last_error":   lastErr,
		"started":      humanize.Time(s.started),
		"user_id":      config.Mask(userID),
		"did":          st.BoundDID,
		"model":        st.Model,
		"state":        st.StateName,
		"auth":         token != "",
		"token_hint":   config.Mask(token),
		"endpoints": []string{
			"POST /webhook/tts",
			"POST /webhook/audio",
			"POST /webhook/volume",
			"POST /webhook/command",
			"GET /health",
		},
	})
}

// guard applies, in order: request id, rate limiting, auth, engine
// readiness and the body size limit.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	limited := s.limiter.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r)
		if !s.authorized(r) {
			s.logger.Warn("unauthorized webhook request", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "request_id", id)
			writeJSON(w, http.StatusUnauthorized, response{Error: "unauthorized", RequestID: id})
			return
		}

		s.mu.RLock()
		ready := s.ready
		lastErr := s.lastErr
		s.mu.RUnlock()
		if !ready {
			msg := "speaker is not ready"
			if lastErr != "" {
				msg += ": " + lastErr
			}
			writeJSON(w, http.StatusServiceUnavailable, response{Error: msg, RequestID: id})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(w, r)
	})
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		limited(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	}
}

func (s *Server) authorized(r *http.Request) bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return true
	}

	got := r.Header.Get("X-Xiaoi-Token")
	if auth := r.Header.Get("Authorization"); got == "" && auth != "" {
		if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
			got = strings.TrimSpace(bearer)
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Xiaoi-Token")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		code := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, code, response{Error: fmt.Sprintf("invalid JSON body: %v", err), RequestID: requestID(r)})
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, op string, result any, err error) {
	id := requestID(r)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case domain.IsInputError(err):
			code = http.StatusBadRequest
		case s.isAuthError != nil && s.isAuthError(err):
			code = http.StatusUnauthorized
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		}
		s.logger.Warn("webhook operation failed", "op", op, "request_id", id, "error", err)
		writeJSON(w, code, response{Error: err.Error(), RequestID: id})
		return
	}
	s.logger.Info("webhook operation done", "op", op, "request_id", id)
	writeJSON(w, http.StatusOK, response{Success: true, Result: result, RequestID: id})
}

type requestIDKey struct{}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
