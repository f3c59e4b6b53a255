package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/journal"
	"github.com/termdeck/termdeck/internal/model"
)

// Server exposes the manager over HTTP: JSON endpoints for one-shot
// queries and a WebSocket stream for live pane output and commands.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	manager *Manager
	store   *journal.Store

	httpSrv  *http.Server
	listener net.Listener

	mu      sync.Mutex
	clients map[*Client]struct{}

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, logger *slog.Logger, manager *Manager, store *journal.Store) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		store:   store,
		clients: map[*Client]struct{}{},
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/sessions", s.sessionsHandler)
	mux.HandleFunc("/v1/events", s.eventsHandler)
	mux.HandleFunc("/v1/stream", s.streamHandler)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s.shutdownErr = s.httpSrv.Shutdown(shutdownCtx)

		s.mu.Lock()
		clients := make([]*Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			c.close()
		}
		s.manager.CloseAll()
	})
	return s.shutdownErr
}

// Addr returns the bound listen address, once Start has run.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrBadRequest, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"tmux":     s.manager.Health(),
		"attached": s.manager.Attached(),
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, model.ErrBadRequest, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrBadRequest, "method not allowed")
		return
	}
	sessions, err := s.manager.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, model.ErrTmuxUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessionInfoJSON(sessions)})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, model.ErrBadRequest, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrBadRequest, "method not allowed")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, model.ErrBadRequest, "journal disabled")
		return
	}
	q := journal.Query{
		Session: r.URL.Query().Get("session"),
		Kind:    r.URL.Query().Get("kind"),
		PaneID:  r.URL.Query().Get("pane"),
		Limit:   100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}
	events, err := s.store.ListEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, model.ErrBadRequest, "unauthorized")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	client := newWSClient(conn, s)
	s.addClient(client)
	defer s.removeClient(client)
	client.run()
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.cleanup()
}

type sessionJSON struct {
	Name     string `json:"name"`
	Windows  int    `json:"windows"`
	Attached bool   `json:"attached"`
	Created  string `json:"created,omitempty"`
}

func sessionInfoJSON(sessions []model.SessionInfo) []sessionJSON {
	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		row := sessionJSON{Name: s.Name, Windows: s.Windows, Attached: s.Attached}
		if !s.Created.IsZero() {
			row.Created = s.Created.UTC().Format(time.RFC3339)
		}
		out = append(out, row)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
