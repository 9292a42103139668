// Package server exposes query and ask over a WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/engine"
)

// Message types.
const (
	TypeQuery    = "query"
	TypeAsk      = "ask"
	TypeResults  = "results"
	TypeResponse = "response"
	TypeError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, any origin
	},
}

// Message is both the request and the reply envelope. Requests set Type,
// Content and optionally K and ID. Replies echo the request ID or assign one.
type Message struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Content string      `json:"content,omitempty"`
	K       int         `json:"k,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Querier answers queries. *engine.QueryEngine implements it.
type Querier interface {
	Query(ctx context.Context, text string, k int) ([]models.MetadataEntry, error)
	Ask(ctx context.Context, text string, k int) (engine.Answer, error)
}

type Config struct {
	Addr           string
	RequestTimeout time.Duration
}

type WSServer struct {
	config Config
	engine Querier
	logger *slog.Logger
}

func NewWSServer(config Config, querier Querier, logger *slog.Logger) (*WSServer, error) {
	if querier == nil {
		return nil, errors.New("server needs a query engine")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSServer{config: config, engine: querier, logger: logger}, nil
}

// Handler routes /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", slog.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &conn{ws: ws}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.reply(c, Message{Type: TypeError, ID: uuid.NewString(), Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.reply(c, s.handleMessage(ctx, msg))
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, msg Message) Message {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if strings.TrimSpace(msg.Content) == "" {
		return Message{Type: TypeError, ID: msg.ID, Content: "content is required"}
	}

	switch msg.Type {
	case TypeQuery:
		entries, err := s.engine.Query(ctx, msg.Content, msg.K)
		if err != nil {
			return s.failure(msg, err)
		}
		return Message{Type: TypeResults, ID: msg.ID, Data: entries}
	case TypeAsk:
		answer, err := s.engine.Ask(ctx, msg.Content, msg.K)
		if err != nil {
			return s.failure(msg, err)
		}
		return Message{Type: TypeResponse, ID: msg.ID, Content: answer.Text, Data: answer.Sources}
	default:
		return Message{Type: TypeError, ID: msg.ID, Content: fmt.Sprintf("unknown message type: %q", msg.Type)}
	}
}

func (s *WSServer) failure(msg Message, err error) Message {
	s.logger.Warn("request failed",
		slog.String("id", msg.ID),
		slog.String("type", msg.Type),
		slog.String("error", err.Error()))
	return Message{Type: TypeError, ID: msg.ID, Content: err.Error()}
}

func (s *WSServer) reply(c *conn, msg Message) {
	if err := c.send(msg); err != nil {
		s.logger.Debug("error sending message", slog.String("id", msg.ID), slog.String("error", err.Error()))
	}
}
