package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ninebox/ninebox-backend/internal/usecase"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type Server struct {
	logger   *slog.Logger
	manager  *usecase.MatchManager
	hub      *Hub
	handlers map[string]func(ctx context.Context, subscriber *client, message *Message) error
}

func New(logger *slog.Logger, manager *usecase.MatchManager, hub *Hub) *Server {
	server := &Server{
		logger:   logger,
		manager:  manager,
		hub:      hub,
		handlers: make(map[string]func(context.Context, *client, *Message) error),
	}

	server.handlers["join"] = server.handleJoin
	server.handlers["move"] = server.handleMove
	server.handlers["resign"] = server.handleResign
	server.handlers["add_time"] = server.handleAddTime

	return server
}

// Start - starts the WebSocket server.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.serveConnection(ctx, w, r)
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// serveConnection upgrades the request and runs the read/write pumps. The
// player identity comes from the session cookie set by the REST layer; a
// connection without one gets a fresh anonymous player.
func (that *Server) serveConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "serveConnection")

	playerID, err := that.resolvePlayer(ctx, w, r)
	if err != nil {
		log.Error("failed to resolve player", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	subscriber := &client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		playerID: playerID,
	}

	log.Info("connection established", "playerID", playerID)

	go that.writePump(subscriber)
	that.readPump(ctx, subscriber)
}

func (that *Server) resolvePlayer(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, error) {
	cookie, err := r.Cookie("player_id")
	if err == nil {
		if playerID, parseErr := strconv.ParseInt(cookie.Value, 10, 64); parseErr == nil {
			if _, getErr := that.manager.GetPlayer(ctx, playerID); getErr == nil {
				return playerID, nil
			}
		}
	}

	player, err := that.manager.CreateAnonymousPlayer(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to create player: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:    "player_id",
		Value:   strconv.FormatInt(player.ID, 10),
		Path:    "/",
		Expires: time.Now().Add(365 * 24 * time.Hour),
	})

	return player.ID, nil
}

func (that *Server) readPump(ctx context.Context, subscriber *client) {
	log := that.logger.With("method", "readPump", "playerID", subscriber.playerID)

	defer func() {
		that.hub.leaveAll(subscriber)
		close(subscriber.send)
		_ = subscriber.conn.Close()
	}()

	subscriber.conn.SetReadLimit(maxMessageSize)
	_ = subscriber.conn.SetReadDeadline(time.Now().Add(pongWait))
	subscriber.conn.SetPongHandler(func(string) error {
		return subscriber.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := subscriber.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("connection error", "error", err)
			}
			return
		}

		var message Message
		if err = json.Unmarshal(raw, &message); err != nil {
			log.Error("failed to unmarshal message", "error", err)
			continue
		}

		handler, ok := that.handlers[message.Action]
		if !ok {
			that.sendError(subscriber, message.Action, "unknown action")
			continue
		}

		if err = handler(ctx, subscriber, &message); err != nil {
			log.Error("action rejected", "action", message.Action, "error", err)
			that.sendError(subscriber, message.Action, err.Error())
		}
	}
}

func (that *Server) writePump(subscriber *client) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = subscriber.conn.Close()
	}()

	for {
		select {
		case message, ok := <-subscriber.send:
			_ = subscriber.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = subscriber.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := subscriber.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = subscriber.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := subscriber.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (that *Server) sendError(subscriber *client, action, message string) {
	payload, err := json.Marshal(errorPayload{Action: action, Message: message})
	if err != nil {
		return
	}

	raw, err := json.Marshal(Message{Action: "error", Payload: payload})
	if err != nil {
		return
	}

	select {
	case subscriber.send <- raw:
	default:
	}
}
