package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errSubscriberDropped = errors.New("gateway: subscriber dropped")

// Server upgrades HTTP requests to websocket connections and runs one
// read/write loop pair per player. All outbound traffic, broadcasts and
// command responses alike, flows through the connection's hub queue so the
// socket has a single writer.
type Server struct {
	hub          *Hub
	handler      *Handler
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewServer creates a websocket server.
//
// Precondition: hub and handler must be non-nil.
func NewServer(hub *Hub, handler *Handler, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		hub:          hub,
		handler:      handler,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ServeHTTP accepts a websocket connection for the player identified by the
// player_id query parameter and serves it until the connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "missing player_id", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = playerID
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("player connected", zap.String("player_id", playerID))

	sub := s.hub.subscribe()
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.writeLoop(ctx, conn, sub) })
	g.Go(func() error { return s.readLoop(ctx, conn, sub, playerID, name) })

	err = g.Wait()
	s.hub.unsubscribe(sub)
	s.handler.Disconnect(context.WithoutCancel(r.Context()), playerID)
	conn.Close(websocket.StatusNormalClosure, "")

	s.logger.Info("player disconnected",
		zap.String("player_id", playerID),
		zap.Error(err),
	)
}

// writeLoop drains the subscriber queue onto the socket. It is the
// connection's only writer.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-sub.send:
			if !ok {
				return errSubscriberDropped
			}
			if err := s.write(ctx, conn, data); err != nil {
				return err
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop decodes commands off the socket, dispatches them, and queues the
// responses behind any pending broadcasts.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber, playerID, name string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug("discarding malformed command",
				zap.String("player_id", playerID),
				zap.Error(err),
			)
			if !s.respond(sub, Response{Type: "error", Error: "malformed command"}) {
				return errSubscriberDropped
			}
			continue
		}

		resp := s.handler.Dispatch(ctx, playerID, name, cmd)
		if !s.respond(sub, resp) {
			return errSubscriberDropped
		}
	}
}

func (s *Server) respond(sub *subscriber, resp Response) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
		return true
	}
	return s.hub.deliver(sub, data)
}
