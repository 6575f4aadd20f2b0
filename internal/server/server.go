// internal/server/server.go
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/voxstay/browsergate/api/schemas"
	"github.com/voxstay/browsergate/internal/broker"
	"github.com/voxstay/browsergate/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebSocket timeouts and limits, based on the Gorilla WebSocket examples.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CORS middleware already allows any origin; the upgrader must
	// match or the cross-origin handshake fails before CORS applies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the outbound message shape pushed to browser-view clients.
type wsFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Server is the observer-facing HTTP and WebSocket surface over the broker.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	broker     *broker.Broker
	httpServer *http.Server
}

// New builds the server around an injected broker.
func New(cfg *config.Config, b *broker.Broker, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("server"),
		broker: b,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route table. Exposed separately so tests can drive
// the handlers through httptest without opening a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	r.Use(corsMiddleware)

	r.Post("/api/execute", s.handleExecute)
	r.Get("/api/health", s.handleHealth)
	r.Get("/screenshot", s.handleScreenshot)
	r.Get("/ws/browser", s.handleBrowserWS)
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully: HTTP first so no handler touches the broker mid-teardown,
// then the broker itself.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, s.cfg.Server.MaxConnections)

	// Pre-warm so the first search does not pay browser startup latency.
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.StartTimeout)
		defer cancel()
		if err := s.broker.EnsureStarted(warmCtx); err != nil {
			s.logger.Warn("Session pre-warm failed, will retry lazily", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", zap.String("addr", s.cfg.Server.ListenAddr))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown did not finish cleanly", zap.Error(err))
		}
		s.broker.Shutdown()
		return nil
	case err := <-errCh:
		s.broker.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req schemas.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest,
			schemas.ExecuteResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.RequestID == "" {
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			req.RequestID = rid
		} else {
			req.RequestID = uuid.NewString()
		}
	}

	resp := s.broker.Execute(r.Context(), req)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"session_alive": s.broker.SessionAlive(),
	})
}

// handleScreenshot serves the latest page still. 204 means no capture has
// happened yet, which the polling client treats as "try again shortly".
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.broker.LatestSnapshot(r.Context())
	if !ok || len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Content-Type", sniffImageType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleBrowserWS upgrades the connection and runs the frame/input pumps.
// Frames flow out as base64 text messages; input events flow in as JSON.
func (s *Server) handleBrowserWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan wsFrame, sendBufferSize),
	}

	subID := s.broker.Subscribe(c.enqueueFrame)
	defer s.broker.Unsubscribe(subID)

	go c.writePump()
	c.readPump()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Response write failed", zap.Error(err))
	}
}

// sniffImageType distinguishes the two formats the session produces: PNG
// stills from the capture path, JPEG frames from the screencast.
func sniffImageType(data []byte) string {
	if bytes.HasPrefix(data, []byte("\x89PNG")) {
		return "image/png"
	}
	return "image/jpeg"
}

// corsMiddleware allows the thin observer client to call from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wsClient is one active browser-view connection.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan wsFrame
}

// enqueueFrame queues one encoded frame for delivery. A slow client drops
// frames rather than backing up the producer.
func (c *wsClient) enqueueFrame(frame []byte) {
	msg := wsFrame{
		Type: "frame",
		Data: base64.StdEncoding.EncodeToString(frame),
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump consumes inbound input events until the peer goes away. Runs on
// the handler goroutine; its return tears the connection down.
func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var ev schemas.InputEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.server.logger.Debug("Dropping malformed input event", zap.Error(err))
			continue
		}
		c.server.broker.SendInput(ev)
	}
}

// writePump pushes queued frames and keepalive pings to the peer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
