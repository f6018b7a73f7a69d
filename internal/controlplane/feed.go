package controlplane

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/rwclient/internal/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// Only allow browser connections from localhost. Non-browser clients send no
// Origin header.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Feed streams bus events to websocket clients as JSON messages.
type Feed struct {
	bus    *events.Bus
	logger logrus.FieldLogger

	mu      sync.Mutex
	closing chan struct{}
	closed  bool
	clients sync.WaitGroup
}

// NewFeed creates a feed over bus.
func NewFeed(bus *events.Bus, logger logrus.FieldLogger) *Feed {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Feed{
		bus:     bus,
		logger:  logger.WithField("component", "feed"),
		closing: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional kind query parameter filters events by kind prefix,
// e.g. ?kind=session or ?kind=op.failure.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	f.clients.Add(1)
	f.mu.Unlock()
	defer f.clients.Done()

	prefix := r.URL.Query().Get("kind")

	// Subscribe first so nothing published after the handshake is missed.
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := f.logger.WithField("remote", r.RemoteAddr)
	log.Debug("feed client connected")
	defer log.Debug("feed client disconnected")

	gone := make(chan struct{})
	go f.readPump(conn, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if prefix != "" && !strings.HasPrefix(string(msg.Kind), prefix) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("feed write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-f.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump discards client messages and closes gone when the connection ends.
func (f *Feed) readPump(conn *websocket.Conn, gone chan struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every client and waits for their handlers to return.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.closing)
	f.mu.Unlock()
	f.clients.Wait()
}
