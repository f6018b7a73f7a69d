package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/sirupsen/logrus"
)

// Server provides the HTTP API of the daemon.
type Server struct {
	service *Service
	feed    *Feed
	addr    string
	logger  logrus.FieldLogger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a new HTTP server. Events published on bus are streamed
// to websocket clients of /events.
func NewServer(service *Service, bus *events.Bus, addr string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "api")
	return &Server{
		service: service,
		feed:    NewFeed(bus, logger),
		addr:    addr,
		logger:  logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/log", s.handleLog)

	// Tag selection endpoints
	mux.HandleFunc("/tags/", s.handleTags)

	// Server actions
	mux.HandleFunc("/actions/", s.handleAction)
	mux.HandleFunc("/playback/", s.handlePlayback)
	mux.HandleFunc("/settings/", s.handleSettings)

	mux.Handle("/events", s.feed)
	return mux
}

// Start serves the API until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves the API on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.WithField("addr", ln.Addr().String()).Info("local API listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes event feeds and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.Close()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrBadRequest
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// --- Status Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	h := s.service.Health(r.Context())
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

// handleQueue handles GET /queue and DELETE /queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.service.Queue()
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []models.QueueEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodDelete:
		if err := s.service.PurgeQueue(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.RequestLog(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.RequestLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Tag Handlers ---

type selectionRequest struct {
	Query string `json:"query"`
}

type changeResponse struct {
	Changed bool `json:"changed"`
}

// handleTags handles
//
//	GET  /tags/{mode}
//	POST /tags/{mode}                 {"query": "code=1,2"}
//	GET  /tags/{mode}/valid
//	POST /tags/{mode}/{id}/{select|deselect|toggle}
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/tags/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "tag mode required", http.StatusBadRequest)
		return
	}
	mode := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		data, err := s.service.Selection(mode)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, data)
	case len(parts) == 1 && r.Method == http.MethodPost:
		var req selectionRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.service.SetSelection(mode, req.Query); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case len(parts) == 2 && parts[1] == "valid" && r.Method == http.MethodGet:
		valid, err := s.service.ValidSelection(mode)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
	case len(parts) == 3 && r.Method == http.MethodPost:
		tagID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.Error(w, "invalid tag id", http.StatusBadRequest)
			return
		}
		changed, err := s.service.ChangeTag(mode, tagID, parts[2])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changeResponse{Changed: changed})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Action Handlers ---

type eventRequest struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Now  bool   `json:"now"`
}

type voteRequest struct {
	AssetID int    `json:"asset_id"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Now     bool   `json:"now"`
}

type assetRequest struct {
	AssetID int `json:"asset_id"`
}

type submitRequest struct {
	File      string `json:"file"`
	Submitted string `json:"submitted"`
	Now       bool   `json:"now"`
	Share     bool   `json:"share"`
}

type submitResponse struct {
	Response string `json:"response,omitempty"`
}

// handleAction handles POST /actions/{name}
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/actions/"), "/")
	ctx := r.Context()

	var err error
	switch name {
	case "heartbeat":
		err = s.service.Heartbeat(ctx)
	case "event":
		var req eventRequest
		if err = decode(r, &req); err == nil {
			err = s.service.LogEvent(ctx, req.Type, req.Data, req.Now)
		}
	case "vote":
		var req voteRequest
		if err = decode(r, &req); err == nil {
			err = s.service.Vote(ctx, req.AssetID, req.Type, req.Value, req.Now)
		}
	case "skip":
		err = s.service.Skip(ctx)
	case "play-asset":
		var req assetRequest
		if err = decode(r, &req); err == nil {
			err = s.service.PlayAsset(ctx, req.AssetID)
		}
	case "modify-stream":
		err = s.service.ModifyStream(ctx)
	case "submit":
		var req submitRequest
		if err = decode(r, &req); err != nil {
			break
		}
		body, serr := s.service.Submit(ctx, req.File, req.Submitted, req.Now, req.Share)
		if serr != nil {
			err = serr
			break
		}
		writeJSON(w, http.StatusAccepted, submitResponse{Response: body})
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePlayback handles POST /playback/{start|stop}
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	switch strings.Trim(strings.TrimPrefix(r.URL.Path, "/playback/"), "/") {
	case "start":
		if err := s.service.PlaybackStart(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	case "stop":
		s.service.PlaybackStop()
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

// --- Settings Handlers ---

type wifiRequest struct {
	Only bool `json:"only"`
}

type locationRequest struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// handleSettings handles
//
//	POST   /settings/wifi-only       {"only": true}
//	POST   /settings/mock-location   {"latitude": "52.1", "longitude": "4.3"}
//	DELETE /settings/mock-location
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/settings/"), "/"); {
	case name == "wifi-only" && r.Method == http.MethodPost:
		var req wifiRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.service.SetWifiOnly(req.Only)
	case name == "mock-location" && r.Method == http.MethodPost:
		var req locationRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.service.SetMockLocation(req.Latitude, req.Longitude); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	case name == "mock-location" && r.Method == http.MethodDelete:
		if err := s.service.SetMockLocation("", ""); err != nil {
			writeError(w, err)
			return
		}
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}
