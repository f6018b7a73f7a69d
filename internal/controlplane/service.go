// Package controlplane provides the local HTTP API of the rwclient daemon.
package controlplane

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/tags"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Coordinator is the session the API drives. *service.Service implements it.
type Coordinator interface {
	Status() models.Status
	SelectionJSON(mode tags.Mode) ([]byte, error)
	SelectTag(mode tags.Mode, tagID int) (bool, error)
	DeselectTag(mode tags.Mode, tagID int) (bool, error)
	ToggleTag(mode tags.Mode, tagID int) (bool, error)
	SetSelection(mode tags.Mode, query string) error
	ValidSelection(mode tags.Mode) bool

	SendHeartbeat(ctx context.Context) error
	SendLogEvent(ctx context.Context, eventType, data string, now bool) error
	VoteAsset(ctx context.Context, assetID int, voteType, voteValue string, now bool) error
	SkipAhead(ctx context.Context, now bool) error
	PlayAssetInStream(ctx context.Context, assetID int, now bool) error
	ModifyStream(ctx context.Context, now bool) error
	Submit(ctx context.Context, file, submitted string, now, share bool) (string, error)

	PlaybackStart(ctx context.Context) error
	PlaybackStop()

	PurgeQueue() error
	SetOnlyConnectOverWifi(only bool)
	SetMockLocation(lat, lon string) error
}

// QueueLister lists pending actions. *queue.Queue implements it.
type QueueLister interface {
	List() ([]models.QueueEntry, error)
}

// RequestLog reads the request log. *store.Store implements it.
type RequestLog interface {
	Ping(ctx context.Context) error
	ListRequestLog(limit int) ([]models.RequestLogEntry, error)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool                `json:"ok"`
	DB      string              `json:"db"`
	State   models.SessionState `json:"state"`
	Version string              `json:"version"`
	Time    string              `json:"time"`
}

// Service provides the control plane business logic.
type Service struct {
	coord Coordinator
	queue QueueLister
	log   RequestLog
}

// NewService creates a new control plane service.
func NewService(coord Coordinator, queue QueueLister, log RequestLog) *Service {
	return &Service{coord: coord, queue: queue, log: log}
}

// Health reports whether the preferences db answers.
func (s *Service) Health(ctx context.Context) HealthResponse {
	h := HealthResponse{
		OK:      true,
		DB:      "ok",
		State:   s.coord.Status().State,
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.log.Ping(ctx); err != nil {
		h.OK = false
		h.DB = err.Error()
	}
	return h
}

// Status returns the session snapshot.
func (s *Service) Status() models.Status {
	return s.coord.Status()
}

// --- Queue ---

// Queue lists pending actions, oldest first.
func (s *Service) Queue() ([]models.QueueEntry, error) {
	return s.queue.List()
}

// PurgeQueue drops every pending action.
func (s *Service) PurgeQueue() error {
	return s.coord.PurgeQueue()
}

// RequestLog returns the most recent requests, newest first.
func (s *Service) RequestLog(limit int) ([]models.RequestLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	return s.log.ListRequestLog(limit)
}

// --- Tags ---

func parseMode(mode string) (tags.Mode, error) {
	m := tags.Mode(strings.ToLower(mode))
	for _, known := range tags.Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: tag mode %q", ErrNotFound, mode)
}

// Selection renders the selection of mode.
func (s *Service) Selection(mode string) ([]byte, error) {
	m, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	return s.coord.SelectionJSON(m)
}

// ValidSelection reports whether the selection of mode is acceptable.
func (s *Service) ValidSelection(mode string) (bool, error) {
	m, err := parseMode(mode)
	if err != nil {
		return false, err
	}
	return s.coord.ValidSelection(m), nil
}

// ChangeTag applies op (select, deselect or toggle) to one option.
func (s *Service) ChangeTag(mode string, tagID int, op string) (bool, error) {
	m, err := parseMode(mode)
	if err != nil {
		return false, err
	}
	switch op {
	case "select":
		return s.coord.SelectTag(m, tagID)
	case "deselect":
		return s.coord.DeselectTag(m, tagID)
	case "toggle":
		return s.coord.ToggleTag(m, tagID)
	}
	return false, fmt.Errorf("%w: tag operation %q", ErrNotFound, op)
}

// SetSelection applies a query such as "exhibit=1,2".
func (s *Service) SetSelection(mode, query string) error {
	m, err := parseMode(mode)
	if err != nil {
		return err
	}
	if query == "" {
		return fmt.Errorf("%w: empty query", ErrBadRequest)
	}
	return s.coord.SetSelection(m, query)
}

// --- Actions ---

// Heartbeat sends a heartbeat now.
func (s *Service) Heartbeat(ctx context.Context) error {
	return s.coord.SendHeartbeat(ctx)
}

// LogEvent sends or queues a client event.
func (s *Service) LogEvent(ctx context.Context, eventType, data string, now bool) error {
	if eventType == "" {
		return fmt.Errorf("%w: event type required", ErrBadRequest)
	}
	return s.coord.SendLogEvent(ctx, eventType, data, now)
}

// Vote sends or queues a vote.
func (s *Service) Vote(ctx context.Context, assetID int, voteType, value string, now bool) error {
	if assetID <= 0 || voteType == "" {
		return fmt.Errorf("%w: asset id and vote type required", ErrBadRequest)
	}
	return s.coord.VoteAsset(ctx, assetID, voteType, value, now)
}

// Skip skips the streamed asset.
func (s *Service) Skip(ctx context.Context) error {
	return s.coord.SkipAhead(ctx, true)
}

// PlayAsset inserts an asset into the stream.
func (s *Service) PlayAsset(ctx context.Context, assetID int) error {
	if assetID <= 0 {
		return fmt.Errorf("%w: asset id required", ErrBadRequest)
	}
	return s.coord.PlayAssetInStream(ctx, assetID, true)
}

// ModifyStream applies the listen selection to the stream.
func (s *Service) ModifyStream(ctx context.Context) error {
	return s.coord.ModifyStream(ctx, true)
}

// Submit uploads a recording. file must be an existing regular file.
func (s *Service) Submit(ctx context.Context, file, submitted string, now, share bool) (string, error) {
	if file == "" || !filepath.IsAbs(file) {
		return "", fmt.Errorf("%w: absolute file path required", ErrBadRequest)
	}
	info, err := os.Stat(file)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrBadRequest, file)
	}
	return s.coord.Submit(ctx, file, submitted, now, share)
}

// --- Playback & settings ---

// PlaybackStart starts the stream.
func (s *Service) PlaybackStart(ctx context.Context) error {
	return s.coord.PlaybackStart(ctx)
}

// PlaybackStop stops the stream.
func (s *Service) PlaybackStop() {
	s.coord.PlaybackStop()
}

// SetWifiOnly restricts server traffic to Wi-Fi.
func (s *Service) SetWifiOnly(only bool) {
	s.coord.SetOnlyConnectOverWifi(only)
}

// SetMockLocation fixes the reported position. Empty values release it.
func (s *Service) SetMockLocation(lat, lon string) error {
	return s.coord.SetMockLocation(lat, lon)
}
