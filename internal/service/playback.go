package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/session"
	"github.com/sirupsen/logrus"
)

// Player plays the audio stream of a session.
type Player interface {
	Start(ctx context.Context, url string) error
	Stop()
	IsPlaying() bool
	IsMuted() bool
}

// Location reports position fixes. Start delivers fixes to onUpdate until Stop.
type Location interface {
	Start(minTime time.Duration, minDistance float64, onUpdate func(models.Location))
	Stop()
	Last() (models.Location, bool)
}

// LogPlayer is a Player without audio output. It logs what it would play.
type LogPlayer struct {
	logger logrus.FieldLogger

	mu      sync.RWMutex
	url     string
	playing bool
	muted   bool
}

// NewLogPlayer returns a stopped LogPlayer.
func NewLogPlayer(logger logrus.FieldLogger) *LogPlayer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogPlayer{logger: logger.WithField("component", "player")}
}

func (p *LogPlayer) Start(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if url == "" {
		return errors.New("empty stream url")
	}
	p.mu.Lock()
	p.url = url
	p.playing = true
	p.mu.Unlock()
	p.logger.WithField("url", url).Info("playing stream")
	return nil
}

func (p *LogPlayer) Stop() {
	p.mu.Lock()
	was := p.playing
	p.playing = false
	p.url = ""
	p.mu.Unlock()
	if was {
		p.logger.Info("stream stopped")
	}
}

func (p *LogPlayer) IsPlaying() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing
}

func (p *LogPlayer) IsMuted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.muted
}

// SetMuted mutes or unmutes the player.
func (p *LogPlayer) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// URL returns the stream being played.
func (p *LogPlayer) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// StaticLocation is a Location holding a fixed position set with Fix.
type StaticLocation struct {
	mu       sync.Mutex
	fix      *models.Location
	onUpdate func(models.Location)
}

// NewStaticLocation returns a provider without a fix.
func NewStaticLocation() *StaticLocation {
	return &StaticLocation{}
}

// Start reports the current fix, if any, and every later one.
func (l *StaticLocation) Start(minTime time.Duration, minDistance float64, onUpdate func(models.Location)) {
	l.mu.Lock()
	l.onUpdate = onUpdate
	fix := l.fix
	l.mu.Unlock()

	if fix != nil && onUpdate != nil {
		onUpdate(*fix)
	}
}

func (l *StaticLocation) Stop() {
	l.mu.Lock()
	l.onUpdate = nil
	l.mu.Unlock()
}

func (l *StaticLocation) Last() (models.Location, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fix == nil {
		return models.Location{}, false
	}
	return *l.fix, true
}

// Fix sets the position and reports it to a started listener.
func (l *StaticLocation) Fix(lat, lon, accuracy float64) {
	loc := models.Location{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
		Provider:  "mock",
		Time:      time.Now(),
	}
	l.mu.Lock()
	l.fix = &loc
	onUpdate := l.onUpdate
	l.mu.Unlock()

	if onUpdate != nil {
		onUpdate(loc)
	}
}

// Release clears the position.
func (l *StaticLocation) Release() {
	l.mu.Lock()
	l.fix = nil
	l.mu.Unlock()
}

// IsFixed reports whether a position is set.
func (l *StaticLocation) IsFixed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fix != nil
}

// --- Location ---

func (s *Service) startLocation(cfg *session.Configuration) {
	if !cfg.IsUsingLocation() {
		return
	}
	s.location.Stop()
	minTime := time.Duration(cfg.MinLocationUpdateTimeMSec) * time.Millisecond
	s.location.Start(minTime, cfg.MinLocationUpdateDistanceMeter, s.onLocation)
}

// onLocation may run on any goroutine, the main loop included.
func (s *Service) onLocation(loc models.Location) {
	s.bus.Publish(events.LocationUpdated{Location: loc})
	if err := s.SendMoveListener(context.Background(), true); err != nil && !errors.Is(err, ErrNoSession) {
		s.logger.WithError(err).Debug("could not report location")
	}
}

// LastLocation returns the last known position.
func (s *Service) LastLocation() (models.Location, bool) {
	return s.location.Last()
}

// SetMockLocation fixes the position reported to the server. An empty value or
// "N/A" for either coordinate releases the mock location.
func (s *Service) SetMockLocation(lat, lon string) error {
	mock, ok := s.location.(*StaticLocation)
	if !ok {
		return errors.New("location provider does not support mock positions")
	}
	if isUnset(lat) || isUnset(lon) {
		mock.Release()
		return nil
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return fmt.Errorf("parse latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return fmt.Errorf("parse longitude: %w", err)
	}
	mock.Fix(la, lo, 1.0)
	return nil
}

// ReleaseMockLocation clears a position set with SetMockLocation.
func (s *Service) ReleaseMockLocation() error {
	return s.SetMockLocation("", "")
}

func isUnset(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "N/A")
}

// --- Playback ---

// PlaybackStart requests a stream for the listen selection and starts the
// player on it. It must not be called on the main loop.
func (s *Service) PlaybackStart(ctx context.Context) error {
	if s.loop.InLoop() {
		return ErrOnMainLoop
	}

	body, err := s.RequestStream(ctx, true)
	if err != nil {
		return s.unableToPlay(err.Error())
	}
	url := streamURL(body)
	if url == "" {
		return s.unableToPlay("no stream url in response")
	}
	if err := s.player.Start(ctx, url); err != nil {
		return s.unableToPlay(err.Error())
	}

	s.mu.Lock()
	s.streamURL = url
	s.mu.Unlock()
	s.logger.WithField("url", url).Info("playback started")

	s.tracker.Start()
	return nil
}

func (s *Service) unableToPlay(reason string) error {
	s.logger.WithField("reason", reason).Warn("unable to play")
	s.bus.Publish(events.UnableToPlay{Reason: reason})
	return fmt.Errorf("%w: %s", ErrUnableToPlay, reason)
}

// PlaybackStop stops the player and the asset tracker.
func (s *Service) PlaybackStop() {
	s.tracker.Stop()
	s.player.Stop()
	s.mu.Lock()
	s.streamURL = ""
	s.mu.Unlock()
}

// IsPlaying reports whether the stream is audible.
func (s *Service) IsPlaying() bool {
	return s.player.IsPlaying() && !s.player.IsMuted()
}

// IsPlayingMuted reports whether the stream plays with the volume off.
func (s *Service) IsPlayingMuted() bool {
	return s.player.IsPlaying() && s.player.IsMuted()
}

// IsPlayingStaticSoundtrack reports whether the server streams the fallback
// soundtrack instead of a project stream.
func (s *Service) IsPlayingStaticSoundtrack() bool {
	if s.opts.StaticSoundtrackSessionID == "" {
		return false
	}
	return s.Configuration().SessionID == s.opts.StaticSoundtrackSessionID
}

func streamURL(body string) string {
	if !looksLikeJSON(body) {
		return ""
	}
	url, _ := serverMessage(body, keyStreamURL)
	return url
}

// --- Stream metadata ---

func (s *Service) StreamMetadataEnabled() bool {
	return s.Configuration().StreamMetadataEnabled
}

func (s *Service) StreamMetadataInterval() time.Duration {
	return time.Duration(s.Configuration().StreamMetadataTimerIntervalMSec) * time.Millisecond
}

// GetCurrentStreamingAsset asks the server which asset it streams right now.
func (s *Service) GetCurrentStreamingAsset(ctx context.Context) ([]byte, error) {
	return s.query(ctx, s.factory.CurrentStreamingAsset())
}

// GetAssetInfo asks the server for the details of an asset.
func (s *Service) GetAssetInfo(ctx context.Context, assetID int) ([]byte, error) {
	return s.query(ctx, s.factory.AssetInfo(assetID))
}

func (s *Service) query(ctx context.Context, a *models.Action) ([]byte, error) {
	body, ok := s.performNow(ctx, a)
	if !ok {
		return nil, fmt.Errorf("%s failed", a.Operation())
	}
	if body == "" {
		return nil, nil
	}
	if !json.Valid([]byte(body)) {
		return nil, fmt.Errorf("%s: malformed response", a.Operation())
	}
	return []byte(body), nil
}
