// Package service implements the session coordinator: the state machine that
// retrieves configuration, content and tags, tracks connectivity, performs or
// queues server actions and drains the queue.
//
// State transitions and event reactions run on a single main loop. Server
// calls run on the caller goroutine, or on the worker pool when the caller is
// the main loop. Exactly one server call is in flight at a time.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fentz26/rwclient/internal/actions"
	"github.com/fentz26/rwclient/internal/audit"
	"github.com/fentz26/rwclient/internal/content"
	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/netwatch"
	"github.com/fentz26/rwclient/internal/queue"
	"github.com/fentz26/rwclient/internal/scheduler"
	"github.com/fentz26/rwclient/internal/session"
	"github.com/fentz26/rwclient/internal/tags"
	"github.com/fentz26/rwclient/internal/tracker"
	"github.com/fentz26/rwclient/internal/transport"
	"github.com/fentz26/rwclient/internal/worker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidSelection is returned when the tag selection does not satisfy
	// the limits of every tag.
	ErrInvalidSelection = errors.New("invalid tag selection")
	// ErrOnMainLoop is returned by blocking operations called from the main loop.
	ErrOnMainLoop = errors.New("blocking call on main loop")
	// ErrNoSession is returned when an operation needs a server session.
	ErrNoSession = errors.New("no session")
	// ErrUnableToPlay is returned when no stream could be started.
	ErrUnableToPlay = errors.New("unable to play stream")
)

// Prefs is the persistence the coordinator needs. *store.Store implements it.
type Prefs interface {
	tags.PrefStore
	audit.LogWriter
	CachedConfiguration() ([]byte, error)
	SaveConfiguration(data []byte) error
	CachedTags() ([]byte, error)
	SaveTags(data []byte) error
	ContentFilesInfo() (*models.ContentFilesInfo, error)
	SaveContentFilesInfo(info models.ContentFilesInfo) error
}

// Connectivity reports the current network status.
type Connectivity interface {
	Current() netwatch.Status
}

// Options are the startup parameters of a session.
type Options struct {
	ServerURL                 string
	ProjectID                 string
	DeviceID                  string
	ContentDir                string
	OnlyConnectOverWifi       bool
	AlwaysDownloadContent     bool
	NotificationDefaultText   string
	StaticSoundtrackSessionID string
}

// Deps are the collaborators of a Service.
type Deps struct {
	Prefs        Prefs
	Queue        *queue.Queue
	Transport    transport.Transport
	Bus          *events.Bus
	Pool         *worker.Pool
	Loop         *worker.MainLoop
	Player       Player
	Location     Location
	Connectivity Connectivity
	Downloader   *content.Downloader
	Logger       logrus.FieldLogger
}

// Service is the session coordinator.
type Service struct {
	opts       Options
	prefs      Prefs
	queue      *queue.Queue
	transport  transport.Transport
	bus        *events.Bus
	pool       *worker.Pool
	loop       *worker.MainLoop
	player     Player
	location   Location
	conn       Connectivity
	downloader *content.Downloader
	logger     logrus.FieldLogger

	factory  *actions.Factory
	recorder *audit.Recorder
	tracker  *tracker.Tracker
	drain    *scheduler.Ticker
	now      func() time.Time

	// reqMu serializes server calls.
	reqMu sync.Mutex

	mu               sync.RWMutex
	state            models.SessionState
	lastStateChange  time.Time
	lastRequest      time.Time
	cfg              *session.Configuration
	catalog          *tags.Catalog
	listen           *tags.List
	speak            *tags.List
	streamURL        string
	contentDir       string
	notificationText string
	onlyWifi         bool
	started          bool
	network          *netwatch.Status

	unsubscribe func()
}

// New wires a coordinator. It starts in UNINITIALIZED; call Run and Start.
func New(opts Options, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.NotificationDefaultText == "" {
		opts.NotificationDefaultText = actions.LabelDefault
	}

	cfg := session.New()
	if opts.DeviceID != "" {
		cfg.DeviceID = opts.DeviceID
	}
	cfg.ProjectID = opts.ProjectID

	s := &Service{
		opts:             opts,
		prefs:            deps.Prefs,
		queue:            deps.Queue,
		transport:        deps.Transport,
		bus:              deps.Bus,
		pool:             deps.Pool,
		loop:             deps.Loop,
		player:           deps.Player,
		location:         deps.Location,
		conn:             deps.Connectivity,
		downloader:       deps.Downloader,
		logger:           logger.WithField("component", "service"),
		recorder:         audit.NewRecorder(deps.Prefs),
		now:              time.Now,
		state:            models.StateUninitialized,
		cfg:              cfg,
		catalog:          tags.NewCatalog(),
		listen:           tags.NewList(nil),
		speak:            tags.NewList(nil),
		notificationText: opts.NotificationDefaultText,
		onlyWifi:         opts.OnlyConnectOverWifi,
	}
	if s.player == nil {
		s.player = NewLogPlayer(logger)
	}
	if s.location == nil {
		s.location = NewStaticLocation()
	}
	if s.downloader == nil {
		s.downloader = content.NewDownloader(logger)
	}

	s.factory = actions.NewFactory(opts.ServerURL, opts.ProjectID, opts.NotificationDefaultText, s)
	s.tracker = tracker.New(s, s.bus, logger)
	s.drain = scheduler.New("queue", s.drainQueue, logger)
	s.unsubscribe = s.bus.Handle(s.onEvent,
		events.KindConfigurationLoaded,
		events.KindNoConfiguration,
		events.KindContentLoaded,
		events.KindNoContent,
		events.KindTagsLoaded,
		events.KindNoTags,
		events.KindOperationFailed,
		events.KindOperationSucceeded,
	)
	return s
}

// Run runs the main loop until ctx is done, then shuts the session down.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

// Start begins initializing the session. A session that falls back to
// UNINITIALIZED initializes again when connectivity is reported.
func (s *Service) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.loop.Post(func() { s.transition(models.StateInitializing) })
}

func (s *Service) shutdown() {
	s.unsubscribe()
	s.drain.Stop()
	s.tracker.Stop()
	s.location.Stop()
	s.player.Stop()
	s.drain.Wait()
	s.pool.Close()
	s.logger.Info("session stopped")
}

// --- State Machine ---

// State returns the current session state.
func (s *Service) State() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// transition must run on the main loop.
func (s *Service) transition(to models.SessionState) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	last := s.lastStateChange
	s.mu.Unlock()

	now := s.now()
	s.logger.WithFields(logrus.Fields{"from": from, "state": to}).Info("session state changed")
	s.bus.Publish(events.StateChanged{From: from, To: to})

	switch to {
	case models.StateUninitialized:
		s.drain.Stop()
		s.location.Stop()
		s.PlaybackStop()
	case models.StateInitializing:
		s.retrieveConfiguration()
	case models.StateOnLine:
		cfg := s.Configuration()
		refreshAfter := 5 * time.Duration(cfg.HeartbeatTimerSec) * time.Second
		if now.Sub(last) > refreshAfter || !cfg.HasSession() {
			s.retrieveConfiguration()
		}
		if s.tagsSource() != models.SourceFromServer {
			s.retrieveTags()
		}
		s.startDrain(cfg)
		s.startLocation(cfg)
		s.bus.Publish(events.SessionOnline{})
	case models.StateOffLine:
		s.startDrain(s.Configuration())
		s.PlaybackStop()
		s.bus.Publish(events.SessionOffline{})
	}

	s.mu.Lock()
	s.lastStateChange = now
	s.mu.Unlock()
}

// onEvent runs on the publishing goroutine and only hands off to the loop.
func (s *Service) onEvent(msg events.Message) {
	s.loop.Post(func() { s.handleEvent(msg) })
}

// handleEvent must run on the main loop.
func (s *Service) handleEvent(msg events.Message) {
	state := s.State()

	switch e := msg.Payload.(type) {
	case events.ConfigurationLoaded:
		if state == models.StateOnLine {
			return
		}
		if e.Source != models.SourceFromServer {
			s.transition(models.StateOffLine)
			return
		}
		s.ensureContent()
	case events.NoConfiguration, events.NoContent, events.NoTags:
		s.transition(models.StateUninitialized)
	case events.ContentLoaded:
		if state != models.StateOnLine {
			s.retrieveTags()
		}
	case events.TagsLoaded:
		s.transition(models.StateOnLine)
	case events.OperationFailed:
		if transport.Class(e.Class) == transport.ClassConnectivity && state == models.StateOnLine {
			s.transition(models.StateOffLine)
		}
	case events.OperationSucceeded:
		if state == models.StateOffLine && s.isConnected() {
			s.transition(models.StateOnLine)
		}
	}
}

// OnConnectivityChanged applies a connectivity change reported by a prober.
func (s *Service) OnConnectivityChanged(st netwatch.Status) {
	s.mu.Lock()
	s.network = &st
	started := s.started
	s.mu.Unlock()

	s.loop.Post(func() {
		switch state := s.State(); {
		case !st.Connected && state == models.StateOnLine:
			s.transition(models.StateOffLine)
		case st.Connected && (state == models.StateOffLine || (state == models.StateUninitialized && started)):
			if s.OnlyConnectOverWifi() && !st.IsWifi() {
				s.logger.WithField("kind", st.Kind).Info("staying off-line, not on wifi")
				return
			}
			if state == models.StateUninitialized {
				s.transition(models.StateInitializing)
				return
			}
			s.transition(models.StateOnLine)
		}
	})
}

// SetOnlyConnectOverWifi restricts server traffic to Wi-Fi networks.
func (s *Service) SetOnlyConnectOverWifi(only bool) {
	s.mu.Lock()
	s.onlyWifi = only
	s.mu.Unlock()

	s.loop.Post(func() {
		if s.State() == models.StateOnLine && !s.isConnected() {
			s.transition(models.StateOffLine)
		}
	})
}

// OnlyConnectOverWifi reports whether traffic is restricted to Wi-Fi.
func (s *Service) OnlyConnectOverWifi() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onlyWifi
}

// isConnected prefers the last status handed to OnConnectivityChanged over
// polling the prober.
func (s *Service) isConnected() bool {
	s.mu.RLock()
	reported := s.network
	s.mu.RUnlock()

	var st netwatch.Status
	switch {
	case reported != nil:
		st = *reported
	case s.conn != nil:
		st = s.conn.Current()
	default:
		return true
	}
	if !st.Connected {
		return false
	}
	return !s.OnlyConnectOverWifi() || st.IsWifi()
}

func (s *Service) startDrain(cfg *session.Configuration) {
	s.drain.Start(time.Duration(cfg.QueueCheckIntervalSec) * time.Second)
}

// --- Accessors ---

// Configuration returns a snapshot of the session configuration.
func (s *Service) Configuration() *session.Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Tags returns the current tag catalog. It must be treated as read-only.
func (s *Service) Tags() *tags.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

func (s *Service) tagsSource() models.DataSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.DataSource
}

// ContentDir returns the directory holding downloaded content, if any.
func (s *Service) ContentDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentDir
}

// StreamURL returns the url of the current stream, if any.
func (s *Service) StreamURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamURL
}

// NotificationText returns the text a notification would show.
func (s *Service) NotificationText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notificationText
}

func (s *Service) setNotificationText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.notificationText = text
	s.mu.Unlock()
}

// CurrentAssetID returns the asset estimated to be audible.
func (s *Service) CurrentAssetID() int {
	return s.tracker.CurrentAssetID()
}

// Status returns a snapshot for the local API.
func (s *Service) Status() models.Status {
	size, _ := s.queue.Count()
	conn := s.isConnected()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Status{
		State:               s.state,
		SessionID:           s.cfg.SessionID,
		ProjectID:           s.cfg.ProjectID,
		ProjectName:         s.cfg.ProjectName,
		ConfigSource:        s.cfg.DataSource,
		TagsSource:          s.catalog.DataSource,
		QueueSize:           size,
		Playing:             s.player.IsPlaying(),
		StaticSoundtrack:    s.opts.StaticSoundtrackSessionID != "" && s.cfg.SessionID == s.opts.StaticSoundtrackSessionID,
		Connected:           conn,
		OnlyConnectOverWifi: s.onlyWifi,
		CurrentAssetID:      s.tracker.CurrentAssetID(),
		LastStateChange:     s.lastStateChange,
		LastRequest:         s.lastRequest,
		NotificationText:    s.notificationText,
	}
}
