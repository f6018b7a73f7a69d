package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/netwatch"
	"github.com/fentz26/rwclient/internal/queue"
	"github.com/fentz26/rwclient/internal/store"
	"github.com/fentz26/rwclient/internal/tags"
	"github.com/fentz26/rwclient/internal/transport"
	"github.com/fentz26/rwclient/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

const testConfig = `[
	{"device": {"device_id": "dev-1"}},
	{"session": {"session_id": "1234"}},
	{"project": {
		"project_id": "7",
		"project_name": "Test Project",
		"heartbeat_timer": 15,
		"queue_check_interval_sec": 3600,
		"http_timeout_sec": 5,
		"sharing_message": "Listen to this|http://example.org/share/[id]",
		"sharing_url": "http://example.org/default"
	}}
]`

const testTags = `{
	"listen": [
		{"code": "exhibit", "name": "Exhibit", "order": 1, "select": "single", "defaults": [10],
		 "options": [
			{"tag_id": 10, "order": 1, "value": "A"},
			{"tag_id": 11, "order": 2, "value": "B"}
		 ]}
	],
	"speak": [
		{"code": "question", "name": "Question", "order": 1, "select": "multi", "defaults": [30],
		 "options": [
			{"tag_id": 30, "order": 1, "value": "Q1"},
			{"tag_id": 31, "order": 2, "value": "Q2"}
		 ]}
	]
}`

type reply struct {
	body string
	err  error
}

type call struct {
	op     string
	params map[string]string
	file   string
}

// fakeTransport answers by the operation parameter of each request.
type fakeTransport struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []call
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string]reply)}
}

func (f *fakeTransport) set(op, body string, err error) {
	f.mu.Lock()
	f.replies[op] = reply{body: body, err: err}
	f.mu.Unlock()
}

func (f *fakeTransport) handle(params map[string]string, file string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op := params[models.KeyOperation]
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	f.calls = append(f.calls, call{op: op, params: cp, file: file})

	r, ok := f.replies[op]
	if !ok {
		return []byte(`{}`), nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeTransport) Get(ctx context.Context, rawURL string, params map[string]string, timeout time.Duration) ([]byte, error) {
	return f.handle(params, "")
}

func (f *fakeTransport) Post(ctx context.Context, rawURL string, params map[string]string, timeout time.Duration) ([]byte, error) {
	return f.handle(params, "")
}

func (f *fakeTransport) Upload(ctx context.Context, rawURL string, params map[string]string, fileField, filePath string, timeout time.Duration) ([]byte, error) {
	return f.handle(params, filePath)
}

func (f *fakeTransport) callsOf(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeConn struct {
	mu sync.Mutex
	st netwatch.Status
}

func (c *fakeConn) Current() netwatch.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *fakeConn) set(st netwatch.Status) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
}

type harness struct {
	svc    *Service
	tr     *fakeTransport
	conn   *fakeConn
	prefs  *store.Store
	queue  *queue.Queue
	bus    *events.Bus
	loop   *worker.MainLoop
	player *LogPlayer
	loc    *StaticLocation
	events <-chan events.Message
	dir    string
	// skew is added to the service clock, in nanoseconds.
	skew int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	prefs, err := store.New(filepath.Join(dir, "rwclient.db"))
	require.NoError(t, err)
	q, err := queue.Open(filepath.Join(dir, "queue"), logger)
	require.NoError(t, err)

	h := &harness{
		tr:     newFakeTransport(),
		conn:   &fakeConn{st: netwatch.Status{Connected: true, Kind: netwatch.KindEthernet}},
		prefs:  prefs,
		queue:  q,
		bus:    events.NewBus(logger),
		loop:   worker.NewMainLoop(logger),
		player: NewLogPlayer(logger),
		loc:    NewStaticLocation(),
		dir:    dir,
	}
	ch, cancel := h.bus.Subscribe()
	h.events = ch

	pool := worker.NewPool(4, logger)
	h.svc = New(Options{
		ServerURL:  "http://rw.test/api/1/",
		ProjectID:  "7",
		ContentDir: filepath.Join(dir, "content"),
	}, Deps{
		Prefs:        prefs,
		Queue:        q,
		Transport:    h.tr,
		Bus:          h.bus,
		Pool:         pool,
		Loop:         h.loop,
		Player:       h.player,
		Location:     h.loc,
		Connectivity: h.conn,
		Logger:       logger,
	})
	h.svc.now = func() time.Time {
		return time.Now().Add(time.Duration(atomic.LoadInt64(&h.skew)))
	}

	t.Cleanup(func() {
		cancel()
		pool.Close()
		q.Close()
		prefs.Close()
	})
	return h
}

// run starts the main loop and the session, and stops both at cleanup.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	h.svc.Start()
}

func (h *harness) startOnLine(t *testing.T) {
	t.Helper()
	h.tr.set(models.OpGetConfig, testConfig, nil)
	h.tr.set(models.OpGetTags, testTags, nil)
	h.run(t)
	h.waitState(t, models.StateOnLine)
}

func (h *harness) waitState(t *testing.T, want models.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.svc.State() == want }, waitTimeout, 10*time.Millisecond,
		"state is %s, want %s", h.svc.State(), want)
}

func (h *harness) waitEvent(t *testing.T, kind events.Kind) events.Message {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case m := <-h.events:
			if m.Kind == kind {
				return m
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// sync waits until every func posted to the main loop so far has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	h.loop.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("main loop did not run")
	}
}

func (h *harness) applyConfig(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.applyConfiguration([]byte(testConfig), models.SourceFromServer))
}

func (h *harness) loadTags(t *testing.T) {
	t.Helper()
	c, err := tags.Parse([]byte(testTags), models.SourceFromServer)
	require.NoError(t, err)
	h.svc.setCatalog(c)
}

func (h *harness) setState(st models.SessionState) {
	h.svc.mu.Lock()
	h.svc.state = st
	h.svc.mu.Unlock()
}

func (h *harness) recording(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF...."), 0644))
	return path
}

// --- State machine ---

func TestStartup_ReachesOnLine(t *testing.T) {
	h := newHarness(t)
	h.startOnLine(t)
	h.waitEvent(t, events.KindSessionOnline)

	cfg := h.svc.Configuration()
	assert.Equal(t, "1234", cfg.SessionID)
	assert.Equal(t, models.SourceFromServer, cfg.DataSource)
	assert.Equal(t, 2, h.svc.Tags().Len())

	cached, err := h.prefs.CachedConfiguration()
	require.NoError(t, err)
	assert.NotNil(t, cached)

	st := h.svc.Status()
	assert.Equal(t, models.StateOnLine, st.State)
	assert.Equal(t, "Test Project", st.ProjectName)
	assert.Equal(t, models.SourceFromServer, st.TagsSource)
}

func TestStartup_NoConfigurationWithoutCache(t *testing.T) {
	h := newHarness(t)
	h.tr.set(models.OpGetConfig, "", &transport.ConnectivityError{Op: "dial"})
	h.run(t)

	h.waitEvent(t, events.KindNoConfiguration)
	h.waitState(t, models.StateUninitialized)
	assert.Empty(t, h.tr.callsOf(models.OpGetTags))
}

func TestStartup_CacheOnlyGoesOffLine(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.prefs.SaveConfiguration([]byte(testConfig)))
	h.tr.set(models.OpGetConfig, "", &transport.ConnectivityError{Op: "dial"})
	h.run(t)

	h.waitState(t, models.StateOffLine)
	cfg := h.svc.Configuration()
	assert.Equal(t, "-1", cfg.SessionID)
	assert.Equal(t, models.SourceFromCache, cfg.DataSource)
}

func TestConnectivityLost_GoesOffLineOnce(t *testing.T) {
	h := newHarness(t)

	var offline int32
	h.bus.Handle(func(events.Message) { atomic.AddInt32(&offline, 1) }, events.KindSessionOffline)

	h.startOnLine(t)
	require.NoError(t, h.player.Start(context.Background(), "http://rw.test/stream.mp3"))

	lost := netwatch.Status{Kind: netwatch.KindNone}
	h.conn.set(lost)
	h.svc.OnConnectivityChanged(lost)
	h.waitState(t, models.StateOffLine)

	h.svc.OnConnectivityChanged(lost)
	h.sync(t)

	assert.False(t, h.player.IsPlaying())
	assert.Equal(t, int32(1), atomic.LoadInt32(&offline))
}

func TestProtocolTimeout_GoesOffLineAndBack(t *testing.T) {
	h := newHarness(t)
	h.startOnLine(t)

	h.tr.set(models.OpHeartbeat, "", &transport.StatusError{Code: 503})
	err := h.svc.SendHeartbeat(context.Background())
	require.ErrorIs(t, err, ErrRequestFailed)

	msg := h.waitEvent(t, events.KindOperationFailed)
	failed := msg.Payload.(events.OperationFailed)
	assert.Equal(t, string(transport.ClassConnectivity), failed.Class)
	h.waitState(t, models.StateOffLine)

	h.tr.set(models.OpHeartbeat, `{}`, nil)
	require.NoError(t, h.svc.SendHeartbeat(context.Background()))
	h.waitEvent(t, events.KindHeartbeatSent)
	h.waitState(t, models.StateOnLine)
}

func TestWifiOnly(t *testing.T) {
	h := newHarness(t)
	h.startOnLine(t)

	h.svc.SetOnlyConnectOverWifi(true)
	h.waitState(t, models.StateOffLine)

	ethernet := netwatch.Status{Connected: true, Kind: netwatch.KindEthernet}
	h.svc.OnConnectivityChanged(ethernet)
	h.sync(t)
	assert.Equal(t, models.StateOffLine, h.svc.State())

	wifi := netwatch.Status{Connected: true, Kind: netwatch.KindWifi}
	h.conn.set(wifi)
	h.svc.OnConnectivityChanged(wifi)
	h.waitState(t, models.StateOnLine)
}

func TestWifiOnly_StartupRecoversWhenWifiArrives(t *testing.T) {
	h := newHarness(t)
	h.svc.onlyWifi = true
	h.tr.set(models.OpGetConfig, testConfig, nil)
	h.tr.set(models.OpGetTags, testTags, nil)

	h.svc.OnConnectivityChanged(netwatch.Status{Connected: true, Kind: netwatch.KindEthernet})
	h.run(t)

	h.waitEvent(t, events.KindNoConfiguration)
	h.waitState(t, models.StateUninitialized)
	assert.Empty(t, h.tr.callsOf(models.OpGetConfig))

	wifi := netwatch.Status{Connected: true, Kind: netwatch.KindWifi}
	h.conn.set(wifi)
	h.svc.OnConnectivityChanged(wifi)
	h.waitState(t, models.StateOnLine)
	assert.Len(t, h.tr.callsOf(models.OpGetConfig), 1)
}

func TestWifiOnly_BeforeFirstConnectivityCheck(t *testing.T) {
	h := newHarness(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	prober, err := netwatch.New("http://rw.test/api/1/", logger)
	require.NoError(t, err)
	h.svc.conn = prober
	h.svc.onlyWifi = true
	h.tr.set(models.OpGetConfig, testConfig, nil)
	h.tr.set(models.OpGetTags, testTags, nil)

	h.run(t)
	if prober.Current().Kind != netwatch.KindWifi {
		h.waitEvent(t, events.KindNoConfiguration)
		h.waitState(t, models.StateUninitialized)
		assert.Empty(t, h.tr.callsOf(models.OpGetConfig))
	}

	h.svc.OnConnectivityChanged(netwatch.Status{Connected: true, Kind: netwatch.KindWifi})
	h.waitState(t, models.StateOnLine)
}

func TestUninitialized_NotRestartedBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.svc.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	h.svc.OnConnectivityChanged(netwatch.Status{Connected: true, Kind: netwatch.KindWifi})
	h.sync(t)
	assert.Equal(t, models.StateUninitialized, h.svc.State())
	assert.Empty(t, h.tr.callsOf(models.OpGetConfig))
}

// goOffLine drops connectivity and waits for OFF_LINE.
func (h *harness) goOffLine(t *testing.T) {
	t.Helper()
	lost := netwatch.Status{Kind: netwatch.KindNone}
	h.conn.set(lost)
	h.svc.OnConnectivityChanged(lost)
	h.waitState(t, models.StateOffLine)
}

// goOnLine restores connectivity and waits for ON_LINE.
func (h *harness) goOnLine(t *testing.T) {
	t.Helper()
	back := netwatch.Status{Connected: true, Kind: netwatch.KindEthernet}
	h.conn.set(back)
	h.svc.OnConnectivityChanged(back)
	h.waitState(t, models.StateOnLine)
}

// shiftClock moves the service clock forward by d.
func (h *harness) shiftClock(d time.Duration) {
	atomic.AddInt64(&h.skew, int64(d))
}

func TestOnLine_RefreshesStaleConfiguration(t *testing.T) {
	h := newHarness(t)
	h.startOnLine(t)
	require.Len(t, h.tr.callsOf(models.OpGetConfig), 1)

	h.goOffLine(t)
	// heartbeat_timer is 15s, so configuration older than 75s is stale.
	h.shiftClock(76*time.Second)
	h.goOnLine(t)

	require.Eventually(t, func() bool { return len(h.tr.callsOf(models.OpGetConfig)) == 2 },
		waitTimeout, 10*time.Millisecond)
	h.sync(t)
	assert.Len(t, h.tr.callsOf(models.OpGetTags), 1, "tags from the server are kept")
}

func TestOnLine_KeepsRecentConfiguration(t *testing.T) {
	h := newHarness(t)
	h.startOnLine(t)

	h.goOffLine(t)
	h.shiftClock(74*time.Second)
	h.goOnLine(t)
	h.sync(t)

	assert.Never(t, func() bool { return len(h.tr.callsOf(models.OpGetConfig)) > 1 },
		200*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, h.tr.callsOf(models.OpGetTags), 1)
}

func TestOnLine_RefreshesCachedTags(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.prefs.SaveTags([]byte(testTags)))
	h.tr.set(models.OpGetConfig, testConfig, nil)
	h.tr.set(models.OpGetTags, "", &transport.StatusError{Code: 500})
	h.run(t)
	h.waitState(t, models.StateOnLine)

	// Startup falls back to the cache; entering ON_LINE with cached tags
	// asks the server again and falls back once more.
	for i := 0; i < 2; i++ {
		msg := h.waitEvent(t, events.KindTagsLoaded)
		assert.Equal(t, models.SourceFromCache, msg.Payload.(events.TagsLoaded).Source)
	}
	assert.Len(t, h.tr.callsOf(models.OpGetTags), 2)

	h.goOffLine(t)
	h.tr.set(models.OpGetTags, testTags, nil)
	h.goOnLine(t)

	require.Eventually(t, func() bool { return h.svc.Status().TagsSource == models.SourceFromServer },
		waitTimeout, 10*time.Millisecond)
	assert.Len(t, h.tr.callsOf(models.OpGetTags), 3)
	assert.Len(t, h.tr.callsOf(models.OpGetConfig), 1)
}

// --- Perform ---

func TestPerform_OnMainLoopForks(t *testing.T) {
	h := newHarness(t)
	h.startOnLine(t)
	h.tr.set(models.OpSkipAhead, `{"success":true}`, nil)

	type result struct {
		body string
		ok   bool
	}
	immediate := make(chan result, 1)
	delivered := make(chan result, 1)
	submitErr := make(chan error, 1)

	h.loop.Post(func() {
		body, ok := h.svc.Perform(context.Background(), h.svc.factory.SkipAhead(), true, func(body string, ok bool) {
			delivered <- result{body, ok}
		})
		immediate <- result{body, ok}

		_, err := h.svc.Submit(context.Background(), "unused.wav", "Y", true, false)
		submitErr <- err
	})

	select {
	case r := <-immediate:
		assert.Equal(t, result{"", true}, r)
	case <-time.After(waitTimeout):
		t.Fatal("perform on main loop blocked")
	}
	select {
	case r := <-delivered:
		assert.Equal(t, result{`{"success":true}`, true}, r)
	case <-time.After(waitTimeout):
		t.Fatal("callback not called")
	}
	assert.ErrorIs(t, <-submitErr, ErrOnMainLoop)
}

func TestPerform_QueuedWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.setState(models.StateOffLine)
	h.conn.set(netwatch.Status{Kind: netwatch.KindNone})

	staged, err := h.queue.StageFile(h.recording(t, "rec.wav"))
	require.NoError(t, err)
	a := h.svc.factory.AddAssetToEnvelope(nil, "12", staged, "Y")

	_, ok := h.svc.Perform(context.Background(), a, false, nil)
	require.True(t, ok)
	h.waitEvent(t, events.KindOperationQueued)
	assert.Equal(t, 1, h.svc.QueueSize())

	h.svc.drainQueue(context.Background())

	assert.Equal(t, 1, h.svc.QueueSize(), "failed uploads stay queued")
	assert.FileExists(t, staged)
	assert.Empty(t, h.tr.callsOf(models.OpAddAssetToEnvelope))
}

func TestDrain_PerformsOldestAndDeletes(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.setState(models.StateOnLine)

	_, ok := h.svc.Perform(context.Background(), h.svc.factory.Heartbeat(), false, nil)
	require.True(t, ok)
	require.Equal(t, 1, h.svc.QueueSize())

	h.svc.drainQueue(context.Background())

	assert.Equal(t, 0, h.svc.QueueSize())
	calls := h.tr.callsOf(models.OpHeartbeat)
	require.Len(t, calls, 1)
	assert.Equal(t, "1234", calls[0].params[models.KeySessionID])
}

func TestDrain_DropsFailedNonUpload(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.setState(models.StateOnLine)
	h.tr.set(models.OpLogEvent, "", &transport.StatusError{Code: 500})

	require.NoError(t, h.svc.SendLogEvent(context.Background(), "start_listen", "", false))
	require.Equal(t, 1, h.svc.QueueSize())

	h.svc.drainQueue(context.Background())
	assert.Equal(t, 0, h.svc.QueueSize())
}

func TestDrain_KeepsFailedUpload(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.setState(models.StateOnLine)
	h.tr.set(models.OpAddAssetToEnvelope, "", fmt.Errorf("decode: %w", transport.ErrParse))

	staged, err := h.queue.StageFile(h.recording(t, "rec.wav"))
	require.NoError(t, err)
	_, ok := h.svc.Perform(context.Background(), h.svc.factory.AddAssetToEnvelope(nil, "12", staged, "Y"), false, nil)
	require.True(t, ok)

	h.svc.drainQueue(context.Background())

	assert.Equal(t, 1, h.svc.QueueSize())
	assert.FileExists(t, staged)

	logs := h.tr.callsOf(models.OpLogEvent)
	require.Len(t, logs, 1)
	assert.Equal(t, EventStopUpload, logs[0].params[models.KeyEventType])
	assert.Equal(t, "false", logs[0].params[models.KeyData])
}

func TestDrain_UploadConnectivityFailureLogsNoStop(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.setState(models.StateOnLine)
	h.tr.set(models.OpAddAssetToEnvelope, "", &transport.ConnectivityError{Op: "dial"})

	staged, err := h.queue.StageFile(h.recording(t, "rec.wav"))
	require.NoError(t, err)
	_, ok := h.svc.Perform(context.Background(), h.svc.factory.AddAssetToEnvelope(nil, "12", staged, "Y"), false, nil)
	require.True(t, ok)

	h.svc.drainQueue(context.Background())

	assert.Equal(t, 1, h.svc.QueueSize())
	assert.FileExists(t, staged)
	assert.Empty(t, h.tr.callsOf(models.OpLogEvent))
}

func TestDrain_HeartbeatWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.svc.mu.Lock()
	h.svc.cfg.SessionID = "-1"
	h.svc.lastRequest = time.Now().Add(-time.Hour)
	h.svc.mu.Unlock()

	h.setState(models.StateOnLine)
	h.svc.drainQueue(context.Background())
	assert.Empty(t, h.tr.callsOf(models.OpHeartbeat), "on-line and not playing")

	h.svc.mu.Lock()
	h.svc.lastRequest = time.Now().Add(-time.Hour)
	h.svc.mu.Unlock()
	h.setState(models.StateOffLine)
	h.svc.drainQueue(context.Background())
	assert.Len(t, h.tr.callsOf(models.OpHeartbeat), 1)
	h.waitEvent(t, events.KindHeartbeatSent)
}

func TestPerform_ServerMessages(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)

	h.tr.set(models.OpVoteAsset, `{"error_message":"bad vote","traceback":"line 1"}`, nil)
	body, ok := h.svc.Perform(context.Background(), h.svc.factory.VoteAsset(5, "like", ""), true, nil)
	assert.False(t, ok)
	assert.Empty(t, body)
	msg := h.waitEvent(t, events.KindErrorMessage)
	assert.Equal(t, "bad vote\n\nTraceback: line 1", msg.Payload.(events.ErrorMessage).Message)

	h.tr.set(models.OpSkipAhead, `[{"user_message":"hello"}]`, nil)
	body, ok = h.svc.Perform(context.Background(), h.svc.factory.SkipAhead(), true, nil)
	assert.True(t, ok)
	assert.Equal(t, `[{"user_message":"hello"}]`, body)
	msg = h.waitEvent(t, events.KindUserMessage)
	assert.Equal(t, "hello", msg.Payload.(events.UserMessage).Message)
}

func TestPerform_JustInTimeEnvelope(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.tr.set(models.OpCreateEnvelope, `{"envelope_id": 77}`, nil)

	staged, err := h.queue.StageFile(h.recording(t, "rec.wav"))
	require.NoError(t, err)
	a := h.svc.factory.AddAssetToEnvelope(nil, models.NoEnvelope, staged, "Y")

	_, ok := h.svc.Perform(context.Background(), a, true, nil)
	require.True(t, ok)

	uploads := h.tr.callsOf(models.OpAddAssetToEnvelope)
	require.Len(t, uploads, 1)
	assert.Equal(t, "77", uploads[0].params[models.KeyEnvelopeID])
	assert.Equal(t, staged, uploads[0].file)
	assert.NoFileExists(t, staged)

	logs := h.tr.callsOf(models.OpLogEvent)
	require.Len(t, logs, 1)
	assert.Equal(t, "true", logs[0].params[models.KeyData])
}

func TestPerform_JustInTimeEnvelopeFailure(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.tr.set(models.OpCreateEnvelope, "", &transport.StatusError{Code: 500})

	staged, err := h.queue.StageFile(h.recording(t, "rec.wav"))
	require.NoError(t, err)
	a := h.svc.factory.AddAssetToEnvelope(nil, models.NoEnvelope, staged, "Y")

	_, ok := h.svc.Perform(context.Background(), a, true, nil)
	assert.False(t, ok)

	msg := h.waitEvent(t, events.KindOperationFailed)
	assert.Equal(t, string(transport.ClassConnectivity), msg.Payload.(events.OperationFailed).Class)
	assert.Empty(t, h.tr.callsOf(models.OpAddAssetToEnvelope))
	assert.FileExists(t, staged)
}

func TestPerform_NoConnectivity(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.conn.set(netwatch.Status{Kind: netwatch.KindNone})

	_, ok := h.svc.Perform(context.Background(), h.svc.factory.SkipAhead(), true, nil)
	assert.False(t, ok)
	msg := h.waitEvent(t, events.KindOperationFailed)
	failed := msg.Payload.(events.OperationFailed)
	assert.Equal(t, "No connectivity", failed.Message)
	assert.Empty(t, h.tr.callsOf(models.OpSkipAhead))
}

func TestPerform_StampsCurrentSession(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)

	a := h.svc.factory.SkipAhead()
	a.Set(models.KeySessionID, "999")
	_, ok := h.svc.Perform(context.Background(), a, true, nil)
	require.True(t, ok)

	h.svc.mu.Lock()
	h.svc.cfg.SessionID = ""
	h.svc.mu.Unlock()

	stale := h.svc.factory.SkipAhead()
	stale.Set(models.KeySessionID, "999")
	_, ok = h.svc.Perform(context.Background(), stale, true, nil)
	require.True(t, ok)

	calls := h.tr.callsOf(models.OpSkipAhead)
	require.Len(t, calls, 2)
	assert.Equal(t, "1234", calls[0].params[models.KeySessionID])
	_, ok = calls[1].params[models.KeySessionID]
	assert.False(t, ok, "stale session id is cleared")
}

// --- Submit ---

func TestSubmit_SharesAndUploads(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.loadTags(t)
	h.tr.set(models.OpCreateEnvelope, `{"envelope_id": 55}`, nil)
	h.tr.set(models.OpAddAssetToEnvelope, `{"success":true}`, nil)

	rec := h.recording(t, "rec.wav")
	body, err := h.svc.Submit(context.Background(), rec, "Y", true, true)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true}`, body)
	assert.NoFileExists(t, rec)

	msg := h.waitEvent(t, events.KindSharingMessage)
	share := msg.Payload.(events.SharingMessage)
	assert.Equal(t, "Listen to this", share.Message)
	assert.Equal(t, "http://example.org/share/55", share.URL)
	assert.Equal(t, "55", share.EnvelopeID)
	assert.Nil(t, share.Latitude)

	envelopes := h.tr.callsOf(models.OpCreateEnvelope)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "30", envelopes[0].params[models.KeyTags])

	uploads := h.tr.callsOf(models.OpAddAssetToEnvelope)
	require.Len(t, uploads, 1)
	assert.Equal(t, "55", uploads[0].params[models.KeyEnvelopeID])
	assert.Equal(t, "Y", uploads[0].params[models.KeySubmitted])
	assert.Equal(t, 0, h.svc.QueueSize())
}

func TestSubmit_QueuesWithoutEnvelope(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.tr.set(models.OpCreateEnvelope, "", &transport.ConnectivityError{Op: "dial"})

	body, err := h.svc.Submit(context.Background(), h.recording(t, "rec.wav"), "Y", true, true)
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, 1, h.svc.QueueSize())
	assert.Empty(t, h.tr.callsOf(models.OpAddAssetToEnvelope))

	a, err := h.queue.Oldest()
	require.NoError(t, err)
	assert.Equal(t, models.NoEnvelope, a.EnvelopeID())
}

func TestSplitSharingMessage(t *testing.T) {
	msg, url := splitSharingMessage("Hear me|http://a/[id]", "http://fallback")
	assert.Equal(t, "Hear me", msg)
	assert.Equal(t, "http://a/[id]", url)

	msg, url = splitSharingMessage("a|b|http://last", "")
	assert.Equal(t, "a", msg)
	assert.Equal(t, "http://last", url)

	msg, url = splitSharingMessage("plain", "http://fallback")
	assert.Equal(t, "plain", msg)
	assert.Equal(t, "http://fallback", url)
}

// --- Playback ---

func TestPlaybackStart(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.tr.set(models.OpRequestStream, `{"stream_url":"http://rw.test/s/1234.mp3"}`, nil)

	require.NoError(t, h.svc.PlaybackStart(context.Background()))
	assert.True(t, h.svc.IsPlaying())
	assert.Equal(t, "http://rw.test/s/1234.mp3", h.svc.StreamURL())
	assert.Equal(t, "http://rw.test/s/1234.mp3", h.player.URL())

	h.player.SetMuted(true)
	assert.False(t, h.svc.IsPlaying())
	assert.True(t, h.svc.IsPlayingMuted())

	h.svc.PlaybackStop()
	assert.False(t, h.player.IsPlaying())
	assert.Empty(t, h.svc.StreamURL())
}

func TestPlaybackStart_NoStreamURL(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.tr.set(models.OpRequestStream, `{"success":true}`, nil)

	err := h.svc.PlaybackStart(context.Background())
	assert.ErrorIs(t, err, ErrUnableToPlay)
	h.waitEvent(t, events.KindUnableToPlay)
	assert.False(t, h.player.IsPlaying())
}

func TestIsPlayingStaticSoundtrack(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.svc.IsPlayingStaticSoundtrack())

	h.svc.opts.StaticSoundtrackSessionID = "1234"
	h.applyConfig(t)
	assert.True(t, h.svc.IsPlayingStaticSoundtrack())
}

func TestMockLocation(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.svc.SetMockLocation("52.37", "4.89"))
	loc, ok := h.svc.LastLocation()
	require.True(t, ok)
	assert.InDelta(t, 52.37, loc.Latitude, 1e-9)
	assert.InDelta(t, 4.89, loc.Longitude, 1e-9)

	assert.Error(t, h.svc.SetMockLocation("north", "4.89"))

	require.NoError(t, h.svc.SetMockLocation("N/A", "4.89"))
	_, ok = h.svc.LastLocation()
	assert.False(t, ok)
}

func TestLocationUpdate_MovesListener(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.applyConfiguration([]byte(`{"session":{"session_id":"9"},"project":{"geo_listen_enabled":true}}`), models.SourceFromServer))
	require.NoError(t, h.player.Start(context.Background(), "http://rw.test/stream.mp3"))

	h.svc.startLocation(h.svc.Configuration())
	h.loc.Fix(52.37, 4.89, 3)

	msg := h.waitEvent(t, events.KindLocationUpdated)
	assert.InDelta(t, 52.37, msg.Payload.(events.LocationUpdated).Location.Latitude, 1e-9)

	moves := h.tr.callsOf(models.OpModifyStream)
	require.Len(t, moves, 1)
	assert.Equal(t, "52.370000", moves[0].params[models.KeyLatitude])
	assert.Empty(t, moves[0].params[models.KeyTags])
}

// --- Selection ---

func TestSelection(t *testing.T) {
	h := newHarness(t)
	h.loadTags(t)

	assert.True(t, h.svc.ValidSelection(tags.ModeListen))
	assert.Equal(t, "10", h.svc.Selection(tags.ModeListen).SelectedTagIDs())

	changed, err := h.svc.SelectTag(tags.ModeListen, 11)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "11", h.svc.Selection(tags.ModeListen).SelectedTagIDs())

	changed, err = h.svc.DeselectTag(tags.ModeListen, 11)
	require.NoError(t, err)
	assert.False(t, changed, "single select keeps one option")

	changed, err = h.svc.ToggleTag(tags.ModeSpeak, 31)
	require.NoError(t, err)
	assert.True(t, changed)

	v, ok, err := h.prefs.GetBool("speak_question_31")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, v)

	_, err = h.svc.SelectTag(tags.ModeListen, 99)
	assert.ErrorIs(t, err, ErrUnknownTag)
	_, err = h.svc.SelectTag(tags.Mode("watch"), 10)
	assert.ErrorIs(t, err, ErrUnknownMode)

	require.NoError(t, h.svc.SetSelection(tags.ModeSpeak, "question=30,31"))
	assert.Equal(t, "30,31", h.svc.Selection(tags.ModeSpeak).SelectedTagIDs())

	cp := h.svc.Selection(tags.ModeSpeak)
	cp.ClearSelection(nil)
	assert.Equal(t, "30,31", h.svc.Selection(tags.ModeSpeak).SelectedTagIDs())
}

func TestModifyStream_RequiresValidSelection(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)

	c, err := tags.Parse([]byte(`{"listen":[{"code":"g","name":"G","order":1,"select":"multi_at_least_one","defaults":[],
		"options":[{"tag_id":1,"order":1,"value":"x"}]}],"speak":[]}`), models.SourceFromServer)
	require.NoError(t, err)
	h.svc.setCatalog(c)

	err = h.svc.ModifyStream(context.Background(), true)
	assert.ErrorIs(t, err, ErrInvalidSelection)
	assert.Empty(t, h.tr.callsOf(models.OpModifyStream))

	_, err = h.svc.SelectTag(tags.ModeListen, 1)
	require.NoError(t, err)
	require.NoError(t, h.svc.ModifyStream(context.Background(), true))
	calls := h.tr.callsOf(models.OpModifyStream)
	require.Len(t, calls, 1)
	assert.Equal(t, "1", calls[0].params[models.KeyTags])
}

func TestPurgeQueue(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	require.NoError(t, h.svc.SendLogEvent(context.Background(), "a", "", false))
	require.NoError(t, h.svc.SendLogEvent(context.Background(), "b", "", false))
	require.Equal(t, 2, h.svc.QueueSize())

	require.NoError(t, h.svc.PurgeQueue())
	assert.Equal(t, 0, h.svc.QueueSize())
}

func TestServerMessage(t *testing.T) {
	msg, ok := serverMessage(`{"a":1,"user_message":"hi"}`, keyUserMessage)
	assert.True(t, ok)
	assert.Equal(t, "hi", msg)

	msg, ok = serverMessage(`[{"x":1},{"error_message":{"code":3}}]`, keyErrorMessage)
	assert.True(t, ok)
	assert.Equal(t, `{"code":3}`, msg)

	_, ok = serverMessage(`{"user_message":null}`, keyUserMessage)
	assert.False(t, ok)

	assert.False(t, looksLikeJSON("OK"))
	assert.True(t, looksLikeJSON(" [1] "))
	assert.Equal(t, "", streamURL("not json"))
}

func TestErrRequestFailedWraps(t *testing.T) {
	h := newHarness(t)
	h.applyConfig(t)
	h.tr.set(models.OpSkipAhead, "", errors.New("boom"))
	err := h.svc.SkipAhead(context.Background(), true)
	assert.ErrorIs(t, err, ErrRequestFailed)
}
