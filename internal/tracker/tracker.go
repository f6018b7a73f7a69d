// Package tracker estimates which streamed asset the listener currently hears.
//
// The server reports the asset it is streaming right now. Because the player
// buffers, the listener hears that asset a few seconds later. The tracker
// keeps a short list of recently streamed assets with the time each is
// expected to become audible, and publishes a StreamMetadataUpdated event
// whenever the front of that list changes.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// ServerTimeLayout is the layout of server timestamps.
const ServerTimeLayout = "2006-01-02 15:04:05"

// DefaultBufferLength is the assumed client side buffering delay.
const DefaultBufferLength = 6000 * time.Millisecond

// NoAsset is the asset id reported when nothing is playing.
const NoAsset = -1

// Source supplies playback state and the two server calls the tracker needs.
type Source interface {
	StreamMetadataEnabled() bool
	StreamMetadataInterval() time.Duration
	IsPlaying() bool
	IsPlayingMuted() bool
	IsPlayingStaticSoundtrack() bool
	GetCurrentStreamingAsset(ctx context.Context) ([]byte, error)
	GetAssetInfo(ctx context.Context, assetID int) ([]byte, error)
}

// Publisher receives metadata events.
type Publisher interface {
	Publish(e events.Event)
}

// AssetInfo is one asset streamed by the server and playing or buffered on
// the client.
type AssetInfo struct {
	AssetID                int
	Duration               time.Duration
	DurationInStream       time.Duration
	LastClientUpdate       time.Time
	StartedOnServer        time.Time
	PlayedOnServer         time.Duration
	EstimatedStartedPlayed time.Time
}

// Tracker polls the server while playing and publishes asset changes.
type Tracker struct {
	src    Source
	pub    Publisher
	logger logrus.FieldLogger
	ticker *scheduler.Ticker
	now    func() time.Time

	mu         sync.Mutex
	assets     []*AssetInfo
	nextUpdate time.Time
	buffer     time.Duration
	current    int
	previous   int
	running    bool
}

// New creates a stopped tracker.
func New(src Source, pub Publisher, logger logrus.FieldLogger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &Tracker{
		src:      src,
		pub:      pub,
		logger:   logger.WithField("component", "tracker"),
		now:      time.Now,
		buffer:   DefaultBufferLength,
		current:  NoAsset,
		previous: NoAsset,
	}
	t.ticker = scheduler.New("stream-metadata", t.Poll, logger)
	return t
}

// Start begins polling when stream metadata is enabled.
func (t *Tracker) Start() {
	t.Stop()
	if !t.src.StreamMetadataEnabled() {
		return
	}

	t.mu.Lock()
	t.running = true
	t.update(NoAsset, "")
	t.mu.Unlock()

	t.ticker.Start(t.src.StreamMetadataInterval())
}

// Stop ends polling and reports that no asset is playing.
func (t *Tracker) Stop() {
	t.mu.Lock()
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()
	if !wasRunning {
		return
	}

	t.ticker.Stop()
	t.mu.Lock()
	t.update(NoAsset, "")
	t.mu.Unlock()
}

// Reset forces a server request on the next poll.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.nextUpdate = time.Time{}
	t.mu.Unlock()
}

// BufferLength returns the assumed buffering delay.
func (t *Tracker) BufferLength() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer
}

// SetBufferLength sets the assumed buffering delay. Negative values are ignored.
func (t *Tracker) SetBufferLength(d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	t.buffer = d
	t.mu.Unlock()
}

// CurrentAssetID returns the asset estimated to be audible, or NoAsset.
func (t *Tracker) CurrentAssetID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Poll runs one tracking step. It is the ticker callback.
func (t *Tracker) Poll(ctx context.Context) {
	now := t.now()

	if !t.src.StreamMetadataEnabled() || !t.src.IsPlaying() || t.src.IsPlayingStaticSoundtrack() {
		t.Reset()
		return
	}

	t.mu.Lock()
	due := t.nextUpdate.IsZero() || !t.nextUpdate.After(now)
	t.mu.Unlock()

	if due {
		if err := t.refresh(ctx, now); err != nil {
			t.logger.WithError(err).Warn("error processing server stream metadata")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}

	assetID, title := NoAsset, ""
	kept := t.assets[:0]
	for _, info := range t.assets {
		if info.EstimatedStartedPlayed.Add(info.DurationInStream).Before(now) {
			continue
		}
		kept = append(kept, info)
	}
	t.assets = kept
	if len(t.assets) > 0 {
		first := t.assets[0]
		assetID = first.AssetID
		title = fmt.Sprintf("Asset: %d (%.2fs)", first.AssetID, first.DurationInStream.Seconds())
	}
	t.update(assetID, title)
}

type currentAsset struct {
	AssetID           json.Number `json:"asset_id"`
	CurrentServerTime string      `json:"current_server_time"`
	StartTime         string      `json:"start_time"`
	DurationInStream  json.Number `json:"duration_in_stream"`
}

type assetInfo struct {
	DurationInMS json.Number `json:"duration_in_ms"`
}

func numberOr(n json.Number, def int64) int64 {
	v, err := n.Int64()
	if err != nil {
		if f, ferr := n.Float64(); ferr == nil {
			return int64(f)
		}
		return def
	}
	return v
}

func (t *Tracker) refresh(ctx context.Context, now time.Time) error {
	body, err := t.src.GetCurrentStreamingAsset(ctx)
	if err != nil {
		return fmt.Errorf("get current streaming asset: %w", err)
	}
	if body == nil {
		return nil
	}

	var cur currentAsset
	if err := json.Unmarshal(body, &cur); err != nil {
		return fmt.Errorf("decode current streaming asset: %w", err)
	}
	assetID := int(numberOr(cur.AssetID, NoAsset))

	serverNow, err := time.Parse(ServerTimeLayout, cur.CurrentServerTime)
	if err != nil {
		return fmt.Errorf("parse current_server_time: %w", err)
	}
	started, err := time.Parse(ServerTimeLayout, cur.StartTime)
	if err != nil {
		return fmt.Errorf("parse start_time: %w", err)
	}
	played := serverNow.Sub(started)

	t.mu.Lock()
	info := t.find(assetID)
	buffer := t.buffer
	t.mu.Unlock()

	if info == nil {
		info = &AssetInfo{
			AssetID:          assetID,
			DurationInStream: time.Duration(numberOr(cur.DurationInStream, 0)) * time.Millisecond,
		}

		body, err := t.src.GetAssetInfo(ctx, assetID)
		if err != nil {
			return fmt.Errorf("get asset info: %w", err)
		}
		var ai assetInfo
		if err := json.Unmarshal(body, &ai); err != nil {
			return fmt.Errorf("decode asset info: %w", err)
		}
		info.Duration = time.Duration(numberOr(ai.DurationInMS, -1)) * time.Millisecond
		info.EstimatedStartedPlayed = now.Add(buffer)

		if info.DurationInStream+buffer-played > 0 {
			t.mu.Lock()
			t.assets = append(t.assets, info)
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	info.LastClientUpdate = now
	info.StartedOnServer = started
	info.PlayedOnServer = played
	if played > info.DurationInStream {
		t.nextUpdate = time.Time{}
	} else {
		t.nextUpdate = now.Add(info.DurationInStream - played)
	}
	return nil
}

func (t *Tracker) find(assetID int) *AssetInfo {
	for _, info := range t.assets {
		if info.AssetID == assetID {
			return info
		}
	}
	return nil
}

// update must be called with t.mu held.
func (t *Tracker) update(assetID int, title string) {
	if t.current == assetID {
		return
	}
	t.previous = t.current
	t.current = assetID
	if t.src.IsPlayingMuted() {
		return
	}
	t.pub.Publish(events.StreamMetadataUpdated{
		CurrentAssetID:  t.current,
		PreviousAssetID: t.previous,
		Title:           title,
	})
}
