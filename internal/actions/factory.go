// Package actions builds one Action per server operation.
package actions

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/session"
	"github.com/fentz26/rwclient/internal/tags"
)

// ClientTimeLayout formats the client_time parameter of log events.
const ClientTimeLayout = "2006-01-02 15:04:05.-0700"

// AudioBitrate is requested for every stream.
const AudioBitrate = "128"

// Labels shown while an action is in flight.
const (
	LabelDefault           = "Return to app"
	LabelRetrieveConfig    = "Retrieving configuration"
	LabelRetrieveTags      = "Retrieving tags"
	LabelHeartbeat         = "Sending heartbeat"
	LabelEvent             = "Logging event"
	LabelCurrentAsset      = "Requesting current streaming asset"
	LabelAssetInfo         = "Requesting asset info"
	LabelVote              = "Voting on asset"
	LabelSkipAhead         = "Requesting skip ahead"
	LabelReplay            = "Requesting asset replay"
	LabelRequestStream     = "Requesting stream"
	LabelModifyStream      = "Modifying stream"
	LabelAnnounceRecording = "Announcing recording"
	LabelUploadRecording   = "Uploading recording"
	LabelRequestFailed     = "Request failed, will retry"
	LabelRequestQueued     = "Request queued"
)

// Environment supplies the session state an action is built from.
type Environment interface {
	// Configuration returns a snapshot of the current configuration.
	Configuration() *session.Configuration
	// LastLocation returns the last known device location.
	LastLocation() (models.Location, bool)
}

// Factory creates actions for one server.
type Factory struct {
	serverURL string
	projectID string
	label     string
	env       Environment
	now       func() time.Time
}

// NewFactory returns a factory for actions against serverURL. projectID is
// the default project of every action; label is the idle notification text.
func NewFactory(serverURL, projectID, label string, env Environment) *Factory {
	if label == "" {
		label = LabelDefault
	}
	return &Factory{
		serverURL: serverURL,
		projectID: projectID,
		label:     label,
		env:       env,
		now:       time.Now,
	}
}

// ServerURL returns the server every action is sent to.
func (f *Factory) ServerURL() string { return f.serverURL }

func (f *Factory) base(withSession bool) *models.Action {
	a := models.NewAction()
	a.Set(models.KeyLabel, f.label).
		Set(models.KeyServerURL, f.serverURL).
		Set(models.KeyProjectID, f.projectID)

	if withSession {
		a.Set(models.KeySessionID, f.env.Configuration().SessionID)
	}
	return a
}

// RetrieveConfiguration builds get_config.
func (f *Factory) RetrieveConfiguration(deviceID, projectID string) *models.Action {
	return f.base(true).
		Set(models.KeyLabel, LabelRetrieveConfig).
		Set(models.KeyOperation, models.OpGetConfig).
		Set(models.KeyProjectID, projectID).
		Set(models.KeyClientType, runtime.GOOS+" "+runtime.GOARCH).
		Set(models.KeyClientSystem, "Go "+strings.TrimPrefix(runtime.Version(), "go")).
		Set(models.KeyLanguage, Language()).
		Set(models.KeyDeviceID, deviceID)
}

// RetrieveTags builds get_tags.
func (f *Factory) RetrieveTags(projectID string) *models.Action {
	return f.base(true).
		Set(models.KeyLabel, LabelRetrieveTags).
		Set(models.KeyOperation, models.OpGetTags).
		Set(models.KeyProjectID, projectID).
		Set(models.KeyLanguage, Language())
}

// Heartbeat builds heartbeat.
func (f *Factory) Heartbeat() *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelHeartbeat).
		Set(models.KeyOperation, models.OpHeartbeat)
	return f.addCoordinates(a)
}

// LogEvent builds log_event. sel and data are optional.
func (f *Factory) LogEvent(eventType string, sel *tags.List, data string) *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelEvent).
		Set(models.KeyOperation, models.OpLogEvent).
		Set(models.KeyEventType, eventType)
	f.addCoordinates(a)
	a.Set(models.KeyClientTime, f.now().Format(ClientTimeLayout))
	addTags(a, sel)
	return a.Set(models.KeyData, data)
}

// CurrentStreamingAsset builds get_current_streaming_asset.
func (f *Factory) CurrentStreamingAsset() *models.Action {
	return f.base(true).
		Set(models.KeyLabel, LabelCurrentAsset).
		Set(models.KeyOperation, models.OpGetCurrentStreamingAsset)
}

// AssetInfo builds get_asset_info. It carries no session.
func (f *Factory) AssetInfo(assetID int) *models.Action {
	return f.base(false).
		Set(models.KeyLabel, LabelAssetInfo).
		Set(models.KeyOperation, models.OpGetAssetInfo).
		Set(models.KeyAssetID, strconv.Itoa(assetID))
}

// VoteAsset builds vote_asset. voteValue is optional.
func (f *Factory) VoteAsset(assetID int, voteType, voteValue string) *models.Action {
	return f.base(true).
		Set(models.KeyLabel, LabelVote).
		Set(models.KeyOperation, models.OpVoteAsset).
		Set(models.KeyAssetID, strconv.Itoa(assetID)).
		Set(models.KeyVoteType, voteType).
		Set(models.KeyVoteValue, voteValue)
}

// SkipAhead builds skip_ahead.
func (f *Factory) SkipAhead() *models.Action {
	return f.base(true).
		Set(models.KeyLabel, LabelSkipAhead).
		Set(models.KeyOperation, models.OpSkipAhead)
}

// PlayAssetInStream builds play_asset_in_stream.
func (f *Factory) PlayAssetInStream(assetID int) *models.Action {
	return f.base(true).
		Set(models.KeyLabel, LabelReplay).
		Set(models.KeyOperation, models.OpPlayAssetInStream).
		Set(models.KeyAssetID, strconv.Itoa(assetID))
}

// RequestStream builds request_stream for the selected listen options.
func (f *Factory) RequestStream(sel *tags.List) *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelRequestStream).
		Set(models.KeyOperation, models.OpRequestStream).
		Set(models.KeyAudioBitrate, AudioBitrate)
	addTags(a, sel)
	return f.addCoordinates(a)
}

// ModifyStream builds modify_stream. A nil sel only moves the listener.
func (f *Factory) ModifyStream(sel *tags.List) *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelModifyStream).
		Set(models.KeyOperation, models.OpModifyStream)
	f.addCoordinates(a)
	addTags(a, sel)
	return a
}

// CreateEnvelope builds create_envelope for the selected speak options.
func (f *Factory) CreateEnvelope(sel *tags.List) *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelAnnounceRecording).
		Set(models.KeyOperation, models.OpCreateEnvelope)
	addTags(a, sel)
	return f.addCoordinates(a)
}

// CreateEnvelopeForTags builds create_envelope from a comma separated list of
// option ids, as stored on a queued upload.
func (f *Factory) CreateEnvelopeForTags(tagIDs string) *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelAnnounceRecording).
		Set(models.KeyOperation, models.OpCreateEnvelope).
		Set(models.KeyTags, tagIDs)
	return f.addCoordinates(a)
}

// AddAssetToEnvelope builds the upload of filename into envelopeID.
// submitted is optional.
func (f *Factory) AddAssetToEnvelope(sel *tags.List, envelopeID, filename, submitted string) *models.Action {
	a := f.base(true).
		Set(models.KeyLabel, LabelUploadRecording).
		Set(models.KeyOperation, models.OpAddAssetToEnvelope).
		Set(models.KeyEnvelopeID, envelopeID).
		Set(models.KeyFilename, filename).
		Set(models.KeySubmitted, submitted)
	addTags(a, sel)
	return f.addCoordinates(a)
}

func (f *Factory) addCoordinates(a *models.Action) *models.Action {
	if !f.env.Configuration().IsUsingLocation() {
		return a
	}
	loc, ok := f.env.LastLocation()
	if !ok {
		return a
	}
	if !math.IsNaN(loc.Latitude) && !math.IsNaN(loc.Longitude) {
		a.Set(models.KeyLatitude, fmt.Sprintf("%.6f", loc.Latitude))
		a.Set(models.KeyLongitude, fmt.Sprintf("%.6f", loc.Longitude))
	}
	return a.Set(models.KeyAccuracy, fmt.Sprintf("%.1f", loc.Accuracy)).
		Set(models.KeyLocationProvider, loc.Provider)
}

func addTags(a *models.Action, sel *tags.List) {
	if sel == nil || sel.Len() == 0 {
		return
	}
	a.Set(models.KeyTags, sel.SelectedTagIDs())
}

// Language returns the two letter language of the process locale.
func Language() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, "_.@"); i > 0 {
			v = v[:i]
		}
		return strings.ToLower(v)
	}
	return "en"
}
