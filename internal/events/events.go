// Package events is the typed publish/subscribe channel between the session
// coordinator and its observers.
package events

import "github.com/fentz26/rwclient/internal/models"

// Kind identifies an event type.
type Kind string

// ── Event kinds ───────────────────────────────────────────────────────────────
const (
	// Session lifecycle.
	KindStateChanged   Kind = "session.state_changed"
	KindSessionOnline  Kind = "session.online"
	KindSessionOffline Kind = "session.offline"

	// Data retrieval.
	KindConfigurationLoaded Kind = "config.loaded"
	KindNoConfiguration     Kind = "config.none"
	KindTagsLoaded          Kind = "tags.loaded"
	KindNoTags              Kind = "tags.none"
	KindContentDownloading  Kind = "content.downloading"
	KindContentLoaded       Kind = "content.loaded"
	KindNoContent           Kind = "content.none"

	// Per-operation results.
	KindOperationSucceeded Kind = "op.success"
	KindOperationFailed    Kind = "op.failure"
	KindOperationQueued    Kind = "op.queued"
	KindQueueChanged       Kind = "queue.changed"
	KindHeartbeatSent      Kind = "heartbeat.sent"

	// Messages embedded in server responses.
	KindUserMessage    Kind = "message.user"
	KindErrorMessage   Kind = "message.error"
	KindSharingMessage Kind = "message.sharing"

	// Playback and location.
	KindStreamMetadataUpdated Kind = "stream.metadata"
	KindUnableToPlay          Kind = "stream.unable_to_play"
	KindLocationUpdated       Kind = "location.updated"
)

// Event is implemented by every payload type.
type Event interface {
	Kind() Kind
}

// StateChanged is published on every real session state transition.
type StateChanged struct {
	From models.SessionState `json:"from"`
	To   models.SessionState `json:"to"`
}

// SessionOnline is published on entering ON_LINE.
type SessionOnline struct{}

// SessionOffline is published on entering OFF_LINE.
type SessionOffline struct{}

// ConfigurationLoaded carries where the configuration came from.
type ConfigurationLoaded struct {
	Source models.DataSource `json:"source"`
}

// NoConfiguration is published when neither the server nor the cache had a configuration.
type NoConfiguration struct {
	Reason string `json:"reason,omitempty"`
}

// TagsLoaded carries where the tag catalog came from.
type TagsLoaded struct {
	Source models.DataSource `json:"source"`
	Count  int               `json:"count"`
}

// NoTags is published when neither the server nor the cache had a tag catalog.
type NoTags struct {
	Reason string `json:"reason,omitempty"`
}

// ContentDownloading reports content download progress.
type ContentDownloading struct {
	BytesProcessed int64 `json:"bytes_processed"`
	TotalBytes     int64 `json:"total_bytes"`
}

// ContentLoaded is published when content files are present and current.
type ContentLoaded struct {
	Dir string `json:"dir,omitempty"`
}

// NoContent is published when a required content download failed.
type NoContent struct {
	Reason string `json:"reason"`
}

// OperationSucceeded is published after a server call returned successfully.
type OperationSucceeded struct {
	Operation  string            `json:"operation"`
	Properties map[string]string `json:"properties"`
	Response   string            `json:"response,omitempty"`
}

// OperationFailed is published after a server call failed.
type OperationFailed struct {
	Operation  string            `json:"operation"`
	Properties map[string]string `json:"properties"`
	Reason     string            `json:"reason"`
	Class      string            `json:"class"`
	Message    string            `json:"message"`
}

// OperationQueued is published when an action was persisted for later delivery.
type OperationQueued struct {
	Operation  string            `json:"operation"`
	Properties map[string]string `json:"properties"`
	QueueID    int64             `json:"queue_id"`
}

// QueueChanged carries the pending action count.
type QueueChanged struct {
	Size int `json:"size"`
}

// HeartbeatSent is published after a heartbeat was performed.
type HeartbeatSent struct{}

// UserMessage is a message for the user embedded in a server response.
type UserMessage struct {
	Message string `json:"message"`
}

// ErrorMessage is an error reported in a server response body.
type ErrorMessage struct {
	Message string `json:"message"`
}

// SharingMessage is published after a successful direct submission.
type SharingMessage struct {
	Message    string   `json:"message"`
	URL        string   `json:"url"`
	EnvelopeID string   `json:"envelope_id"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
}

// StreamMetadataUpdated is published when the estimated audible asset changes.
type StreamMetadataUpdated struct {
	CurrentAssetID  int    `json:"current_asset_id"`
	PreviousAssetID int    `json:"previous_asset_id"`
	Title           string `json:"title"`
}

// UnableToPlay is published when no stream could be started.
type UnableToPlay struct {
	Reason string `json:"reason"`
}

// LocationUpdated carries a new location fix.
type LocationUpdated struct {
	Location models.Location `json:"location"`
}

func (StateChanged) Kind() Kind          { return KindStateChanged }
func (SessionOnline) Kind() Kind         { return KindSessionOnline }
func (SessionOffline) Kind() Kind        { return KindSessionOffline }
func (ConfigurationLoaded) Kind() Kind   { return KindConfigurationLoaded }
func (NoConfiguration) Kind() Kind       { return KindNoConfiguration }
func (TagsLoaded) Kind() Kind            { return KindTagsLoaded }
func (NoTags) Kind() Kind                { return KindNoTags }
func (ContentDownloading) Kind() Kind    { return KindContentDownloading }
func (ContentLoaded) Kind() Kind         { return KindContentLoaded }
func (NoContent) Kind() Kind             { return KindNoContent }
func (OperationSucceeded) Kind() Kind    { return KindOperationSucceeded }
func (OperationFailed) Kind() Kind       { return KindOperationFailed }
func (OperationQueued) Kind() Kind       { return KindOperationQueued }
func (QueueChanged) Kind() Kind          { return KindQueueChanged }
func (HeartbeatSent) Kind() Kind         { return KindHeartbeatSent }
func (UserMessage) Kind() Kind           { return KindUserMessage }
func (ErrorMessage) Kind() Kind          { return KindErrorMessage }
func (SharingMessage) Kind() Kind        { return KindSharingMessage }
func (StreamMetadataUpdated) Kind() Kind { return KindStreamMetadataUpdated }
func (UnableToPlay) Kind() Kind          { return KindUnableToPlay }
func (LocationUpdated) Kind() Kind       { return KindLocationUpdated }
