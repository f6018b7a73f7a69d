package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Parameter keys shared by the action factory, the queue and the coordinator.
// Keys starting with InternalPrefix never leave the client.
const (
	InternalPrefix = "_"

	KeyLabel     = "_label"
	KeyServerURL = "_url"
	KeyFilename  = "_filename"

	KeyOperation        = "operation"
	KeyProjectID        = "project_id"
	KeySessionID        = "session_id"
	KeyDeviceID         = "device_id"
	KeyEnvelopeID       = "envelope_id"
	KeyTags             = "tags"
	KeyLatitude         = "latitude"
	KeyLongitude        = "longitude"
	KeyAccuracy         = "accuracy"
	KeyLocationProvider = "location_provider"
	KeyClientType       = "client_type"
	KeyClientSystem     = "client_system"
	KeyLanguage         = "language"
	KeyEventType        = "event_type"
	KeyClientTime       = "client_time"
	KeyData             = "data"
	KeyAssetID          = "asset_id"
	KeyVoteType         = "vote_type"
	KeyVoteValue        = "vote_value"
	KeyAudioBitrate     = "audio_bitrate"
	KeySubmitted        = "submitted"
)

// Server operations.
const (
	OpGetConfig                = "get_config"
	OpGetTags                  = "get_tags"
	OpHeartbeat                = "heartbeat"
	OpLogEvent                 = "log_event"
	OpGetCurrentStreamingAsset = "get_current_streaming_asset"
	OpGetAssetInfo             = "get_asset_info"
	OpVoteAsset                = "vote_asset"
	OpSkipAhead                = "skip_ahead"
	OpPlayAssetInStream        = "play_asset_in_stream"
	OpRequestStream            = "request_stream"
	OpModifyStream             = "modify_stream"
	OpCreateEnvelope           = "create_envelope"
	OpAddAssetToEnvelope       = "add_asset_to_envelope"
)

// NoEnvelope marks an upload whose envelope has not been created yet.
const NoEnvelope = "-1"

// Action is one outbound server request.
type Action struct {
	ID         int64             `json:"id,omitempty"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAction returns an empty action.
func NewAction() *Action {
	return &Action{
		Properties: make(map[string]string),
		CreatedAt:  time.Now().UTC(),
	}
}

// Set stores a parameter and returns the action for chaining.
// Empty values are ignored.
func (a *Action) Set(key, value string) *Action {
	if value == "" {
		return a
	}
	if a.Properties == nil {
		a.Properties = make(map[string]string)
	}
	a.Properties[key] = value
	return a
}

// Replace stores a parameter, or removes it when value is empty.
func (a *Action) Replace(key, value string) *Action {
	if value == "" {
		delete(a.Properties, key)
		return a
	}
	return a.Set(key, value)
}

// Get returns a parameter or "".
func (a *Action) Get(key string) string {
	return a.Properties[key]
}

// ServerProperties returns the parameters that are sent to the server.
func (a *Action) ServerProperties() map[string]string {
	out := make(map[string]string, len(a.Properties))
	for k, v := range a.Properties {
		if strings.HasPrefix(k, InternalPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a deep copy.
func (a *Action) Clone() *Action {
	c := &Action{ID: a.ID, CreatedAt: a.CreatedAt, Properties: make(map[string]string, len(a.Properties))}
	for k, v := range a.Properties {
		c.Properties[k] = v
	}
	return c
}

func (a *Action) Operation() string  { return a.Get(KeyOperation) }
func (a *Action) SessionID() string  { return a.Get(KeySessionID) }
func (a *Action) ProjectID() string  { return a.Get(KeyProjectID) }
func (a *Action) EnvelopeID() string { return a.Get(KeyEnvelopeID) }
func (a *Action) Filename() string   { return a.Get(KeyFilename) }
func (a *Action) Caption() string    { return a.Get(KeyLabel) }
func (a *Action) URL() string        { return a.Get(KeyServerURL) }

// SelectedTags returns the comma separated option ids the action was built with.
func (a *Action) SelectedTags() string { return a.Get(KeyTags) }

// IsUpload reports whether the action carries a file.
func (a *Action) IsUpload() bool { return a.Filename() != "" }

// Latitude returns the latitude parameter, if any.
func (a *Action) Latitude() (float64, bool) { return a.float(KeyLatitude) }

// Longitude returns the longitude parameter, if any.
func (a *Action) Longitude() (float64, bool) { return a.float(KeyLongitude) }

// Accuracy returns the accuracy parameter, if any.
func (a *Action) Accuracy() (float64, bool) { return a.float(KeyAccuracy) }

func (a *Action) float(key string) (float64, bool) {
	v, ok := a.Properties[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// MarshalProperties encodes the parameter map for persistence.
func (a *Action) MarshalProperties() (string, error) {
	data, err := json.Marshal(a.Properties)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// String renders the server parameters sorted by key, for logs and failure events.
func (a *Action) String() string {
	props := a.ServerProperties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
	}
	return sb.String()
}
