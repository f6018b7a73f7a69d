// Package models defines the core domain types for rwclient.
package models

import "time"

// SessionState is the state of the session coordinator.
type SessionState string

const (
	StateUninitialized SessionState = "UNINITIALIZED"
	StateInitializing  SessionState = "INITIALIZING"
	StateOnLine        SessionState = "ON_LINE"
	StateOffLine       SessionState = "OFF_LINE"
)

// DataSource tells where configuration or tag data came from.
type DataSource string

const (
	SourceDefaults   DataSource = "DEFAULTS"
	SourceFromCache  DataSource = "FROM_CACHE"
	SourceFromServer DataSource = "FROM_SERVER"
)

// Location is a position fix as reported by a location provider.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Provider  string    `json:"provider"`
	Time      time.Time `json:"time"`
}

// ContentFilesInfo describes the last successfully downloaded content bundle.
type ContentFilesInfo struct {
	URL     string `json:"url"`
	Version int    `json:"version"`
	Dir     string `json:"dir"`
}

// QueueEntry is a summary of a persisted action, as shown by the API.
type QueueEntry struct {
	ID        int64     `json:"id"`
	Operation string    `json:"operation"`
	Label     string    `json:"label,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestLogEntry records one performed server request.
type RequestLogEntry struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SessionID  string    `json:"session_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status is a snapshot of the coordinator exposed over the local API.
type Status struct {
	State               SessionState `json:"state"`
	SessionID           string       `json:"session_id"`
	ProjectID           string       `json:"project_id"`
	ProjectName         string       `json:"project_name,omitempty"`
	ConfigSource        DataSource   `json:"config_source"`
	TagsSource          DataSource   `json:"tags_source"`
	QueueSize           int          `json:"queue_size"`
	Playing             bool         `json:"playing"`
	StaticSoundtrack    bool         `json:"static_soundtrack"`
	Connected           bool         `json:"connected"`
	OnlyConnectOverWifi bool         `json:"only_connect_over_wifi"`
	CurrentAssetID      int          `json:"current_asset_id"`
	LastStateChange     time.Time    `json:"last_state_change"`
	LastRequest         time.Time    `json:"last_request,omitempty"`
	NotificationText    string       `json:"notification_text,omitempty"`
}
