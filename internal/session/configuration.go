// Package session holds the server-provided project and session configuration.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/google/uuid"
)

// CachedSessionID replaces the session id when configuration comes from the cache.
const CachedSessionID = "-1"

// ErrInvalidJSON is returned when a configuration payload cannot be parsed.
var ErrInvalidJSON = errors.New("invalid configuration json")

// Section names in the configuration payload.
const (
	sectionDevice  = "device"
	sectionSession = "session"
	sectionProject = "project"
	sectionServer  = "server"
)

// Configuration is the project and session configuration of a client.
type Configuration struct {
	DataSource models.DataSource `json:"-"`

	DeviceID      string `json:"device_id"`
	SessionID     string `json:"session_id"`
	ProjectID     string `json:"project_id"`
	ProjectName   string `json:"project_name"`
	ServerVersion string `json:"server_version"`

	HeartbeatTimerSec               int     `json:"heartbeat_timer"`
	QueueCheckIntervalSec           int     `json:"queue_check_interval_sec"`
	StreamMetadataTimerIntervalMSec int     `json:"stream_metadata_timer_interval_msec"`
	MaxRecordingLengthSec           int     `json:"max_recording_length"`
	MinLocationUpdateTimeMSec       int64   `json:"min_location_update_time_msec"`
	MinLocationUpdateDistanceMeter  float64 `json:"min_location_update_distance_meter"`
	HTTPTimeoutSec                  int     `json:"http_timeout_sec"`

	SharingMessage string `json:"sharing_message"`
	SharingURL     string `json:"sharing_url"`
	LegalAgreement string `json:"legal_agreement"`

	DynamicListenTags         bool `json:"listen_questions_dynamic"`
	DynamicSpeakTags          bool `json:"speak_questions_dynamic"`
	ListenEnabled             bool `json:"listen_enabled"`
	SpeakEnabled              bool `json:"speak_enabled"`
	GeoListenEnabled          bool `json:"geo_listen_enabled"`
	GeoSpeakEnabled           bool `json:"geo_speak_enabled"`
	ResetTagDefaultsOnStartup bool `json:"reset_tag_defaults_on_startup"`
	StreamMetadataEnabled     bool `json:"stream_metadata_enabled"`

	FilesURL     string `json:"files_url"`
	FilesVersion int    `json:"files_version"`
}

// New returns a configuration populated with defaults.
func New() *Configuration {
	return &Configuration{
		DataSource:                      models.SourceDefaults,
		DeviceID:                        uuid.New().String(),
		HeartbeatTimerSec:               15,
		QueueCheckIntervalSec:           60,
		StreamMetadataTimerIntervalMSec: 2000,
		MaxRecordingLengthSec:           30,
		MinLocationUpdateTimeMSec:       60000,
		MinLocationUpdateDistanceMeter:  5.0,
		HTTPTimeoutSec:                  45,
		ListenEnabled:                   true,
		SpeakEnabled:                    true,
		ResetTagDefaultsOnStartup:       true,
		FilesVersion:                    -1,
	}
}

// Clone returns a copy that can be read without synchronization.
func (c *Configuration) Clone() *Configuration {
	cp := *c
	return &cp
}

// IsUsingLocation reports whether requests should carry the device location.
func (c *Configuration) IsUsingLocation() bool {
	return c.GeoListenEnabled || c.DynamicListenTags || c.GeoSpeakEnabled || c.DynamicSpeakTags
}

// HasSession reports whether a server session id is known.
func (c *Configuration) HasSession() bool {
	return c.SessionID != "" && c.SessionID != CachedSessionID
}

// ApplyJSON overrides every field present in data. Fields that are absent keep
// their current value. data may be an object keyed by section name or an
// array of such objects. On error the configuration is left untouched.
func (c *Configuration) ApplyJSON(data []byte, source models.DataSource) error {
	sections, err := splitSections(data)
	if err != nil {
		return err
	}

	next := *c
	for _, sec := range sections {
		for name, raw := range sec {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(raw, &fields); err != nil {
				// Non-object sections carry nothing we use.
				continue
			}
			if err := next.applySection(name, fields); err != nil {
				return fmt.Errorf("section %s: %w", name, err)
			}
		}
	}

	next.DataSource = source
	if source == models.SourceFromCache {
		next.SessionID = CachedSessionID
	}
	*c = next
	return nil
}

func splitSections(data []byte) ([]map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrInvalidJSON
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		return []map[string]json.RawMessage{obj}, nil
	case '[':
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		return arr, nil
	default:
		return nil, ErrInvalidJSON
	}
}

func (c *Configuration) applySection(name string, f map[string]json.RawMessage) error {
	r := reader{fields: f}
	switch name {
	case sectionDevice:
		r.asString("device_id", &c.DeviceID)
	case sectionSession:
		r.asString("session_id", &c.SessionID)
	case sectionServer:
		r.asString("version", &c.ServerVersion)
	case sectionProject:
		r.asString("project_id", &c.ProjectID)
		r.asString("project_name", &c.ProjectName)
		r.asInt("heartbeat_timer", &c.HeartbeatTimerSec)
		r.asInt("queue_check_interval_sec", &c.QueueCheckIntervalSec)
		r.asInt("stream_metadata_timer_interval_msec", &c.StreamMetadataTimerIntervalMSec)
		r.asInt("max_recording_length", &c.MaxRecordingLengthSec)
		r.asInt64("min_location_update_time_msec", &c.MinLocationUpdateTimeMSec)
		r.asFloat("min_location_update_distance_meter", &c.MinLocationUpdateDistanceMeter)
		r.asInt("http_timeout_sec", &c.HTTPTimeoutSec)
		r.asString("sharing_message", &c.SharingMessage)
		r.asString("sharing_url", &c.SharingURL)
		r.asString("legal_agreement", &c.LegalAgreement)
		r.asBool("listen_questions_dynamic", &c.DynamicListenTags)
		r.asBool("speak_questions_dynamic", &c.DynamicSpeakTags)
		r.asBool("listen_enabled", &c.ListenEnabled)
		r.asBool("speak_enabled", &c.SpeakEnabled)
		r.asBool("geo_listen_enabled", &c.GeoListenEnabled)
		r.asBool("geo_speak_enabled", &c.GeoSpeakEnabled)
		r.asBool("reset_tag_defaults_on_startup", &c.ResetTagDefaultsOnStartup)
		r.asBool("stream_metadata_enabled", &c.StreamMetadataEnabled)
		r.asString("files_url", &c.FilesURL)
		r.asInt("files_version", &c.FilesVersion)
	}
	return r.err
}

// reader decodes loosely typed JSON values. Servers send numbers as strings and
// ids as numbers, so every accessor accepts both forms.
type reader struct {
	fields map[string]json.RawMessage
	err    error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.fields[key]
	if !ok || r.err != nil {
		return "", false
	}
	s := string(bytes.TrimSpace(v))
	if s == "null" {
		return "", false
	}
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(v, &str); err != nil {
			r.err = fmt.Errorf("%s: %w", key, err)
			return "", false
		}
		return str, true
	}
	return s, true
}

func (r *reader) asString(key string, dst *string) {
	if v, ok := r.raw(key); ok {
		*dst = v
	}
}

func (r *reader) asInt(key string, dst *int) {
	if v, ok := r.raw(key); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = int(n)
	}
}

func (r *reader) asInt64(key string, dst *int64) {
	if v, ok := r.raw(key); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = int64(n)
	}
}

func (r *reader) asFloat(key string, dst *float64) {
	if v, ok := r.raw(key); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = n
	}
}

func (r *reader) asBool(key string, dst *bool) {
	if v, ok := r.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.err = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = b
	}
}
