// Package audit records every performed server request for later inspection.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/rwclient/internal/models"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeQueued  = "queued"
)

// LogWriter persists request log entries.
type LogWriter interface {
	WriteRequestLog(operation, inputsHash, outcome, sessionID, details string) (*models.RequestLogEntry, error)
}

// Recorder writes request log entries.
type Recorder struct {
	w LogWriter
}

// NewRecorder creates a new recorder.
func NewRecorder(w LogWriter) *Recorder {
	return &Recorder{w: w}
}

// Record writes an entry for a. Only the server-bound parameters are hashed.
func (r *Recorder) Record(a *models.Action, outcome, details string) (*models.RequestLogEntry, error) {
	return r.w.WriteRequestLog(a.Operation(), HashInputs(a.ServerProperties()), outcome, a.SessionID(), details)
}

// HashInputs creates a SHA256 hash of the inputs.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
