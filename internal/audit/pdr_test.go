package audit

import (
	"testing"

	"github.com/fentz26/rwclient/internal/models"
)

type memLog struct {
	entries []models.RequestLogEntry
}

func (m *memLog) WriteRequestLog(operation, inputsHash, outcome, sessionID, details string) (*models.RequestLogEntry, error) {
	e := models.RequestLogEntry{Operation: operation, InputsHash: inputsHash, Outcome: outcome, SessionID: sessionID, Details: details}
	m.entries = append(m.entries, e)
	return &e, nil
}

func TestRecordHashesServerProperties(t *testing.T) {
	log := &memLog{}
	r := NewRecorder(log)

	a := models.NewAction().
		Set(models.KeyOperation, models.OpHeartbeat).
		Set(models.KeySessionID, "77").
		Set(models.KeyLabel, "internal")
	b := a.Clone().Set(models.KeyLabel, "different label")

	if _, err := r.Record(a, OutcomeSuccess, ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := r.Record(b, OutcomeFailure, "timeout"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(log.entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(log.entries))
	}
	if log.entries[0].Operation != models.OpHeartbeat || log.entries[0].SessionID != "77" {
		t.Errorf("Unexpected entry: %+v", log.entries[0])
	}
	if log.entries[0].InputsHash != log.entries[1].InputsHash {
		t.Error("Internal parameters must not affect the inputs hash")
	}
	if log.entries[1].Details != "timeout" {
		t.Errorf("Expected details to be kept, got %q", log.entries[1].Details)
	}
}

func TestHashInputs(t *testing.T) {
	h1 := HashInputs(map[string]string{"a": "1"})
	h2 := HashInputs(map[string]string{"a": "2"})
	if h1 == h2 {
		t.Error("Different inputs should hash differently")
	}
	if len(h1) != 64 {
		t.Errorf("Expected hex sha256, got %q", h1)
	}
	if HashInputs(func() {}) != "hash_error" {
		t.Error("Unmarshalable inputs should yield hash_error")
	}
}
