// Package record defines the patient record snapshot exchanged between the
// external form layer and the sync engine. The engine treats a snapshot as an
// immutable byte payload: it never inspects or mutates the clinical content.
package record

import (
	"context"
	"errors"
	"time"
)

var ErrNoActiveRecord = errors.New("no active record")

// Snapshot is one serialized save of a patient record: a JSON document plus
// an optional binary artifact (the rendered chart PDF). Produced by the form
// layer on every save action.
type Snapshot struct {
	RecordID      string    `json:"record_id"`
	JSONContent   string    `json:"json_content"`
	BinaryContent []byte    `json:"binary_content,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasBinary reports whether the snapshot carries a binary artifact.
func (s Snapshot) HasBinary() bool {
	return len(s.BinaryContent) > 0
}

// JSONFileName returns the deterministic remote name for the JSON document.
func (s Snapshot) JSONFileName() string {
	return s.RecordID + ".json"
}

// BinaryFileName returns the deterministic remote name for the chart PDF.
func (s Snapshot) BinaryFileName() string {
	return s.RecordID + "_Chart.pdf"
}

// Provider supplies the current snapshot on demand. Implemented by the
// external form state container; the engine only reads through it.
type Provider interface {
	CurrentSnapshot(ctx context.Context) (Snapshot, error)
}
