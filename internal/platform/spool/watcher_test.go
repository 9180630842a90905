package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/record"
)

func collectSnapshots(buf chan record.Snapshot) Handler {
	return func(snap record.Snapshot) { buf <- snap }
}

func awaitSnapshot(t *testing.T, buf chan record.Snapshot) record.Snapshot {
	t.Helper()
	select {
	case snap := <-buf:
		return snap
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return record.Snapshot{}
	}
}

func TestWatcher_DeliversWrittenSnapshot(t *testing.T) {
	dir := t.TempDir()
	buf := make(chan record.Snapshot, 4)

	w, err := NewWatcher(dir, 20*time.Millisecond, collectSnapshots(buf), zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "P1.json"), []byte(`{"name":"test"}`), 0o644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}

	snap := awaitSnapshot(t, buf)
	if snap.RecordID != "P1" {
		t.Errorf("expected record P1, got %s", snap.RecordID)
	}
	if snap.JSONContent != `{"name":"test"}` {
		t.Errorf("unexpected content: %s", snap.JSONContent)
	}
	if snap.HasBinary() {
		t.Error("expected no binary artifact")
	}
}

func TestWatcher_PairsChartWithJSON(t *testing.T) {
	dir := t.TempDir()
	buf := make(chan record.Snapshot, 4)

	w, err := NewWatcher(dir, 20*time.Millisecond, collectSnapshots(buf), zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "P2.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "P2_Chart.pdf"), []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	// Both writes land inside one debounce window and settle into a single
	// (or occasionally two) deliveries; the last one must carry the pair.
	snap := awaitSnapshot(t, buf)
	for snap.RecordID == "P2" && !snap.HasBinary() {
		snap = awaitSnapshot(t, buf)
	}
	if snap.RecordID != "P2" || string(snap.BinaryContent) != "%PDF" {
		t.Errorf("expected paired snapshot, got %+v", snap)
	}
}

func TestWatcher_ReplaysExistingSpoolOnStart(t *testing.T) {
	dir := t.TempDir()
	// A save written while the engine was down.
	if err := os.WriteFile(filepath.Join(dir, "P3.json"), []byte(`{"offline":true}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make(chan record.Snapshot, 4)
	w, err := NewWatcher(dir, 20*time.Millisecond, collectSnapshots(buf), zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	snap := awaitSnapshot(t, buf)
	if snap.RecordID != "P3" {
		t.Errorf("expected replay of P3, got %s", snap.RecordID)
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	buf := make(chan record.Snapshot, 4)

	w, err := NewWatcher(dir, 20*time.Millisecond, collectSnapshots(buf), zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case snap := <-buf:
		t.Fatalf("unexpected delivery for unrelated file: %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRecordIDFromFile(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{"P1.json", "P1", true},
		{"P1_Chart.pdf", "P1", true},
		{"notes.txt", "", false},
		{"chart.pdf", "", false},
	}
	for _, tt := range tests {
		id, ok := recordIDFromFile(tt.name)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("recordIDFromFile(%q) = %q, %v; want %q, %v", tt.name, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
