package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/tunnel"
)

func TestMain(m *testing.M) {
	common.SilenceForTests()
	os.Exit(m.Run())
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := []tunnel.Status{
		{State: tunnel.StateConnecting, Text: "Connecting to lab...", Time: base},
		{State: tunnel.StateConnected, Text: "Connected via sshuttle: lab", Connected: true, Time: base.Add(4 * time.Second)},
		{State: tunnel.StateIdle, Text: "Disconnected", Time: base.Add(time.Hour)},
	}
	for _, st := range statuses {
		if err := s.Record(ctx, st); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	events, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent(2) returned %d events", len(events))
	}
	if events[0].Text != "Disconnected" || events[0].State != "Disconnected" {
		t.Errorf("newest event = %+v", events[0])
	}
	if !events[1].Connected || !events[1].Time.Equal(base.Add(4*time.Second)) {
		t.Errorf("second event = %+v", events[1])
	}

	if events, _ := s.Recent(ctx, 0); len(events) != 0 {
		t.Errorf("Recent(0) = %v", events)
	}
}

func TestStore_Prune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, tunnel.Status{Text: "old", Time: now.Add(-48 * time.Hour)})
	s.Record(ctx, tunnel.Status{Text: "new", Time: now})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune() = %d, %v", n, err)
	}
	events, _ := s.Recent(ctx, 10)
	if len(events) != 1 || events[0].Text != "new" {
		t.Errorf("remaining = %+v", events)
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	s.Record(ctx, tunnel.Status{Text: "kept"})
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	events, _ := s.Recent(ctx, 1)
	if len(events) != 1 || events[0].Text != "kept" {
		t.Errorf("events after reopen = %+v", events)
	}
}

func TestSink_FlushesOnClose(t *testing.T) {
	s := openTemp(t)
	sink := NewSink(s, 8)

	sink.Report(tunnel.Status{Text: "one"})
	sink.Report(tunnel.Status{Text: "two"})
	sink.Close()
	sink.Report(tunnel.Status{Text: "after close"})
	sink.Close()

	events, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("recorded %d events, want 2: %+v", len(events), events)
	}
}
