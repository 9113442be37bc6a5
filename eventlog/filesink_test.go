package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	sink, err := NewFileSink(FileConfig{Path: path}, nil)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	ev := New(42, SeverityInfo, "device added: sw1.example.com")
	if err := sink.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.DeviceID != 42 || got.Severity != SeverityInfo || got.Message != ev.Message {
		t.Fatalf("got %+v", got)
	}
	if got.ID != ev.ID {
		t.Fatalf("ID round trip: %s != %s", got.ID, ev.ID)
	}
}

func TestFileSinkRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	sink, err := NewFileSink(FileConfig{Path: path, MaxBytes: 200, MaxBackups: 2}, nil)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	for i := 0; i < 10; i++ {
		ev := New(0, SeverityInfo, strings.Repeat("x", 80))
		if err := sink.Record(context.Background(), ev); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected rotated backup: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backup beyond MaxBackups survived: %v", err)
	}
}

type recordingStore struct {
	events []Event
	fail   bool
}

func (r *recordingStore) InsertEvent(_ context.Context, ev Event) error {
	if r.fail {
		return errors.New("insert failed")
	}
	r.events = append(r.events, ev)
	return nil
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	good := &recordingStore{}
	bad := &recordingStore{fail: true}
	sink := MultiSink{NewStoreSink(bad), NewStoreSink(good)}

	err := sink.Record(context.Background(), New(7, SeverityWarning, "dup"))
	if err == nil {
		t.Fatal("want joined error from failing sink")
	}
	if len(good.events) != 1 {
		t.Fatalf("good sink got %d events, want 1", len(good.events))
	}
}
