package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hk", "housekeeping.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.Latest(ctx, "AWG-1"); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("Expected ErrNoRecords, got %v", err)
	}

	for i, freq := range []float64{1000, 2000, 3000} {
		rec := Record{
			Origin:    "AWG-1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Data:      map[string]interface{}{"frequency": freq, "output": "ON"},
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.Save(ctx, Record{Origin: "PSU-1", Timestamp: base.Add(time.Hour), Data: map[string]interface{}{"voltage": 5.0}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, err := s.Latest(ctx, "AWG-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Data["frequency"] != 3000.0 {
		t.Errorf("Expected latest frequency 3000, got %v", latest.Data["frequency"])
	}
	if !latest.Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Expected timestamp %v, got %v", base.Add(2*time.Second), latest.Timestamp)
	}

	since, err := s.Since(ctx, "AWG-1", base.Add(time.Second))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(since) != 2 || since[0].Data["frequency"] != 2000.0 {
		t.Errorf("Unexpected records since: %+v", since)
	}
}

func TestSaveValidation(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(context.Background(), Record{Data: map[string]interface{}{}}); err == nil {
		t.Error("Expected error for missing origin")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, Record{Origin: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	var nilStore *Store
	if err := nilStore.Save(context.Background(), Record{Origin: "x"}); err == nil {
		t.Error("Expected error for nil store")
	}
	if err := nilStore.Close(); err != nil {
		t.Errorf("Expected nil Close on nil store, got %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestSaveDefaultsTimestamp(t *testing.T) {
	s := openTestStore(t)
	before := time.Now().Add(-time.Second)
	if err := s.Save(context.Background(), Record{Origin: "PSU-1", Data: map[string]interface{}{"current": 0.5}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.Latest(context.Background(), "PSU-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Timestamp.Before(before) {
		t.Errorf("Expected current timestamp, got %v", rec.Timestamp)
	}
}
