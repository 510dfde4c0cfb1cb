package urlconf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Save("https://abc123.ngrok-free.app/"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Trailing slash is normalized away so endpoint paths can be appended.
	if got != "https://abc123.ngrok-free.app" {
		t.Errorf("Load = %q", got)
	}
}

func TestSaveReplacesPreviousRecord(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save("https://old.example.com"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save("https://new.example.com"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != "https://new.example.com" {
		t.Errorf("Load = %q", got)
	}
}

func TestLoadMissingRecordFails(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nothing-here"))
	if _, err := s.Load(); err == nil {
		t.Error("expected error for missing record")
	}
}

func TestSaveRejectsEmptyURL(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save("   "); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestDiscoverNgrokPicksHTTPSTunnel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tunnels":[
			{"public_url":"http://abc.ngrok-free.app","proto":"http"},
			{"public_url":"https://abc.ngrok-free.app","proto":"https"}
		]}`))
	}))
	defer srv.Close()

	url, err := DiscoverNgrok(context.Background(), srv.URL, 1, 0)
	if err != nil {
		t.Fatalf("DiscoverNgrok failed: %v", err)
	}
	if url != "https://abc.ngrok-free.app" {
		t.Errorf("DiscoverNgrok = %q", url)
	}
}

func TestDiscoverNgrokRetriesUntilTunnelAppears(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte(`{"tunnels":[]}`))
			return
		}
		w.Write([]byte(`{"tunnels":[{"public_url":"https://late.ngrok-free.app","proto":"https"}]}`))
	}))
	defer srv.Close()

	url, err := DiscoverNgrok(context.Background(), srv.URL, 5, time.Millisecond)
	if err != nil {
		t.Fatalf("DiscoverNgrok failed: %v", err)
	}
	if url != "https://late.ngrok-free.app" {
		t.Errorf("DiscoverNgrok = %q", url)
	}
	if calls != 3 {
		t.Errorf("expected 3 queries, got %d", calls)
	}
}

func TestDiscoverNgrokGivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tunnels":[]}`))
	}))
	defer srv.Close()

	if _, err := DiscoverNgrok(context.Background(), srv.URL, 2, 0); err == nil {
		t.Error("expected error after exhausting attempts")
	}
}
