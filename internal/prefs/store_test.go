package prefs

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadBeforeAnySaveReturnsDefaults(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !p.TTSEnabled {
		t.Fatalf("TTSEnabled default = false, want true")
	}
	if p.Wakeword.Model != "hey_jarvis" || p.Wakeword.Enabled {
		t.Fatalf("unexpected wakeword defaults: %+v", p.Wakeword)
	}
	if p.ToolsEnabled == nil {
		t.Fatalf("ToolsEnabled should never be nil")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	p := Default()
	p.Model = "qwen3:8b"
	p.Voice = "af_heart"
	p.TTSEnabled = false
	p.GlobalRules = "be brief"
	p.ToolsEnabled["web_search"] = true
	p.ToolsEnabled["run_command"] = false
	p.Wakeword.Enabled = true
	p.ConversationID = "c-42"

	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	// Reopen to prove the values survive the process, not just the handle.
	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() reopen error = %v", err)
	}
	defer s2.Close()

	got, err := s2.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Model != "qwen3:8b" || got.Voice != "af_heart" || got.TTSEnabled {
		t.Fatalf("unexpected prefs: %+v", got)
	}
	if !got.ToolsEnabled["web_search"] || got.ToolsEnabled["run_command"] {
		t.Fatalf("unexpected tool flags: %+v", got.ToolsEnabled)
	}
	if !got.Wakeword.Enabled || got.ConversationID != "c-42" {
		t.Fatalf("unexpected prefs: %+v", got)
	}
}

func TestSaveOverwritesPreviousValues(t *testing.T) {
	s := newTestStore(t)

	p := Default()
	p.Model = "first"
	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	p.Model = "second"
	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Model != "second" {
		t.Fatalf("Model = %q, want %q", got.Model, "second")
	}
}
