package controller

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rg1989/local-ai-voice-chat/internal/capture"
	"github.com/rg1989/local-ai-voice-chat/internal/prefs"
	"github.com/rg1989/local-ai-voice-chat/internal/protocol"
)

// eventLog records actions across all fakes so tests can assert ordering.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

type fakeConn struct {
	log *eventLog
}

func (f *fakeConn) IsConnected() bool         { return true }
func (f *fakeConn) SendAudioChunk(pcm []byte) { f.log.add("audio_chunk") }
func (f *fakeConn) SendText(text string)      { f.log.add("text:" + text) }
func (f *fakeConn) SendStop()                 { f.log.add("stop") }
func (f *fakeConn) SendClearHistory()         { f.log.add("clear_history") }
func (f *fakeConn) SetVoice(v string)         { f.log.add("set_voice:" + v) }
func (f *fakeConn) SetModel(m string)         { f.log.add("set_model:" + m) }
func (f *fakeConn) SetConversation(id string) {
	f.log.add("set_conversation:" + id)
}
func (f *fakeConn) SetTTSEnabled(enabled bool) {
	f.log.add(fmt.Sprintf("set_tts_enabled:%t", enabled))
}
func (f *fakeConn) SetCustomRules(r string) { f.log.add("set_custom_rules:" + r) }
func (f *fakeConn) SetGlobalRules(r string) { f.log.add("set_global_rules:" + r) }
func (f *fakeConn) SetToolEnabled(name string, enabled bool) {
	f.log.add(fmt.Sprintf("set_tool_enabled:%s=%t", name, enabled))
}
func (f *fakeConn) SetWakewordSettings(s protocol.WakewordConfig) {
	f.log.add(fmt.Sprintf("set_wakeword_settings:%t", s.Enabled))
}
func (f *fakeConn) RequestTools()            { f.log.add("get_tools") }
func (f *fakeConn) RequestWakewordSettings() { f.log.add("get_wakeword_settings") }
func (f *fakeConn) RequestMemories()         { f.log.add("get_memories") }
func (f *fakeConn) AddMemory(content string) { f.log.add("add_memory:" + content) }
func (f *fakeConn) DeleteMemory(id string)   { f.log.add("delete_memory:" + id) }
func (f *fakeConn) UpdateMemory(id, content string) {
	f.log.add("update_memory:" + id)
}

type fakeCapture struct {
	log      *eventLog
	mu       sync.Mutex
	active   bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeCapture) Start(sink capture.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	f.starts++
	f.log.add("capture_start")
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.stops++
		f.log.add("capture_stop")
	}
	f.active = false
}

func (f *fakeCapture) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type fakePlayback struct {
	log      *eventLog
	mu       sync.Mutex
	enqueued []string
	clears   int
}

func (f *fakePlayback) Enqueue(encoded string, sampleRate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, encoded)
	f.log.add("playback_enqueue")
	return nil
}

func (f *fakePlayback) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.log.add("playback_clear")
}

type fakeStore struct {
	mu    sync.Mutex
	saved []prefs.Preferences
}

func (f *fakeStore) Save(p prefs.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
	return nil
}

type harness struct {
	log      *eventLog
	conn     *fakeConn
	capture  *fakeCapture
	playback *fakePlayback
	store    *fakeStore
	ctrl     *Controller
}

func newHarness(t *testing.T, initial prefs.Preferences, events Events) *harness {
	t.Helper()
	log := &eventLog{}
	h := &harness{
		log:      log,
		conn:     &fakeConn{log: log},
		capture:  &fakeCapture{log: log},
		playback: &fakePlayback{log: log},
		store:    &fakeStore{},
	}
	h.ctrl = New(h.conn, h.capture, h.playback, h.store, initial, events)
	return h
}

func status(s string) protocol.Status {
	return protocol.Status{Type: protocol.TypeStatus, Status: s}
}

func TestTokenStreamFlushesToOneAssistantMessage(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})

	for _, tok := range []string{"Hel", "lo", " wor", "ld"} {
		h.ctrl.HandleMessage(protocol.ResponseToken{Type: protocol.TypeResponseToken, Token: tok})
	}
	h.ctrl.HandleMessage(protocol.ResponseEnd{Type: protocol.TypeResponseEnd})

	msgs := h.ctrl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != RoleAssistant || msgs[0].Content != "Hello world" {
		t.Fatalf("message = %+v, want assistant %q", msgs[0], "Hello world")
	}
	if got := h.ctrl.Streaming(); got != "" {
		t.Fatalf("accumulator = %q, want empty after flush", got)
	}
}

func TestResponseEndWithEmptyAccumulatorAddsNothing(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	h.ctrl.HandleMessage(protocol.ResponseEnd{Type: protocol.TypeResponseEnd})
	if got := len(h.ctrl.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
}

func TestStoppedStatusFlushesWithMarker(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})

	h.ctrl.HandleMessage(protocol.ResponseToken{Type: protocol.TypeResponseToken, Token: "Partial respons"})
	h.ctrl.HandleMessage(status(protocol.StatusStopped))

	msgs := h.ctrl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != RoleAssistant || msgs[0].Content != "Partial respons [stopped]" {
		t.Fatalf("message = %+v", msgs[0])
	}
	if got := h.ctrl.Streaming(); got != "" {
		t.Fatalf("accumulator = %q, want empty", got)
	}
	if got := h.ctrl.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %q, want idle", got)
	}
}

func TestHistoryClearedWipesEverything(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})

	h.ctrl.HandleMessage(protocol.Transcription{Type: protocol.TypeTranscription, Text: "hi"})
	h.ctrl.HandleMessage(protocol.ResponseToken{Type: protocol.TypeResponseToken, Token: "partial"})
	h.ctrl.HandleMessage(status(protocol.StatusHistoryCleared))

	if got := len(h.ctrl.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
	if got := h.ctrl.Streaming(); got != "" {
		t.Fatalf("accumulator = %q, want empty", got)
	}
}

func TestTranscriptionAppendsUserMessage(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	h.ctrl.HandleMessage(protocol.Transcription{Type: protocol.TypeTranscription, Text: "what time is it"})

	msgs := h.ctrl.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleUser || msgs[0].Content != "what time is it" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ID == "" || msgs[0].Timestamp.IsZero() {
		t.Fatalf("message missing id or timestamp: %+v", msgs[0])
	}
}

func TestReadyStatusDisambiguatesByLocalCaptureFlag(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})

	h.ctrl.HandleMessage(status(protocol.StatusReady))
	if got := h.ctrl.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %q, want idle without capture", got)
	}

	if _, err := h.ctrl.ToggleListening(); err != nil {
		t.Fatalf("ToggleListening() error = %v", err)
	}
	h.ctrl.HandleMessage(status(protocol.StatusReady))
	if got := h.ctrl.Phase(); got != PhaseListening {
		t.Fatalf("phase = %q, want listening with capture active", got)
	}
}

func TestTranscribingStopsCaptureUnlessWakeMode(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	if _, err := h.ctrl.ToggleListening(); err != nil {
		t.Fatalf("ToggleListening() error = %v", err)
	}

	h.ctrl.HandleMessage(status(protocol.StatusTranscribing))
	if h.capture.Active() {
		t.Fatalf("capture should auto-stop on transcribing")
	}
	if got := h.ctrl.Phase(); got != PhaseTranscribing {
		t.Fatalf("phase = %q, want transcribing", got)
	}

	// Wake mode suppresses the auto-stop.
	p := prefs.Default()
	p.Wakeword.Enabled = true
	h2 := newHarness(t, p, Events{})
	if _, err := h2.ctrl.ToggleListening(); err != nil {
		t.Fatalf("ToggleListening() error = %v", err)
	}
	h2.ctrl.HandleMessage(status(protocol.StatusTranscribing))
	if !h2.capture.Active() {
		t.Fatalf("capture should stay active in wake mode")
	}
}

func TestSendTextStopsCaptureFirst(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	if _, err := h.ctrl.ToggleListening(); err != nil {
		t.Fatalf("ToggleListening() error = %v", err)
	}

	h.ctrl.SendText("Hello")

	if h.capture.stops != 1 {
		t.Fatalf("capture stops = %d, want 1", h.capture.stops)
	}
	entries := h.log.list()
	stopIdx, textIdx := -1, -1
	for i, e := range entries {
		if e == "capture_stop" && stopIdx == -1 {
			stopIdx = i
		}
		if e == "text:Hello" {
			textIdx = i
		}
	}
	if stopIdx == -1 || textIdx == -1 || stopIdx > textIdx {
		t.Fatalf("expected capture_stop before text command, log = %v", entries)
	}
}

func TestStopAbortsPlaybackAndCapture(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	if _, err := h.ctrl.ToggleListening(); err != nil {
		t.Fatalf("ToggleListening() error = %v", err)
	}
	h.ctrl.HandleMessage(status(protocol.StatusSpeaking))

	h.ctrl.Stop()

	if h.playback.clears != 1 {
		t.Fatalf("playback clears = %d, want 1", h.playback.clears)
	}
	if h.capture.Active() {
		t.Fatalf("capture still active after Stop")
	}
	if got := h.ctrl.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %q, want idle (forced locally)", got)
	}
	found := false
	for _, e := range h.log.list() {
		if e == "stop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("stop command not sent, log = %v", h.log.list())
	}
}

func TestStopReArmsCaptureInWakeMode(t *testing.T) {
	p := prefs.Default()
	p.Wakeword.Enabled = true
	h := newHarness(t, p, Events{})
	if _, err := h.ctrl.ToggleListening(); err != nil {
		t.Fatalf("ToggleListening() error = %v", err)
	}

	h.ctrl.Stop()

	if !h.capture.Active() {
		t.Fatalf("capture should be re-armed after Stop in wake mode")
	}
	if got := h.ctrl.WakeStatus(); got != WakeListening {
		t.Fatalf("wake status = %q, want listening", got)
	}
}

func TestToggleListeningSurfacesDeviceError(t *testing.T) {
	var surfaced string
	h := newHarness(t, prefs.Default(), Events{OnError: func(msg string) { surfaced = msg }})
	h.capture.startErr = errors.New("permission denied")

	h.ctrl.HandleMessage(status(protocol.StatusThinking))
	if _, err := h.ctrl.ToggleListening(); err == nil {
		t.Fatalf("expected device error")
	}
	if surfaced == "" || !strings.Contains(surfaced, "permission denied") {
		t.Fatalf("surfaced error = %q", surfaced)
	}
	if got := h.ctrl.Phase(); got != PhaseThinking {
		t.Fatalf("phase = %q, want unchanged on failure", got)
	}
}

func TestAudioEventForwardsToPlayback(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	h.ctrl.HandleMessage(protocol.Audio{Type: protocol.TypeAudio, Audio: "AQID", SampleRate: 24000})

	if len(h.playback.enqueued) != 1 || h.playback.enqueued[0] != "AQID" {
		t.Fatalf("enqueued = %v", h.playback.enqueued)
	}
	if got := len(h.ctrl.Messages()); got != 0 {
		t.Fatalf("audio must not touch the turn buffer, messages = %d", got)
	}
}

func TestPreferenceChangePersistsAndSends(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	h.ctrl.SetVoice("af_heart")
	h.ctrl.SetToolEnabled("web_search", true)

	if len(h.store.saved) != 2 {
		t.Fatalf("saves = %d, want 2", len(h.store.saved))
	}
	last := h.store.saved[len(h.store.saved)-1]
	if last.Voice != "af_heart" || !last.ToolsEnabled["web_search"] {
		t.Fatalf("persisted prefs = %+v", last)
	}

	entries := h.log.list()
	wantCmds := []string{"set_voice:af_heart", "set_tool_enabled:web_search=true"}
	for _, want := range wantCmds {
		found := false
		for _, e := range entries {
			if e == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("command %q not sent, log = %v", want, entries)
		}
	}
}

func TestHandleOpenResendsPreferencesOnce(t *testing.T) {
	p := prefs.Default()
	p.Voice = "af_heart"
	p.Model = "qwen3:8b"
	p.ToolsEnabled["web_search"] = true
	p.ConversationID = "c-1"
	h := newHarness(t, p, Events{})

	h.ctrl.HandleOpen()

	entries := h.log.list()
	want := []string{
		"set_voice:af_heart",
		"set_model:qwen3:8b",
		"set_tts_enabled:true",
		"set_tool_enabled:web_search=true",
		"set_wakeword_settings:false",
		"set_conversation:c-1",
		"get_tools",
		"get_wakeword_settings",
		"get_memories",
	}
	for _, w := range want {
		count := 0
		for _, e := range entries {
			if e == w {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("command %q sent %d times, want exactly once; log = %v", w, count, entries)
		}
	}
}

func TestWakeStatusEventsTrackDetectorState(t *testing.T) {
	p := prefs.Default()
	p.Wakeword.Enabled = true
	h := newHarness(t, p, Events{})

	h.ctrl.HandleMessage(protocol.WakeStatus{Type: protocol.TypeWakeStatus, Status: "active"})
	if got := h.ctrl.WakeStatus(); got != WakeActive {
		t.Fatalf("wake status = %q, want active", got)
	}

	// Safeguard: pipeline-idle statuses reset the wake machine.
	h.ctrl.HandleMessage(status(protocol.StatusListening))
	if got := h.ctrl.WakeStatus(); got != WakeListening {
		t.Fatalf("wake status = %q, want listening after ready/listening", got)
	}
}

func TestMemoryEventsMaintainList(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})

	h.ctrl.HandleMessage(protocol.MemoriesList{Type: protocol.TypeMemoriesList, Memories: []protocol.Memory{
		{ID: "m1", Content: "likes coffee"},
	}})
	h.ctrl.HandleMessage(protocol.MemoryAdded{Type: protocol.TypeMemoryAdded, Memory: protocol.Memory{ID: "m2", Content: "lives in Rome"}})
	h.ctrl.HandleMessage(protocol.MemoryUpdated{Type: protocol.TypeMemoryUpdated, Memory: protocol.Memory{ID: "m1", Content: "likes tea"}})
	h.ctrl.HandleMessage(protocol.MemoryDeleted{Type: protocol.TypeMemoryDeleted, ID: "m2"})

	mems := h.ctrl.Memories()
	if len(mems) != 1 || mems[0].ID != "m1" || mems[0].Content != "likes tea" {
		t.Fatalf("memories = %+v", mems)
	}
}

func TestClearChatIsOptimistic(t *testing.T) {
	h := newHarness(t, prefs.Default(), Events{})
	h.ctrl.HandleMessage(protocol.Transcription{Type: protocol.TypeTranscription, Text: "hi"})
	h.ctrl.HandleMessage(protocol.ResponseToken{Type: protocol.TypeResponseToken, Token: "par"})

	h.ctrl.ClearChat()

	if got := len(h.ctrl.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0 immediately", got)
	}
	if got := h.ctrl.Streaming(); got != "" {
		t.Fatalf("accumulator = %q, want empty", got)
	}
	found := false
	for _, e := range h.log.list() {
		if e == "clear_history" {
			found = true
		}
	}
	if !found {
		t.Fatalf("clear_history not sent")
	}
}
