// Package controller is the single place where inbound protocol events
// become phase transitions and turn-buffer mutations, and where user
// intents become outbound commands plus optimistic local state.
package controller

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rg1989/local-ai-voice-chat/internal/prefs"
	"github.com/rg1989/local-ai-voice-chat/internal/protocol"
)

const stoppedSuffix = " [stopped]"

type Controller struct {
	conn     Conn
	capture  Capture
	playback Playback
	store    PrefStore
	events   Events

	mu        sync.Mutex
	phase     Phase
	wakeState WakeState
	turns     []Message
	streaming strings.Builder
	prefs     prefs.Preferences
	tools     []protocol.Tool
	memories  []protocol.Memory
}

func New(conn Conn, cap Capture, playback Playback, store PrefStore, initial prefs.Preferences, events Events) *Controller {
	if initial.ToolsEnabled == nil {
		initial.ToolsEnabled = map[string]bool{}
	}
	return &Controller{
		conn:      conn,
		capture:   cap,
		playback:  playback,
		store:     store,
		events:    events,
		phase:     PhaseIdle,
		wakeState: WakeListening,
		prefs:     initial,
	}
}

// HandleOpen re-sends the full set of current preferences once per
// connection. The command layer drops anything sent while disconnected, so
// this is the only delivery guarantee preferences get.
func (c *Controller) HandleOpen() {
	c.mu.Lock()
	p := c.prefs.Clone()
	c.mu.Unlock()

	if p.Voice != "" {
		c.conn.SetVoice(p.Voice)
	}
	if p.Model != "" {
		c.conn.SetModel(p.Model)
	}
	c.conn.SetTTSEnabled(p.TTSEnabled)
	if p.CustomRules != "" {
		c.conn.SetCustomRules(p.CustomRules)
	}
	if p.GlobalRules != "" {
		c.conn.SetGlobalRules(p.GlobalRules)
	}
	for name, enabled := range p.ToolsEnabled {
		c.conn.SetToolEnabled(name, enabled)
	}
	c.conn.SetWakewordSettings(p.Wakeword)
	if p.ConversationID != "" {
		c.conn.SetConversation(p.ConversationID)
	}

	c.conn.RequestTools()
	c.conn.RequestWakewordSettings()
	c.conn.RequestMemories()
}

// HandleMessage is the inbound reducer. It runs on the socket's dispatch
// goroutine, one message at a time, in arrival order.
func (c *Controller) HandleMessage(msg any) {
	switch m := msg.(type) {
	case protocol.Status:
		c.handleStatus(m.Status)
	case protocol.Transcription:
		c.appendMessage(RoleUser, m.Text)
	case protocol.ResponseToken:
		c.mu.Lock()
		c.streaming.WriteString(m.Token)
		c.mu.Unlock()
		if c.events.OnToken != nil {
			c.events.OnToken(m.Token)
		}
	case protocol.ResponseEnd:
		c.flushStreaming("")
	case protocol.Audio:
		if err := c.playback.Enqueue(m.Audio, m.SampleRate); err != nil {
			log.Printf("controller: dropping audio segment: %v", err)
		}
	case protocol.ToolsList:
		c.mu.Lock()
		c.tools = m.Tools
		c.mu.Unlock()
	case protocol.WakewordSettings:
		c.mu.Lock()
		c.prefs.Wakeword = m.Settings
		p := c.prefs.Clone()
		c.mu.Unlock()
		c.persist(p)
	case protocol.WakeStatus:
		c.mu.Lock()
		if m.Status == string(WakeActive) {
			c.wakeState = WakeActive
		} else {
			c.wakeState = WakeListening
		}
		c.mu.Unlock()
	case protocol.MemoriesList:
		c.mu.Lock()
		c.memories = m.Memories
		c.mu.Unlock()
	case protocol.MemoryAdded:
		c.mu.Lock()
		c.memories = append(c.memories, m.Memory)
		c.mu.Unlock()
	case protocol.MemoryDeleted:
		c.mu.Lock()
		kept := c.memories[:0]
		for _, mem := range c.memories {
			if mem.ID != m.ID {
				kept = append(kept, mem)
			}
		}
		c.memories = kept
		c.mu.Unlock()
	case protocol.MemoryUpdated:
		c.mu.Lock()
		for i := range c.memories {
			if c.memories[i].ID == m.Memory.ID {
				c.memories[i] = m.Memory
			}
		}
		c.mu.Unlock()
	}
}

func (c *Controller) handleStatus(status string) {
	switch status {
	case protocol.StatusReady, protocol.StatusListening:
		// The backend uses one status for "pipeline idle"; whether that
		// means we are listening depends on the local capture flag.
		next := PhaseIdle
		if c.capture.Active() {
			next = PhaseListening
		}
		c.mu.Lock()
		if c.prefs.Wakeword.Enabled {
			// Safeguard: recover the wake machine whenever the pipeline
			// reports idle, in case the two machines disagree.
			c.wakeState = WakeListening
		}
		c.mu.Unlock()
		c.setPhase(next)
	case protocol.StatusTranscribing:
		c.mu.Lock()
		wake := c.prefs.Wakeword.Enabled
		c.mu.Unlock()
		if !wake && c.capture.Active() {
			c.capture.Stop()
		}
		c.setPhase(PhaseTranscribing)
	case protocol.StatusThinking:
		c.setPhase(PhaseThinking)
	case protocol.StatusSpeaking:
		c.setPhase(PhaseSpeaking)
	case protocol.StatusStopped:
		c.flushStreaming(stoppedSuffix)
		c.setPhase(PhaseIdle)
	case protocol.StatusHistoryCleared:
		c.mu.Lock()
		c.turns = nil
		c.streaming.Reset()
		c.mu.Unlock()
		c.setPhase(PhaseIdle)
	}
}

// flushStreaming finalizes the accumulator into one assistant message. The
// builder is read and reset under the same lock that token appends take, so
// the flush always sees the latest tokens of a fast stream.
func (c *Controller) flushStreaming(suffix string) {
	c.mu.Lock()
	text := c.streaming.String()
	c.streaming.Reset()
	c.mu.Unlock()

	if text == "" {
		return
	}
	c.appendMessage(RoleAssistant, text+suffix)
}

func (c *Controller) appendMessage(role Role, content string) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	c.mu.Lock()
	c.turns = append(c.turns, msg)
	c.mu.Unlock()

	switch role {
	case RoleUser:
		if c.events.OnUserMessage != nil {
			c.events.OnUserMessage(msg)
		}
	case RoleAssistant:
		if c.events.OnAssistantMessage != nil {
			c.events.OnAssistantMessage(msg)
		}
	}
}

func (c *Controller) setPhase(next Phase) {
	c.mu.Lock()
	changed := c.phase != next
	c.phase = next
	c.mu.Unlock()
	if changed && c.events.OnPhase != nil {
		c.events.OnPhase(next)
	}
}

// ToggleListening starts or stops microphone capture. Starting is
// optimistic: the phase moves to Listening before the backend confirms.
// A device failure is surfaced and leaves the phase untouched.
func (c *Controller) ToggleListening() (bool, error) {
	if c.capture.Active() {
		c.capture.Stop()
		c.setPhase(PhaseIdle)
		return false, nil
	}
	if err := c.capture.Start(c.conn.SendAudioChunk); err != nil {
		c.emitError("microphone unavailable: " + err.Error())
		return false, err
	}
	c.setPhase(PhaseListening)
	return true, nil
}

// SendText sends a chat message. Voice and text input are mutually
// exclusive within a turn, so an active capture is stopped first.
func (c *Controller) SendText(text string) {
	if c.capture.Active() {
		c.capture.Stop()
	}
	c.conn.SendText(text)
}

// Stop is the coarse cancellation primitive: abort the playback queue, stop
// capture, tell the backend, and force Idle locally without waiting for the
// acknowledgement. In wake-word mode the microphone is re-armed afterwards
// so the wake word keeps working.
func (c *Controller) Stop() {
	c.conn.SendStop()
	c.playback.Clear()
	if c.capture.Active() {
		c.capture.Stop()
	}
	c.setPhase(PhaseIdle)

	c.mu.Lock()
	wake := c.prefs.Wakeword.Enabled
	c.wakeState = WakeListening
	c.mu.Unlock()
	if wake {
		if err := c.capture.Start(c.conn.SendAudioChunk); err != nil {
			c.emitError("microphone unavailable: " + err.Error())
		}
	}
}

// ClearChat wipes the conversation optimistically; the backend's
// history_cleared status will arrive later and is then a no-op.
func (c *Controller) ClearChat() {
	c.conn.SendClearHistory()
	c.mu.Lock()
	c.turns = nil
	c.streaming.Reset()
	c.mu.Unlock()
}

func (c *Controller) SetVoice(voice string) {
	c.mu.Lock()
	c.prefs.Voice = voice
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetVoice(voice)
}

func (c *Controller) SetModel(model string) {
	c.mu.Lock()
	c.prefs.Model = model
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetModel(model)
}

func (c *Controller) SetConversation(id string) {
	c.mu.Lock()
	c.prefs.ConversationID = id
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetConversation(id)
}

func (c *Controller) SetTTSEnabled(enabled bool) {
	c.mu.Lock()
	c.prefs.TTSEnabled = enabled
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetTTSEnabled(enabled)
}

func (c *Controller) SetCustomRules(rules string) {
	c.mu.Lock()
	c.prefs.CustomRules = rules
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetCustomRules(rules)
}

func (c *Controller) SetGlobalRules(rules string) {
	c.mu.Lock()
	c.prefs.GlobalRules = rules
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetGlobalRules(rules)
}

func (c *Controller) SetToolEnabled(name string, enabled bool) {
	c.mu.Lock()
	c.prefs.ToolsEnabled[name] = enabled
	for i := range c.tools {
		if c.tools[i].Name == name {
			c.tools[i].Enabled = enabled
		}
	}
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetToolEnabled(name, enabled)
}

// SetWakewordSettings updates wake-word mode. Enabling it auto-starts the
// always-on capture session if the microphone is not already live.
func (c *Controller) SetWakewordSettings(settings protocol.WakewordConfig) {
	c.mu.Lock()
	c.prefs.Wakeword = settings
	c.wakeState = WakeListening
	p := c.prefs.Clone()
	c.mu.Unlock()
	c.persist(p)
	c.conn.SetWakewordSettings(settings)

	if settings.Enabled && !c.capture.Active() {
		if err := c.capture.Start(c.conn.SendAudioChunk); err != nil {
			c.emitError("microphone unavailable: " + err.Error())
		}
	}
}

func (c *Controller) AddMemory(content string)     { c.conn.AddMemory(content) }
func (c *Controller) DeleteMemory(id string)       { c.conn.DeleteMemory(id) }
func (c *Controller) UpdateMemory(id, text string) { c.conn.UpdateMemory(id, text) }

func (c *Controller) persist(p prefs.Preferences) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(p); err != nil {
		log.Printf("controller: persist preferences: %v", err)
		c.emitError("saving preferences failed")
	}
}

func (c *Controller) emitError(msg string) {
	if c.events.OnError != nil {
		c.events.OnError(msg)
	}
}

// Phase returns the current pipeline phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// WakeStatus returns the wake-word machine state.
func (c *Controller) WakeStatus() WakeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeState
}

// Messages returns a copy of the finalized turn buffer.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Streaming returns the in-flight accumulator contents.
func (c *Controller) Streaming() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming.String()
}

// Preferences returns a copy of the current preference state.
func (c *Controller) Preferences() prefs.Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs.Clone()
}

// Tools returns the last tool list received from the backend.
func (c *Controller) Tools() []protocol.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Memories returns the last known memories.
func (c *Controller) Memories() []protocol.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Memory, len(c.memories))
	copy(out, c.memories)
	return out
}
