package controller

import (
	"time"

	"github.com/rg1989/local-ai-voice-chat/internal/capture"
	"github.com/rg1989/local-ai-voice-chat/internal/prefs"
	"github.com/rg1989/local-ai-voice-chat/internal/protocol"
)

// Phase is what the end-to-end pipeline is doing right now. Transitions are
// driven by backend status events, except the optimistic move into Listening
// when the user starts the microphone.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseListening    Phase = "listening"
	PhaseTranscribing Phase = "transcribing"
	PhaseThinking     Phase = "thinking"
	PhaseSpeaking     Phase = "speaking"
)

// WakeState tracks the wake-word detector separately from Phase. The phase
// machine is authoritative; wake state is corrected opportunistically when
// ready/listening statuses arrive.
type WakeState string

const (
	WakeListening WakeState = "listening"
	WakeActive    WakeState = "active"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one finalized turn in the conversation buffer.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Conn is the outbound command surface, implemented by wsclient.Client.
// Commands are best-effort: anything sent while disconnected is dropped, so
// the controller re-syncs preferences on every open.
type Conn interface {
	IsConnected() bool
	SendAudioChunk(pcm []byte)
	SendText(text string)
	SendStop()
	SendClearHistory()
	SetVoice(voice string)
	SetModel(model string)
	SetConversation(id string)
	SetTTSEnabled(enabled bool)
	SetCustomRules(rules string)
	SetGlobalRules(rules string)
	SetToolEnabled(name string, enabled bool)
	SetWakewordSettings(settings protocol.WakewordConfig)
	RequestTools()
	RequestWakewordSettings()
	RequestMemories()
	AddMemory(content string)
	DeleteMemory(id string)
	UpdateMemory(id, content string)
}

// Capture is the microphone session surface, implemented by capture.Session.
type Capture interface {
	Start(sink capture.Sink) error
	Stop()
	Active() bool
}

// Playback is the ordered segment queue surface, implemented by
// playback.Queue.
type Playback interface {
	Enqueue(encoded string, sampleRate int) error
	Clear()
}

// PrefStore persists user preferences across restarts.
type PrefStore interface {
	Save(p prefs.Preferences) error
}

// Events are optional notification hooks for the UI layer. Nil fields are
// skipped. Hooks run outside the controller lock and may call back in.
type Events struct {
	OnUserMessage      func(Message)
	OnAssistantMessage func(Message)
	OnToken            func(token string)
	OnPhase            func(Phase)
	OnError            func(msg string)
}
