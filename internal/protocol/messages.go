package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Server-to-client message types.
const (
	TypeStatus           MessageType = "status"
	TypeTranscription    MessageType = "transcription"
	TypeResponseToken    MessageType = "response_token"
	TypeResponseEnd      MessageType = "response_end"
	TypeAudio            MessageType = "audio"
	TypeToolsList        MessageType = "tools_list"
	TypeWakewordSettings MessageType = "wakeword_settings"
	TypeWakeStatus       MessageType = "wake_status"
	TypeMemoriesList     MessageType = "memories_list"
	TypeMemoryAdded      MessageType = "memory_added"
	TypeMemoryDeleted    MessageType = "memory_deleted"
	TypeMemoryUpdated    MessageType = "memory_updated"
)

// Client-to-server command types.
const (
	TypeText                MessageType = "text"
	TypeStop                MessageType = "stop"
	TypeClearHistory        MessageType = "clear_history"
	TypeSetVoice            MessageType = "set_voice"
	TypeSetModel            MessageType = "set_model"
	TypeSetConversation     MessageType = "set_conversation"
	TypeSetTTSEnabled       MessageType = "set_tts_enabled"
	TypeSetCustomRules      MessageType = "set_custom_rules"
	TypeGetTools            MessageType = "get_tools"
	TypeSetToolEnabled      MessageType = "set_tool_enabled"
	TypeSetGlobalRules      MessageType = "set_global_rules"
	TypeGetWakewordSettings MessageType = "get_wakeword_settings"
	TypeSetWakewordSettings MessageType = "set_wakeword_settings"
	TypeGetMemories         MessageType = "get_memories"
	TypeAddMemory           MessageType = "add_memory"
	TypeDeleteMemory        MessageType = "delete_memory"
	TypeUpdateMemory        MessageType = "update_memory"
)

// Pipeline status values carried by Status messages.
const (
	StatusReady          = "ready"
	StatusListening      = "listening"
	StatusTranscribing   = "transcribing"
	StatusThinking       = "thinking"
	StatusSpeaking       = "speaking"
	StatusStopped        = "stopped"
	StatusHistoryCleared = "history_cleared"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Status struct {
	Type   MessageType     `json:"type"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Transcription struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ResponseToken struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

type ResponseEnd struct {
	Type MessageType `json:"type"`
}

// Audio carries one synthesized speech segment as base64-encoded
// little-endian PCM16 mono samples.
type Audio struct {
	Type       MessageType `json:"type"`
	Audio      string      `json:"audio"`
	SampleRate int         `json:"sample_rate"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type ToolsList struct {
	Type  MessageType `json:"type"`
	Tools []Tool      `json:"tools"`
}

type WakewordConfig struct {
	Enabled        bool    `json:"enabled"`
	Model          string  `json:"model"`
	Threshold      float64 `json:"threshold"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	DebounceMS     int     `json:"debounce_ms"`
}

type WakewordSettings struct {
	Type     MessageType    `json:"type"`
	Settings WakewordConfig `json:"settings"`
}

// WakeStatus reports the backend wake-word detector state:
// "listening" (waiting for the wake word) or "active" (processing speech).
type WakeStatus struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

type Memory struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type MemoriesList struct {
	Type     MessageType `json:"type"`
	Memories []Memory    `json:"memories"`
}

type MemoryAdded struct {
	Type   MessageType `json:"type"`
	Memory Memory      `json:"memory"`
}

type MemoryDeleted struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type MemoryUpdated struct {
	Type   MessageType `json:"type"`
	Memory Memory      `json:"memory"`
}

// ParseServerMessage decodes one inbound frame into its concrete type.
// Unknown or malformed frames yield an error; the caller is expected to log
// and drop them rather than tear down the connection.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStatus:
		var msg Status
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Status == "" {
			return nil, errors.New("invalid status: empty status")
		}
		return msg, nil
	case TypeTranscription:
		var msg Transcription
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeResponseToken:
		var msg ResponseToken
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeResponseEnd:
		var msg ResponseEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Audio == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid audio: missing payload or sample rate")
		}
		return msg, nil
	case TypeToolsList:
		var msg ToolsList
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeWakewordSettings:
		var msg WakewordSettings
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeWakeStatus:
		var msg WakeStatus
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Status == "" {
			return nil, errors.New("invalid wake_status: empty status")
		}
		return msg, nil
	case TypeMemoriesList:
		var msg MemoriesList
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeMemoryAdded:
		var msg MemoryAdded
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeMemoryDeleted:
		var msg MemoryDeleted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeMemoryUpdated:
		var msg MemoryUpdated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
