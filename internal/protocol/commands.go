package protocol

// Outbound command payloads. Each serializes to {"type": ..., fields...}.
// Commands with no fields are sent as a bare envelope.

type TextCommand struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type SetVoiceCommand struct {
	Type  MessageType `json:"type"`
	Voice string      `json:"voice"`
}

type SetModelCommand struct {
	Type  MessageType `json:"type"`
	Model string      `json:"model"`
}

type SetConversationCommand struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
}

type SetTTSEnabledCommand struct {
	Type    MessageType `json:"type"`
	Enabled bool        `json:"enabled"`
}

type SetCustomRulesCommand struct {
	Type  MessageType `json:"type"`
	Rules string      `json:"rules"`
}

type SetToolEnabledCommand struct {
	Type    MessageType `json:"type"`
	Name    string      `json:"name"`
	Enabled bool        `json:"enabled"`
}

type SetGlobalRulesCommand struct {
	Type  MessageType `json:"type"`
	Rules string      `json:"rules"`
}

type SetWakewordSettingsCommand struct {
	Type     MessageType    `json:"type"`
	Settings WakewordConfig `json:"settings"`
}

type AddMemoryCommand struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

type DeleteMemoryCommand struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type UpdateMemoryCommand struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id"`
	Content string      `json:"content"`
}
