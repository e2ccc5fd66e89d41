// Package wsclient maintains the single persistent websocket to the
// assistant backend. It owns reconnection, inbound dispatch, and the
// outbound command helpers; nothing else in the client touches the socket.
package wsclient

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rg1989/local-ai-voice-chat/internal/observability"
	"github.com/rg1989/local-ai-voice-chat/internal/protocol"
)

// Handler receives parsed inbound messages one at a time, in arrival order.
type Handler func(msg any)

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	Handler        Handler
	OnOpen         func()
	OnClose        func()
	OnError        func(error)
	Metrics        *observability.Metrics
	Dialer         *websocket.Dialer
}

// Client manages one logical connection. A reconnect replaces the socket
// wholesale; at most one live socket exists at a time.
type Client struct {
	url            string
	reconnectDelay time.Duration
	handler        Handler
	onOpen         func()
	onClose        func()
	onError        func(error)
	metrics        *observability.Metrics
	dialer         *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	manualClose    bool

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		url:            opts.URL,
		reconnectDelay: delay,
		handler:        opts.Handler,
		onOpen:         opts.OnOpen,
		onClose:        opts.OnClose,
		onError:        opts.OnError,
		metrics:        opts.Metrics,
		dialer:         dialer,
	}
}

// Connect opens the connection if none is live. Calling it while connected
// is a no-op. A failed dial counts as a close and schedules one reconnect.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.manualClose = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		c.mu.Lock()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.manualClose {
		// Disconnect raced the dial. Drop the fresh socket.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ConnectionState.Set(1)
	}
	if c.onOpen != nil {
		c.onOpen()
	}
	go c.readPump(conn)
}

// Disconnect cancels any pending reconnect and closes the live socket.
// No automatic reconnection happens afterwards until Connect is called.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether a socket is currently live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseServerMessage(raw)
		if err != nil {
			log.Printf("wsclient: dropping inbound frame: %v", err)
			continue
		}
		if c.metrics != nil {
			c.metrics.WSMessages.WithLabelValues("in", messageLabel(raw)).Inc()
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer socket already replaced this one, or Disconnect cleared it.
		manual := c.manualClose
		c.mu.Unlock()
		if !manual && c.onError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.onError(err)
		}
		return
	}
	c.conn = nil
	manual := c.manualClose
	if !manual {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ConnectionState.Set(0)
	}
	if !manual && c.onError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.onError(err)
	}
	if c.onClose != nil {
		c.onClose()
	}
}

// scheduleReconnectLocked arms exactly one reconnect timer. Callers hold mu.
func (c *Client) scheduleReconnectLocked() {
	if c.manualClose || c.reconnectTimer != nil {
		return
	}
	if c.metrics != nil {
		c.metrics.Reconnects.Inc()
	}
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		manual := c.manualClose
		c.mu.Unlock()
		if !manual {
			c.Connect()
		}
	})
}

// send serializes a command when the socket is open and silently drops it
// otherwise. Best effort by contract: the controller re-syncs preferences
// after reconnect instead of this layer queuing.
func (c *Client) send(msgType protocol.MessageType, payload any) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if c.metrics != nil {
			c.metrics.DroppedCommands.Inc()
		}
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("wsclient: marshal %s: %v", msgType, err)
		return
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		log.Printf("wsclient: write %s: %v", msgType, err)
		return
	}
	if c.metrics != nil {
		c.metrics.WSMessages.WithLabelValues("out", string(msgType)).Inc()
	}
}

// SendAudioChunk forwards one raw PCM16LE chunk as a binary frame, with the
// same open/closed gating as commands.
func (c *Client) SendAudioChunk(pcm []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, pcm)
	c.writeMu.Unlock()
	if err != nil {
		log.Printf("wsclient: write audio chunk: %v", err)
		return
	}
	if c.metrics != nil {
		c.metrics.CaptureChunks.Inc()
		c.metrics.WSMessages.WithLabelValues("out", "audio_chunk").Inc()
	}
}

func (c *Client) SendText(text string) {
	c.send(protocol.TypeText, protocol.TextCommand{Type: protocol.TypeText, Text: text})
}

func (c *Client) SendStop() {
	c.send(protocol.TypeStop, protocol.Envelope{Type: protocol.TypeStop})
}

func (c *Client) SendClearHistory() {
	c.send(protocol.TypeClearHistory, protocol.Envelope{Type: protocol.TypeClearHistory})
}

func (c *Client) SetVoice(voice string) {
	c.send(protocol.TypeSetVoice, protocol.SetVoiceCommand{Type: protocol.TypeSetVoice, Voice: voice})
}

func (c *Client) SetModel(model string) {
	c.send(protocol.TypeSetModel, protocol.SetModelCommand{Type: protocol.TypeSetModel, Model: model})
}

func (c *Client) SetConversation(id string) {
	c.send(protocol.TypeSetConversation, protocol.SetConversationCommand{Type: protocol.TypeSetConversation, ConversationID: id})
}

func (c *Client) SetTTSEnabled(enabled bool) {
	c.send(protocol.TypeSetTTSEnabled, protocol.SetTTSEnabledCommand{Type: protocol.TypeSetTTSEnabled, Enabled: enabled})
}

func (c *Client) SetCustomRules(rules string) {
	c.send(protocol.TypeSetCustomRules, protocol.SetCustomRulesCommand{Type: protocol.TypeSetCustomRules, Rules: rules})
}

func (c *Client) RequestTools() {
	c.send(protocol.TypeGetTools, protocol.Envelope{Type: protocol.TypeGetTools})
}

func (c *Client) SetToolEnabled(name string, enabled bool) {
	c.send(protocol.TypeSetToolEnabled, protocol.SetToolEnabledCommand{Type: protocol.TypeSetToolEnabled, Name: name, Enabled: enabled})
}

func (c *Client) SetGlobalRules(rules string) {
	c.send(protocol.TypeSetGlobalRules, protocol.SetGlobalRulesCommand{Type: protocol.TypeSetGlobalRules, Rules: rules})
}

func (c *Client) RequestWakewordSettings() {
	c.send(protocol.TypeGetWakewordSettings, protocol.Envelope{Type: protocol.TypeGetWakewordSettings})
}

func (c *Client) SetWakewordSettings(settings protocol.WakewordConfig) {
	c.send(protocol.TypeSetWakewordSettings, protocol.SetWakewordSettingsCommand{Type: protocol.TypeSetWakewordSettings, Settings: settings})
}

func (c *Client) RequestMemories() {
	c.send(protocol.TypeGetMemories, protocol.Envelope{Type: protocol.TypeGetMemories})
}

func (c *Client) AddMemory(content string) {
	c.send(protocol.TypeAddMemory, protocol.AddMemoryCommand{Type: protocol.TypeAddMemory, Content: content})
}

func (c *Client) DeleteMemory(id string) {
	c.send(protocol.TypeDeleteMemory, protocol.DeleteMemoryCommand{Type: protocol.TypeDeleteMemory, ID: id})
}

func (c *Client) UpdateMemory(id, content string) {
	c.send(protocol.TypeUpdateMemory, protocol.UpdateMemoryCommand{Type: protocol.TypeUpdateMemory, ID: id, Content: content})
}

func messageLabel(raw []byte) string {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return "unknown"
	}
	return string(env.Type)
}
