// Package restapi talks to the assistant's HTTP endpoints for everything
// that is not realtime: model/voice catalogs and conversation management.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type StoredMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	Messages  []StoredMessage `json:"messages,omitempty"`
}

// ConversationSettings are the per-conversation overrides kept server-side.
type ConversationSettings struct {
	Model       string `json:"model,omitempty"`
	Voice       string `json:"voice,omitempty"`
	CustomRules string `json:"custom_rules,omitempty"`
	TTSEnabled  *bool  `json:"tts_enabled,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) Voices(ctx context.Context) ([]string, error) {
	var out struct {
		Voices []string `json:"voices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/voices", nil, &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	var out Conversation
	body := map[string]string{"title": title}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *Client) Conversation(ctx context.Context, id string) (Conversation, error) {
	var out Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *Client) RenameConversation(ctx context.Context, id, title string) (Conversation, error) {
	var out Conversation
	body := map[string]string{"title": title}
	if err := c.doJSON(ctx, http.MethodPut, "/api/conversations/"+url.PathEscape(id), body, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ConversationSettings(ctx context.Context, id string) (ConversationSettings, error) {
	var out ConversationSettings
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id)+"/settings", nil, &out); err != nil {
		return ConversationSettings{}, err
	}
	return out, nil
}

func (c *Client) UpdateConversationSettings(ctx context.Context, id string, settings ConversationSettings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/conversations/"+url.PathEscape(id)+"/settings", settings, nil)
}

func (c *Client) SearchConversations(ctx context.Context, query string) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	path := "/api/conversations/search?q=" + url.QueryEscape(query)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
