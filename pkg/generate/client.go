// Package generate talks to the story-generation service: a websocket
// endpoint that takes one structured request and streams progress
// messages until a single terminal result.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrNoContent means the service closed the connection cleanly without
// delivering a result. Retrying would spin forever, so the gateway
// escalates this immediately.
var ErrNoContent = errors.New("generation service closed without a result")

// Request is one generation request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Search       bool
}

// Caller performs a single generation attempt.
type Caller interface {
	Call(ctx context.Context, req Request) (string, error)
}

// Client is the websocket Caller. Every call opens a fresh connection,
// sends one request and consumes the stream until the terminal result.
type Client struct {
	url string
}

// NewClient creates a client for the given websocket URL.
func NewClient(url string) *Client {
	return &Client{url: url}
}

type clientMessage struct {
	Type       string     `json:"type"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model"`
	Search       bool   `json:"search"`
}

type serverMessage struct {
	Type string `json:"type"`
	Data struct {
		Ok *struct {
			Content string `json:"content"`
		} `json:"Ok"`
		Err json.RawMessage `json:"Err"`
	} `json:"data"`
}

func (c *Client) Call(ctx context.Context, req Request) (string, error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("dial generation service: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(4 << 20)

	msg := clientMessage{
		Type: "request",
		Parameters: parameters{
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Model:        req.Model,
			Search:       req.Search,
		},
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return "", fmt.Errorf("send generation request: %w", err)
	}

	for {
		var m serverMessage
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return "", ErrNoContent
			}
			return "", fmt.Errorf("read generation response: %w", err)
		}
		if m.Type != "result" {
			// Progress message, keep consuming.
			continue
		}
		if m.Data.Ok != nil {
			return m.Data.Ok.Content, nil
		}
		return "", fmt.Errorf("generation service error: %s", string(m.Data.Err))
	}
}
