// Package comfy renders images through a workflow-based generation
// server: jobs are queued over HTTP under a session id, completion is
// observed on a companion websocket event stream, and rendered bytes
// are fetched back over HTTP.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

var (
	// ErrTimeout means the render did not complete within the wait bound.
	ErrTimeout = errors.New("image render timed out")
	// ErrNoOutputs means the job finished but produced no images.
	ErrNoOutputs = errors.New("image render produced no outputs")
)

// OutputImage locates one rendered artifact on the server.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Client is one session against the image server. The session id ties
// queued jobs to the event stream that reports their completion.
type Client struct {
	httpc       *http.Client
	addr        string
	clientID    string
	waitTimeout time.Duration
}

// NewClient creates a client for the given host:port with a fresh
// session id.
func NewClient(addr string, waitTimeout time.Duration) *Client {
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Minute
	}
	return &Client{
		httpc:       &http.Client{Timeout: 60 * time.Second},
		addr:        addr,
		clientID:    uuid.NewString(),
		waitTimeout: waitTimeout,
	}
}

// Render queues the workflow, waits for its completion event and
// returns the first rendered image with its server-side filename. The
// wait is bounded; expiry surfaces as ErrTimeout.
func (c *Client) Render(ctx context.Context, w Workflow) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	// The event stream is opened before queueing so a fast job cannot
	// complete between the two.
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws?clientId=%s", c.addr, c.clientID), nil)
	if err != nil {
		return nil, "", fmt.Errorf("dial image events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(16 << 20)

	promptID, err := c.QueuePrompt(ctx, w)
	if err != nil {
		return nil, "", err
	}

	if err := c.waitForCompletion(ctx, conn, promptID); err != nil {
		return nil, "", err
	}

	outputs, err := c.History(ctx, promptID)
	if err != nil {
		return nil, "", err
	}
	if len(outputs) == 0 {
		return nil, "", ErrNoOutputs
	}

	data, err := c.FetchImage(ctx, outputs[0])
	if err != nil {
		return nil, "", err
	}
	return data, outputs[0].Filename, nil
}

// QueuePrompt submits the workflow and returns the server's job id.
func (c *Client) QueuePrompt(ctx context.Context, w Workflow) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    w,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/prompt", c.addr), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("queue prompt status %d", resp.StatusCode)
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode prompt response: %w", err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("queue prompt: no prompt_id in response")
	}
	return result.PromptID, nil
}

type event struct {
	Type string `json:"type"`
	Data struct {
		Node     *string `json:"node"`
		PromptID string  `json:"prompt_id"`
	} `json:"data"`
}

// waitForCompletion blocks until the executing event with a null node
// arrives for promptID. Binary preview frames and unrelated events are
// skipped.
func (c *Client) waitForCompletion(ctx context.Context, conn *websocket.Conn, promptID string) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s (job %s)", ErrTimeout, c.waitTimeout, promptID)
			}
			return fmt.Errorf("read image event: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == "executing" && ev.Data.Node == nil && ev.Data.PromptID == promptID {
			return nil
		}
	}
}

// History returns the output images recorded for a finished job.
func (c *Client) History(ctx context.Context, promptID string) ([]OutputImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/history/%s", c.addr, promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", promptID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history status %d", resp.StatusCode)
	}

	var history map[string]struct {
		Outputs map[string]struct {
			Images []OutputImage `json:"images"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", promptID, err)
	}

	var images []OutputImage
	for _, node := range history[promptID].Outputs {
		images = append(images, node.Images...)
	}
	return images, nil
}

// FetchImage downloads one rendered artifact.
func (c *Client) FetchImage(ctx context.Context, img OutputImage) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", img.Filename)
	params.Set("subfolder", img.Subfolder)
	params.Set("type", img.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/view?%s", c.addr, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("create view request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", img.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view status %d for %s", resp.StatusCode, img.Filename)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", img.Filename, err)
	}
	return data, nil
}
