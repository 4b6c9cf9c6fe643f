// Package slack implements the messaging transport and approval poster
// against the Slack Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/kbflow/internal/ports/secondary"
)

const defaultBaseURL = "https://slack.com/api"

// Client posts messages to Slack threads with a bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Slack client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a client against an alternate API root.
// Used by tests.
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Text     string `json:"text"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PostToThread posts a message into a thread of the given channel.
func (c *Client) PostToThread(ctx context.Context, channelID, threadID, text string) error {
	return c.postMessage(ctx, postMessageRequest{
		Channel:  channelID,
		ThreadTS: threadID,
		Text:     text,
	})
}

// PostForApproval posts the drafted article into the thread with an
// approval prompt. The approval outcome itself is resolved by the
// reaction handler listening on this message, outside this client.
func (c *Client) PostForApproval(ctx context.Context, caseNumber, channelID, threadID string, article *secondary.Article, message string) error {
	var b strings.Builder
	b.WriteString(message)
	fmt.Fprintf(&b, "\n\n*%s*\n\n*Problem*\n%s\n\n*Solution*\n%s", article.Title, article.Problem, article.Solution)
	fmt.Fprintf(&b, "\n\n_Case %s: react with :white_check_mark: to publish or :x: to reject._", caseNumber)

	return c.postMessage(ctx, postMessageRequest{
		Channel:  channelID,
		ThreadTS: threadID,
		Text:     b.String(),
	})
}

func (c *Client) postMessage(ctx context.Context, msg postMessageRequest) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}
	return nil
}

// Ensure Client implements the interfaces
var (
	_ secondary.ThreadPoster   = (*Client)(nil)
	_ secondary.ApprovalPoster = (*Client)(nil)
)
