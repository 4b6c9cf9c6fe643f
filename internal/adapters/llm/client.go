// Package llm implements the quality scorer, question generator and
// article generator against an OpenAI-compatible chat completions
// endpoint with JSON-mode responses.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/kbflow/internal/models"
	"github.com/example/kbflow/internal/ports/secondary"
)

// Client calls a chat-completions endpoint for assessment, question
// phrasing and article drafting.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an LLM client. The base URL is the API root, e.g.
// https://api.openai.com/v1.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

const scorerSystemPrompt = `You assess resolved support cases for knowledge-base readiness.
Given the conversation and case data, respond with JSON:
{"decision": "high_quality" | "needs_input" | "insufficient", "score": 0-100, "missing_info": ["..."]}
Use "high_quality" when root cause and resolution steps are both documented,
"needs_input" when the engineer in the thread can fill the gaps,
"insufficient" when the case record itself lacks the basics.`

const questionSystemPrompt = `You write one short, friendly Slack message asking a support engineer
for the missing details needed to document their resolved case.
Respond with JSON: {"prompt": "..."}`

const articleSystemPrompt = `You draft knowledge-base articles from resolved support cases and check
them against the listed existing articles for duplication. Respond with JSON:
{"is_duplicate": bool, "confidence": 0-1, "similar_kb_numbers": ["..."],
 "article": {"title": "...", "problem": "...", "solution": "..."}}`

// Score assesses whether the case can support a KB article.
func (c *Client) Score(ctx context.Context, conv *secondary.Conversation, data *secondary.CaseData) (*secondary.Assessment, error) {
	var out struct {
		Decision    string   `json:"decision"`
		Score       float64  `json:"score"`
		MissingInfo []string `json:"missing_info"`
	}
	if err := c.completeJSON(ctx, scorerSystemPrompt, renderCase(conv, data), &out); err != nil {
		return nil, fmt.Errorf("failed to score case: %w", err)
	}

	switch out.Decision {
	case models.DecisionHighQuality, models.DecisionNeedsInput, models.DecisionInsufficient:
	default:
		return nil, fmt.Errorf("scorer returned unknown decision %q", out.Decision)
	}

	return &secondary.Assessment{
		Decision:    out.Decision,
		Score:       out.Score,
		MissingInfo: out.MissingInfo,
	}, nil
}

// Generate phrases a clarifying question for the assessment's gaps.
func (c *Client) Generate(ctx context.Context, assessment *secondary.Assessment, conv *secondary.Conversation, caseNumber string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s\nMissing information:\n", caseNumber)
	for _, gap := range assessment.MissingInfo {
		fmt.Fprintf(&b, "- %s\n", gap)
	}
	if conv != nil {
		b.WriteString("\nConversation so far:\n")
		writeConversation(&b, conv)
	}

	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := c.completeJSON(ctx, questionSystemPrompt, b.String(), &out); err != nil {
		return "", fmt.Errorf("failed to generate question: %w", err)
	}
	if out.Prompt == "" {
		return "", fmt.Errorf("question generator returned an empty prompt")
	}
	return out.Prompt, nil
}

// GenerateArticle drafts the article and reports duplicate detection.
func (c *Client) GenerateArticle(ctx context.Context, conv *secondary.Conversation, data *secondary.CaseData) (*secondary.GenerationResult, error) {
	var out struct {
		IsDuplicate bool     `json:"is_duplicate"`
		Confidence  float64  `json:"confidence"`
		SimilarKBs  []string `json:"similar_kb_numbers"`
		Article     struct {
			Title    string `json:"title"`
			Problem  string `json:"problem"`
			Solution string `json:"solution"`
		} `json:"article"`
	}
	if err := c.completeJSON(ctx, articleSystemPrompt, renderCase(conv, data), &out); err != nil {
		return nil, fmt.Errorf("failed to generate article: %w", err)
	}

	result := &secondary.GenerationResult{
		IsDuplicate: out.IsDuplicate,
		Confidence:  out.Confidence,
		SimilarKBs:  out.SimilarKBs,
	}
	if !out.IsDuplicate {
		if out.Article.Title == "" {
			return nil, fmt.Errorf("generator returned an article without a title")
		}
		result.Article = &secondary.Article{
			Title:    out.Article.Title,
			Problem:  out.Article.Problem,
			Solution: out.Article.Solution,
		}
	}
	return result, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) completeJSON(ctx context.Context, system, user string, out any) error {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llm returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return fmt.Errorf("llm returned no choices")
	}

	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("decode completion content: %w", err)
	}
	return nil
}

// renderCase flattens the conversation and case data into the prompt body.
func renderCase(conv *secondary.Conversation, data *secondary.CaseData) string {
	var b strings.Builder

	if data != nil && data.Case != nil {
		c := data.Case
		fmt.Fprintf(&b, "Case %s: %s\n", c.Number, c.ShortDescription)
		if c.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", c.Description)
		}
		if c.CloseNotes != "" {
			fmt.Fprintf(&b, "Close notes: %s\n", c.CloseNotes)
		}
		for _, entry := range data.Journal {
			fmt.Fprintf(&b, "Work note (%s, %s): %s\n", entry.CreatedBy, entry.CreatedOn, entry.Value)
		}
	}

	if conv != nil {
		b.WriteString("\nConversation:\n")
		writeConversation(&b, conv)
	}

	return b.String()
}

func writeConversation(b *strings.Builder, conv *secondary.Conversation) {
	for _, msg := range conv.Messages {
		fmt.Fprintf(b, "%s: %s\n", msg.Author, msg.Text)
	}
}

// Ensure Client implements the interfaces
var (
	_ secondary.QualityScorer     = (*Client)(nil)
	_ secondary.QuestionGenerator = (*Client)(nil)
	_ secondary.ArticleGenerator  = (*Client)(nil)
)
