package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"

	"golang.org/x/time/rate"
)

const matchSystemPrompt = `You compare extracted community content records and group the ones that
describe the same real-world thing. Rules you must follow exactly:
- Identity is owner, service, AND target audience. Two records about the same
  subject aimed at different audiences (for example "get help" vs "volunteer
  to help") are NOT duplicates, even when the wording overlaps heavily.
- Each group must name a canonical_id chosen from its member_ids. A member
  whose status is "active" must be preferred as canonical; never pick a draft
  as canonical over an active record.
- Only group records you are confident describe the same thing. When unsure,
  leave records ungrouped.
Respond only with JSON: {"groups": [{"name", "canonical_id", "member_ids",
"confidence", "reasoning"}]}. Return {"groups": []} if nothing matches.`

const refineSystemPrompt = `You revise a draft content record according to a reviewer's comment.
Preserve facts the comment does not dispute; apply exactly the change the
comment asks for. Respond only with JSON: {"title", "content", "audience"}.`

// anthropicClient implements service.Reasoner against the Anthropic API.
type anthropicClient struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (service.Reasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "claude-3-5-sonnet-20241022"
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &anthropicClient{
		apiKey:      cfg.APIKey,
		model:       modelName,
		baseURL:     "https://api.anthropic.com",
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// MatchGroups asks the reasoning service to group candidates that describe
// the same real-world thing.
func (c *anthropicClient) MatchGroups(ctx context.Context, candidates []service.MatchCandidate) ([]model.MatchGroup, error) {
	if len(candidates) < 2 {
		return nil, nil
	}

	payload, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}

	prompt := fmt.Sprintf("Candidate records:\n%s\n\nGroup the duplicates.", payload)

	content, err := c.complete(ctx, matchSystemPrompt, prompt, c.maxTokens*2)
	if err != nil {
		return nil, err
	}

	resp, err := parseMatchResponse([]byte(cleanMarkdownWrapper(content)))
	if err != nil {
		return nil, fmt.Errorf("untrusted match response: %w", err)
	}

	known := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		known[cand.ID] = true
	}

	groups := make([]model.MatchGroup, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		// Drop groups referencing ids we never sent; the model invented them.
		if !known[g.CanonicalID] {
			continue
		}
		valid := true
		for _, id := range g.MemberIDs {
			if !known[id] {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}

		groups = append(groups, model.MatchGroup{
			Name:        g.Name,
			CanonicalID: g.CanonicalID,
			MemberIDs:   g.MemberIDs,
			Confidence:  g.Confidence,
			Reasoning:   g.Reasoning,
		})
	}
	return groups, nil
}

// Refine asks the reasoning service to revise a draft per a reviewer comment.
func (c *anthropicClient) Refine(ctx context.Context, draft model.DraftContent, comment string) (model.DraftContent, error) {
	payload, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return model.DraftContent{}, fmt.Errorf("failed to encode draft: %w", err)
	}

	prompt := fmt.Sprintf("Current draft:\n%s\n\nReviewer comment:\n%s\n\nProduce the revised draft.", payload, comment)

	content, err := c.complete(ctx, refineSystemPrompt, prompt, c.maxTokens)
	if err != nil {
		return model.DraftContent{}, err
	}

	resp, err := parseRefineResponse([]byte(cleanMarkdownWrapper(content)))
	if err != nil {
		return model.DraftContent{}, fmt.Errorf("untrusted refine response: %w", err)
	}

	revised := model.DraftContent{
		Title:    resp.Title,
		Content:  resp.Content,
		Audience: resp.Audience,
		SourceID: draft.SourceID, // provenance never changes on refinement
	}
	if revised.Title == "" {
		revised.Title = draft.Title
	}
	if revised.Audience == "" {
		revised.Audience = draft.Audience
	}
	return revised, nil
}

// complete performs one messages-API round trip and returns the text content.
func (c *anthropicClient) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter canceled: %w", err)
	}

	requestBody := map[string]any{
		"model":       c.model,
		"max_tokens":  maxTokens,
		"temperature": c.temperature,
		"system":      system,
		"messages": []map[string]string{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: anthropic", common.ErrRateLimit)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: anthropic API error (status %d)", common.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	return response.Content[0].Text, nil
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
