// Package genai produces quest drafts from uploaded PDFs via the Gemini
// API. Every failure path degrades to a deterministic offline draft, so
// callers always receive a usable draft.
package genai

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gemini "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/prakriti-odyssey/odyssey/internal/genai/prompts"
	"github.com/prakriti-odyssey/odyssey/internal/model"
)

//go:embed prompts/quest_draft.txt
var promptFS embed.FS

// DraftSource tells the caller whether a draft came from the live model
// or the offline fallback.
type DraftSource string

const (
	// SourceLive marks a draft parsed from a model response.
	SourceLive DraftSource = "live"
	// SourceFallback marks the deterministic offline draft.
	SourceFallback DraftSource = "fallback"
)

// Config holds draft requester settings.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	Stub        bool // skip the API entirely and serve the offline draft
}

// Client requests quest drafts from Gemini.
type Client struct {
	api   *gemini.Client
	model string
	temp  float32
	stub  bool
}

// New creates a draft requester. A missing API key or a client setup
// error does not fail construction; the client degrades to the offline
// draft instead.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := prompts.Load(promptFS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	c := &Client{
		model: cfg.Model,
		temp:  cfg.Temperature,
		stub:  cfg.Stub,
	}
	if c.model == "" {
		c.model = "gemini-1.5-flash"
	}
	if c.temp == 0 {
		c.temp = 0.8
	}

	if cfg.Stub {
		slog.Info("draft requester in stub mode, serving offline drafts")
		return c, nil
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		slog.Warn("no Gemini API key configured, drafts will use the offline fallback")
		return c, nil
	}

	api, err := gemini.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		slog.Warn("Gemini client setup failed, drafts will use the offline fallback", "error", err)
		return c, nil
	}
	c.api = api
	return c, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	if c.api == nil {
		return nil
	}
	return c.api.Close()
}

// RequestDraft builds the generation prompt, sends it with the PDF as an
// inline part, and parses the JSON draft. Upstream failures are never
// returned as errors: the offline draft is substituted and the source is
// reported as fallback.
func (c *Client) RequestDraft(ctx context.Context, pdf []byte, constraints model.DraftConstraints) (model.QuestDraft, DraftSource) {
	if c.stub || c.api == nil {
		return FallbackDraft(constraints), SourceFallback
	}

	draft, err := c.requestLive(ctx, pdf, constraints)
	if err != nil {
		slog.Warn("draft request failed, falling back to offline draft", "error", err)
		return FallbackDraft(constraints), SourceFallback
	}
	return draft, SourceLive
}

// draftTimeout caps a single generation call.
const draftTimeout = 30 * time.Second

func (c *Client) requestLive(ctx context.Context, pdf []byte, constraints model.DraftConstraints) (model.QuestDraft, error) {
	prompt, err := prompts.BuildDraftPrompt(constraints)
	if err != nil {
		return model.QuestDraft{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, draftTimeout)
	defer cancel()

	m := c.api.GenerativeModel(c.model)
	m.SetTemperature(c.temp)
	m.SetTopP(0.95)
	m.SetTopK(40)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx,
		gemini.Text(prompt),
		gemini.Blob{MIMEType: "application/pdf", Data: pdf},
	)
	if err != nil {
		return model.QuestDraft{}, fmt.Errorf("generate content: %w", err)
	}

	raw, err := firstTextPart(resp)
	if err != nil {
		return model.QuestDraft{}, err
	}
	slog.Debug("draft response", "raw", raw)

	var draft model.QuestDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return model.QuestDraft{}, fmt.Errorf("parse draft JSON: %w", err)
	}

	normalizeDraft(&draft, constraints)
	if err := ValidateDraft(draft); err != nil {
		return model.QuestDraft{}, fmt.Errorf("draft failed validation: %w", err)
	}
	return draft, nil
}

func firstTextPart(resp *gemini.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("response has no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(gemini.Text); ok && text != "" {
			return string(text), nil
		}
	}
	return "", fmt.Errorf("response candidate has no text part")
}

// normalizeDraft backfills identifiers and defaults the model is allowed
// to omit before structural validation.
func normalizeDraft(d *model.QuestDraft, c model.DraftConstraints) {
	if d.Title == "" {
		d.Title = c.Title
	}
	for i := range d.Panels {
		if d.Panels[i].PanelID == "" {
			d.Panels[i].PanelID = fmt.Sprintf("p%d", i+1)
		}
		if d.Panels[i].Layout == "" {
			if i == 0 {
				d.Panels[i].Layout = model.LayoutFull
			} else {
				d.Panels[i].Layout = model.LayoutSplit
			}
		}
	}
	for i := range d.Quiz.Questions {
		if d.Quiz.Questions[i].ID == "" {
			d.Quiz.Questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	if d.Quiz.PassingScore <= 0 {
		d.Quiz.PassingScore = prompts.DefaultPassingScore
	}
	if d.Quiz.TimeLimitSeconds <= 0 {
		d.Quiz.TimeLimitSeconds = prompts.DefaultTimeLimitSeconds
	}
	if d.Rewards.Points <= 0 && d.Rewards.Coins <= 0 {
		d.Rewards = FallbackRewards(c.Difficulty)
	}
}

// ValidateDraft checks the structural contract every draft must satisfy:
// a non-empty title, between one and five panels, exactly three questions
// with four options each, and in-range correct indices.
func ValidateDraft(d model.QuestDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("empty quest title")
	}
	if len(d.Panels) == 0 || len(d.Panels) > prompts.MaxPanels {
		return fmt.Errorf("panel count %d outside 1..%d", len(d.Panels), prompts.MaxPanels)
	}
	for i, p := range d.Panels {
		if p.ImagePrompt == "" {
			return fmt.Errorf("panel %d (%s) has no image prompt", i+1, p.PanelID)
		}
	}
	if len(d.Quiz.Questions) != prompts.NumQuestions {
		return fmt.Errorf("expected %d quiz questions, got %d", prompts.NumQuestions, len(d.Quiz.Questions))
	}
	for i, q := range d.Quiz.Questions {
		if len(q.Options) != prompts.NumOptions {
			return fmt.Errorf("question %d has %d options, want %d", i+1, len(q.Options), prompts.NumOptions)
		}
		if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			return fmt.Errorf("question %d correct index %d out of range", i+1, q.CorrectOption)
		}
	}
	return nil
}
