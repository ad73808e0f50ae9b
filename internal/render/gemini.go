package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	gemini "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/prakriti-odyssey/odyssey/internal/model"
)

// GeminiConfig holds settings for the direct image-generation renderer.
type GeminiConfig struct {
	APIKey       string
	Model        string
	AssetDir     string
	PublicBase   string
	Placeholders []string
	Stub         bool
}

// GeminiRenderer generates one image per panel directly against the
// Gemini image model, writing bytes under the quest's asset directory.
type GeminiRenderer struct {
	cfg GeminiConfig
	api *gemini.Client
}

// NewGeminiRenderer creates the direct renderer. Setup problems degrade
// to placeholder art rather than failing construction.
func NewGeminiRenderer(ctx context.Context, cfg GeminiConfig) *GeminiRenderer {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-exp"
	}
	if cfg.PublicBase == "" {
		cfg.PublicBase = "/generated-quests"
	}
	r := &GeminiRenderer{cfg: cfg}

	if cfg.Stub || strings.TrimSpace(cfg.APIKey) == "" {
		return r
	}
	api, err := gemini.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		slog.Warn("Gemini image client setup failed, panels will use placeholder art", "error", err)
		return r
	}
	r.api = api
	return r
}

// Close releases the underlying API client.
func (r *GeminiRenderer) Close() error {
	if r.api == nil {
		return nil
	}
	return r.api.Close()
}

// RenderPanels generates panel images concurrently. Panels are
// independent; there is no cross-panel ordering. Failed panels fall back
// to the placeholder rotation.
func (r *GeminiRenderer) RenderPanels(ctx context.Context, questID, title string, plans []model.PanelPlan) ([]model.PanelArt, bool) {
	if r.api == nil {
		return FallbackArt(plans, r.cfg.Placeholders), true
	}

	placeholders := r.cfg.Placeholders
	if len(placeholders) == 0 {
		placeholders = DefaultPlaceholders
	}

	art := make([]model.PanelArt, len(plans))
	var degraded atomic.Bool

	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan model.PanelPlan) {
			defer wg.Done()
			id := panelID(plan, i)
			path, err := r.renderOne(ctx, questID, title, i, plan)
			if err != nil {
				slog.Warn("panel generation failed, using placeholder", "panel", id, "error", err)
				path = placeholders[i%len(placeholders)]
				degraded.Store(true)
			}
			art[i] = model.PanelArt{PanelID: id, ImagePath: path}
		}(i, plan)
	}
	wg.Wait()

	return art, degraded.Load()
}

func (r *GeminiRenderer) renderOne(ctx context.Context, questID, title string, index int, plan model.PanelPlan) (string, error) {
	m := r.api.GenerativeModel(r.cfg.Model)
	resp, err := m.GenerateContent(ctx, gemini.Text(buildPanelPrompt(title, plan)))
	if err != nil {
		return "", fmt.Errorf("generate panel image: %w", err)
	}

	data, err := firstImagePart(resp)
	if err != nil {
		return "", err
	}
	return writePanelImage(r.cfg.AssetDir, r.cfg.PublicBase, questID, index, data)
}

func firstImagePart(resp *gemini.GenerateContentResponse) ([]byte, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("response has no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if blob, ok := part.(gemini.Blob); ok && strings.HasPrefix(blob.MIMEType, "image/") {
			return blob.Data, nil
		}
	}
	return nil, fmt.Errorf("response candidate has no image part")
}
