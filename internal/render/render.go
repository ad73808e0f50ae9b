// Package render turns panel plans into panel art. Both renderer
// variants honor the same contract: the output covers every input panel
// identifier, with placeholder art substituted for anything the upstream
// service could not deliver.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prakriti-odyssey/odyssey/internal/model"
)

// Renderer resolves image art for a list of panel plans. The returned
// slice always has one entry per plan, each with a non-empty path. The
// boolean reports whether any panel was backfilled from placeholders.
type Renderer interface {
	RenderPanels(ctx context.Context, questID, title string, plans []model.PanelPlan) ([]model.PanelArt, bool)
}

// DefaultPlaceholders is the built-in placeholder rotation, pointing at
// the pre-authored seed quest art under the served static root.
var DefaultPlaceholders = []string{
	"/story-panels/smog-city/p1.png",
	"/story-panels/smog-city/p2.png",
	"/story-panels/smog-city/p3.png",
	"/story-panels/smog-city/p4.png",
	"/story-panels/smog-city/p5.png",
}

// FallbackArt maps every panel plan onto the placeholder rotation.
func FallbackArt(plans []model.PanelPlan, placeholders []string) []model.PanelArt {
	if len(placeholders) == 0 {
		placeholders = DefaultPlaceholders
	}
	art := make([]model.PanelArt, len(plans))
	for i, plan := range plans {
		art[i] = model.PanelArt{
			PanelID:   panelID(plan, i),
			ImagePath: placeholders[i%len(placeholders)],
		}
	}
	return art
}

func panelID(plan model.PanelPlan, index int) string {
	if plan.PanelID != "" {
		return plan.PanelID
	}
	return fmt.Sprintf("p%d", index+1)
}

// writePanelImage persists image bytes under the quest's asset directory
// and returns the path relative to the served static root.
func writePanelImage(assetDir, publicBase, questID string, index int, data []byte) (string, error) {
	dir := filepath.Join(assetDir, questID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}
	filename := fmt.Sprintf("panel-%d.png", index+1)
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("write panel image: %w", err)
	}
	return strings.TrimRight(publicBase, "/") + "/" + questID + "/" + filename, nil
}

// buildPanelPrompt concatenates a panel's story beats and layout
// instruction into a single image-generation prompt.
func buildPanelPrompt(title string, plan model.PanelPlan) string {
	var sb strings.Builder
	sb.WriteString("Comic panel for the quest \"" + title + "\".\n")
	sb.WriteString("Headline: " + plan.Headline + "\n")
	sb.WriteString("Scene: " + plan.Narration + "\n")
	if plan.RealtimeAnchor != "" {
		sb.WriteString("Real-time context: " + plan.RealtimeAnchor + "\n")
	}
	for _, line := range plan.Dialogue {
		sb.WriteString("Dialogue: " + line.Speaker + ": " + line.Line + "\n")
	}
	if len(plan.SustainableActions) > 0 {
		sb.WriteString("Sustainable actions shown: " + strings.Join(plan.SustainableActions, ", ") + "\n")
	}
	if plan.ImagePrompt != "" {
		sb.WriteString("Art direction: " + plan.ImagePrompt + "\n")
	}
	if plan.Layout == model.LayoutFull {
		sb.WriteString("Layout: single immersive hero image filling the panel.\n")
	} else {
		sb.WriteString("Layout: split collage of up to 3 key moments.\n")
	}
	sb.WriteString("Style: kid-friendly vibrant climate action comic, clean lines, dynamic lighting, expressive characters.")
	return sb.String()
}
