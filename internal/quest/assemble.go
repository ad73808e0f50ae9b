// Package quest assembles persisted quests from drafts and panel art,
// and scores quiz submissions.
package quest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prakriti-odyssey/odyssey/internal/model"
)

// Reward defaults applied when a draft carries no reward schedule.
const (
	DefaultRewardPoints = 80
	DefaultRewardCoins  = 40
)

var nonAlnumRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases the input, collapses non-alphanumeric runs into
// single dashes, and trims to 60 characters.
func Slugify(input string) string {
	s := strings.ToLower(input)
	s = nonAlnumRegex.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = strings.Trim(s[:60], "-")
	}
	return s
}

// NewQuestID builds a quest id from the title slug, the creation time in
// unix milliseconds, and a short random fragment. The fragment keeps two
// quests with the same title created in the same millisecond distinct.
func NewQuestID(title string, now time.Time) string {
	slug := Slugify(title)
	if slug == "" {
		slug = "sdg13-quest"
	}
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return slug + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + fragment
}

// Assemble merges a draft and its panel art into the persisted quest
// shape. Pure: no I/O. The id is minted with NewQuestID before panel
// rendering so the renderer and the quest share one asset namespace.
func Assemble(id string, draft model.QuestDraft, difficulty model.Difficulty, assignedBy string, art []model.PanelArt, now time.Time) model.Quest {
	artByID := make(map[string]string, len(art))
	for _, a := range art {
		artByID[a.PanelID] = a.ImagePath
	}

	story := make([]model.StoryPanel, len(draft.Panels))
	for i, panel := range draft.Panels {
		id := panel.PanelID
		if id == "" {
			id = fmt.Sprintf("p%d", i+1)
		}
		story[i] = model.StoryPanel{
			ID:          id,
			Title:       panel.Headline,
			Caption:     buildCaption(panel),
			Dialogue:    joinDialogue(panel.Dialogue),
			ImagePrompt: panel.ImagePrompt,
			ImagePath:   artByID[id],
		}
	}

	questions := make([]model.QuizQuestion, len(draft.Quiz.Questions))
	for i, q := range draft.Quiz.Questions {
		questions[i] = model.QuizQuestion{
			ID:            q.ID,
			Question:      q.Question,
			Options:       q.Options,
			CorrectAnswer: q.CorrectOption,
			Explanation:   q.Explanation,
		}
	}

	rewardPoints := draft.Rewards.Points
	if rewardPoints <= 0 {
		rewardPoints = DefaultRewardPoints
	}
	rewardCoins := draft.Rewards.Coins
	if rewardCoins <= 0 {
		rewardCoins = DefaultRewardCoins
	}

	description := draft.Description
	if description == "" {
		description = draft.Summary
	}

	return model.Quest{
		ID:          id,
		Title:       draft.Title,
		Description: description,
		Type:        model.QuestTypeQuiz,
		Difficulty:  difficulty,
		Content: model.QuizContent{
			Story:        story,
			Questions:    questions,
			PassingScore: draft.Quiz.PassingScore,
			TimeLimit:    draft.Quiz.TimeLimitSeconds,
		},
		RewardPoints: rewardPoints,
		RewardCoins:  rewardCoins,
		AssignedBy:   assignedBy,
		IsActive:     true,
		CreatedAt:    now,
	}
}

// buildCaption composes the panel caption from narration, real-time
// anchor, and the action summary, one line each.
func buildCaption(panel model.PanelPlan) string {
	lines := []string{panel.Narration}
	if panel.RealtimeAnchor != "" {
		lines = append(lines, "Real-time context: "+panel.RealtimeAnchor)
	}
	if len(panel.SustainableActions) > 0 {
		lines = append(lines, "Key sustainable actions: "+strings.Join(panel.SustainableActions, ", "))
	}
	var filtered []string
	for _, l := range lines {
		if l != "" {
			filtered = append(filtered, l)
		}
	}
	return strings.Join(filtered, "\n")
}

func joinDialogue(lines []model.DialogueLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Speaker+": "+l.Line)
	}
	return strings.Join(parts, "\n")
}
