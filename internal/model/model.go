package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Points and Coins accumulate from
// perfect quest runs.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Points       int       `json:"points"`
	Coins        int       `json:"coins"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Difficulty represents quest difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes a difficulty string, defaulting to medium.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s)
	}
	return DifficultyMedium
}

// PanelLayout is a layout hint for a story panel.
type PanelLayout string

const (
	// LayoutFull is a single immersive full-bleed image.
	LayoutFull PanelLayout = "full"
	// LayoutSplit collages up to three key moments in one panel.
	LayoutSplit PanelLayout = "split"
)

// DialogueLine is one speech-bubble line in a panel.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Line    string `json:"line"`
}

// PanelPlan is one narrative beat produced by the draft requester.
type PanelPlan struct {
	PanelID            string         `json:"panel_id"`
	Layout             PanelLayout    `json:"layout"`
	Headline           string         `json:"headline"`
	Narration          string         `json:"narration"`
	RealtimeAnchor     string         `json:"realtime_anchor"`
	Dialogue           []DialogueLine `json:"dialogue"`
	SustainableActions []string       `json:"sustainable_actions"`
	SDGAlignment       string         `json:"sdg_alignment"`
	NEP2020Link        string         `json:"nep2020_link"`
	ImagePrompt        string         `json:"image_prompt"`
}

// QuizPlanQuestion is a draft quiz question before assembly.
type QuizPlanQuestion struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Explanation   string   `json:"explanation"`
}

// QuizPlan is the quiz portion of a quest draft.
type QuizPlan struct {
	PassingScore     int                `json:"passing_score"`
	TimeLimitSeconds int                `json:"time_limit_seconds"`
	Questions        []QuizPlanQuestion `json:"questions"`
}

// RewardPlan carries draft reward amounts.
type RewardPlan struct {
	Points int `json:"points"`
	Coins  int `json:"coins"`
}

// QuestDraft is the ephemeral output of the draft requester. It is
// consumed immediately by the assembler and never persisted.
type QuestDraft struct {
	Title           string      `json:"quest_title"`
	Summary         string      `json:"quest_summary"`
	Description     string      `json:"quest_description"`
	PositiveOutcome string      `json:"positive_outcome"`
	Panels          []PanelPlan `json:"panels"`
	Quiz            QuizPlan    `json:"quiz"`
	Rewards         RewardPlan  `json:"rewards"`
}

// PanelArt pairs a panel identifier with a resolved image location,
// either a path under the served static root or a remote URL.
type PanelArt struct {
	PanelID   string `json:"panel_id"`
	ImagePath string `json:"image_path"`
}

// StoryPanel is a comic panel embedded in a persisted quest.
type StoryPanel struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Caption     string `json:"caption"`
	Dialogue    string `json:"dialogue,omitempty"`
	ImagePrompt string `json:"image_prompt"`
	ImagePath   string `json:"image_path"`
}

// QuizQuestion is a persisted multiple-choice question.
type QuizQuestion struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// QuizContent embeds the story panels and quiz for a quest.
type QuizContent struct {
	Story        []StoryPanel   `json:"story"`
	Questions    []QuizQuestion `json:"questions"`
	PassingScore int            `json:"passing_score"`
	TimeLimit    int            `json:"time_limit"`
}

// QuestSource marks where a stored quest came from.
type QuestSource string

const (
	// SourceSeed marks quests imported from the seed file.
	SourceSeed QuestSource = "seed"
	// SourceGenerated marks quests produced by the generation pipeline.
	SourceGenerated QuestSource = "generated"
)

// QuestTypeQuiz is the only quest type the generation pipeline produces.
const QuestTypeQuiz = "quiz"

// Quest is the persisted unit. Immutable after creation except for the
// IsActive toggle.
type Quest struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Type         string      `json:"type"`
	Difficulty   Difficulty  `json:"difficulty"`
	Content      QuizContent `json:"content"`
	RewardPoints int         `json:"reward_points"`
	RewardCoins  int         `json:"reward_coins"`
	AssignedBy   string      `json:"assigned_by,omitempty"`
	IsActive     bool        `json:"is_active"`
	CreatedAt    time.Time   `json:"created_at"`
}

// SkippedAnswer is the sentinel for a question the student did not attempt.
const SkippedAnswer = -1

// QuestCompletion records one user's quiz attempt. Append-only.
type QuestCompletion struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	QuestID       string    `json:"quest_id"`
	Answers       []int     `json:"answers"`
	Score         int       `json:"score"`
	IsPerfect     bool      `json:"is_perfect"`
	AwardedPoints int       `json:"awarded_points"`
	AwardedCoins  int       `json:"awarded_coins"`
	Feedback      string    `json:"feedback"`
	CompletedAt   time.Time `json:"completed_at"`
}

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
	Coins       int    `json:"coins"`
}

// DraftConstraints carries the teacher-supplied generation inputs.
type DraftConstraints struct {
	Title        string
	Difficulty   Difficulty
	GradeLevel   string
	TeacherNotes string
}
