package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/prakriti-odyssey/odyssey/internal/model"
)

var instructionTagRegex = regexp.MustCompile(`(?i)</?\s*(system-instructions|teacher-notes)\b[^>]*>`)

const maxHintRunes = 2000

var (
	loadOnce  sync.Once
	loadErr   error
	draftTmpl *template.Template
)

// DraftData holds template data for the quest draft prompt.
type DraftData struct {
	Title        string
	GradeLevel   string
	TeacherNotes string
	Difficulty   string
	MaxPanels    int
	NumQuestions int
	NumOptions   int
	PassingScore int
	TimeLimit    int
}

// Load parses the prompt templates from the given filesystem. Safe to
// call more than once; only the first call does work.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		content, err := fs.ReadFile(fsys, "prompts/quest_draft.txt")
		if err != nil {
			loadErr = errors.New("read prompt file prompts/quest_draft.txt: " + err.Error())
			return
		}
		tmpl, err := template.New("draft").Parse(string(content))
		if err != nil {
			loadErr = errors.New("parse prompt template quest_draft.txt: " + err.Error())
			return
		}
		draftTmpl = tmpl
	})
	return loadErr
}

// BuildDraftPrompt renders the quest generation prompt for the given
// teacher constraints. The uploaded PDF is attached separately as an
// inline part; the prompt only references it.
func BuildDraftPrompt(c model.DraftConstraints) (string, error) {
	if draftTmpl == nil {
		return "", errors.New("templates not initialized: call Load first")
	}

	data := DraftData{
		Title:        sanitizeHint(c.Title),
		GradeLevel:   sanitizeHint(c.GradeLevel),
		TeacherNotes: sanitizeHint(c.TeacherNotes),
		Difficulty:   string(c.Difficulty),
		MaxPanels:    MaxPanels,
		NumQuestions: NumQuestions,
		NumOptions:   NumOptions,
		PassingScore: DefaultPassingScore,
		TimeLimit:    DefaultTimeLimitSeconds,
	}

	var buf bytes.Buffer
	if err := draftTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render draft prompt: %w", err)
	}
	return buf.String(), nil
}

// Structural constants baked into the prompt. The draft validator in the
// genai package enforces the same numbers on the way back.
const (
	MaxPanels               = 5
	NumQuestions            = 3
	NumOptions              = 4
	DefaultPassingScore     = 70
	DefaultTimeLimitSeconds = 240
)

// sanitizeHint strips instruction-like markup from teacher-supplied free
// text and clamps its length before it is embedded in the prompt.
func sanitizeHint(s string) string {
	s = instructionTagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxHintRunes {
		runes := []rune(s)
		s = string(runes[:maxHintRunes])
	}
	return s
}
