// Package handler is the HTTP boundary: multipart in, JSON out. The
// generation pipeline behind POST /api/quests never surfaces upstream
// GenAI failures as errors; the response's degraded flag tells callers
// whether they received live or offline content.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prakriti-odyssey/odyssey/internal/genai"
	appI18n "github.com/prakriti-odyssey/odyssey/internal/i18n"
	"github.com/prakriti-odyssey/odyssey/internal/model"
	"github.com/prakriti-odyssey/odyssey/internal/quest"
	"github.com/prakriti-odyssey/odyssey/internal/render"
	"github.com/prakriti-odyssey/odyssey/internal/store"
)

// DraftRequester produces quest drafts from uploaded PDFs.
type DraftRequester interface {
	RequestDraft(ctx context.Context, pdf []byte, constraints model.DraftConstraints) (model.QuestDraft, genai.DraftSource)
}

// Config holds handler settings.
type Config struct {
	// MaxUploadBytes caps the accepted PDF size.
	MaxUploadBytes int64
}

// DefaultMaxUploadBytes is the default PDF upload cap.
const DefaultMaxUploadBytes = 15 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	drafts   DraftRequester
	renderer render.Renderer
	cfg      Config
}

// New creates a new Handler.
func New(s *store.Store, drafts DraftRequester, renderer render.Renderer, cfg Config) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{store: s, drafts: drafts, renderer: renderer, cfg: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Get("/api/quests", h.handleListQuests)
	r.Group(func(r chi.Router) {
		r.Use(h.requireTeacher)
		r.Post("/api/quests", h.handleCreateQuest)
		r.Patch("/api/quests/{questID}/active", h.handleSetQuestActive)
	})
	r.Post("/api/quests/{questID}/complete", h.handleCompleteQuest)
	r.Get("/api/completions", h.handleListCompletions)
	r.Get("/api/leaderboard", h.handleLeaderboard)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleListQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := h.store.ListQuests()
	if err != nil {
		slog.Error("list quests", "error", err)
		writeError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "error.load_quests"))
		return
	}
	if quests == nil {
		quests = []model.Quest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"quests": quests})
}

// createQuestResponse is the POST /api/quests body. Degraded reports
// whether any pipeline stage served fallback content instead of live
// generation.
type createQuestResponse struct {
	Quest       model.Quest       `json:"quest"`
	Degraded    bool              `json:"degraded"`
	DraftSource genai.DraftSource `json:"draft_source"`
	PanelArt    []model.PanelArt  `json:"panel_art"`
}

func (h *Handler) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("PDF exceeds the %d MiB limit", h.cfg.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := formPDF(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	if header.Size > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("PDF exceeds the %d MiB limit", h.cfg.MaxUploadBytes>>20))
		return
	}

	pdf, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	if len(pdf) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded PDF is empty")
		return
	}

	constraints := model.DraftConstraints{
		Title:        r.FormValue("questTitle"),
		Difficulty:   model.ParseDifficulty(r.FormValue("difficulty")),
		GradeLevel:   r.FormValue("gradeLevel"),
		TeacherNotes: r.FormValue("teacherNotes"),
	}
	assignedBy := r.FormValue("assignedBy")
	if assignedBy == "" {
		assignedBy = r.FormValue("createdBy")
	}
	if assignedBy == "" {
		if u := model.UserFromContext(r.Context()); u != nil {
			assignedBy = u.Username
		}
	}

	draft, draftSource := h.drafts.RequestDraft(r.Context(), pdf, constraints)

	now := time.Now()
	questID := quest.NewQuestID(draft.Title, now)

	art, renderDegraded := h.renderer.RenderPanels(r.Context(), questID, draft.Title, draft.Panels)

	q := quest.Assemble(questID, draft, constraints.Difficulty, assignedBy, art, now)

	if err := h.store.InsertQuest(q, model.SourceGenerated); err != nil {
		slog.Error("insert quest", "quest_id", q.ID, "error", err)
		writeError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "error.create_quest"))
		return
	}

	degraded := renderDegraded || draftSource == genai.SourceFallback
	slog.Info("quest created",
		"quest_id", q.ID,
		"difficulty", q.Difficulty,
		"panels", len(q.Content.Story),
		"draft_source", draftSource,
		"degraded", degraded,
	)

	writeJSON(w, http.StatusCreated, createQuestResponse{
		Quest:       q,
		Degraded:    degraded,
		DraftSource: draftSource,
		PanelArt:    art,
	})
}

// formPDF accepts the upload under either field name seen in the wild.
func formPDF(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range []string{"questPdf", "pdf"} {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
	}
	return nil, nil, fmt.Errorf("missing questPdf file upload")
}

type setActiveRequest struct {
	IsActive bool `json:"is_active"`
}

func (h *Handler) handleSetQuestActive(w http.ResponseWriter, r *http.Request) {
	questID := chi.URLParam(r, "questID")

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	q, err := h.store.SetQuestActive(questID, req.IsActive)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "error.quest_not_found"))
			return
		}
		slog.Error("set quest active", "quest_id", questID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quest": q})
}
