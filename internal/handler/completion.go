package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appI18n "github.com/prakriti-odyssey/odyssey/internal/i18n"
	"github.com/prakriti-odyssey/odyssey/internal/model"
	"github.com/prakriti-odyssey/odyssey/internal/quest"
)

type completeRequest struct {
	UserID  int64 `json:"user_id"`
	Answers []int `json:"answers"`
}

type completeResponse struct {
	Completion model.QuestCompletion `json:"completion"`
	User       model.User            `json:"user"`
}

func (h *Handler) handleCompleteQuest(w http.ResponseWriter, r *http.Request) {
	questID := chi.URLParam(r, "questID")

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	q, err := h.store.GetQuest(questID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "error.quest_not_found"))
			return
		}
		slog.Error("load quest", "quest_id", questID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !q.IsActive {
		writeError(w, http.StatusConflict, "quest is not active")
		return
	}

	user, err := h.store.GetUser(req.UserID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "error.user_not_found"))
			return
		}
		slog.Error("load user", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub := quest.ScoreSubmission(req.Answers, q.Content.Questions)
	points, coins := quest.Rewards(sub, q)

	feedback := appI18n.T(r.Context(), "feedback.failed")
	switch {
	case sub.IsPerfect:
		feedback = appI18n.Td(r.Context(), "feedback.perfect", map[string]any{"Points": points})
	case sub.Score >= q.Content.PassingScore:
		feedback = appI18n.T(r.Context(), "feedback.passed")
	}

	now := time.Now()
	completion := model.QuestCompletion{
		ID:            completionID(q.ID, now),
		UserID:        user.ID,
		QuestID:       q.ID,
		Answers:       req.Answers,
		Score:         sub.Score,
		IsPerfect:     sub.IsPerfect,
		AwardedPoints: points,
		AwardedCoins:  coins,
		Feedback:      feedback,
		CompletedAt:   now,
	}

	if err := h.store.RecordCompletion(completion); err != nil {
		slog.Error("record completion", "quest_id", q.ID, "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := h.store.GetUser(user.ID)
	if err != nil {
		slog.Error("reload user", "user_id", user.ID, "error", err)
		updated = user
	}

	slog.Info("quest completed",
		"quest_id", q.ID,
		"user_id", user.ID,
		"score", sub.Score,
		"perfect", sub.IsPerfect,
		"awarded_points", points,
	)
	writeJSON(w, http.StatusCreated, completeResponse{Completion: completion, User: updated})
}

func completionID(questID string, now time.Time) string {
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "completion-" + questID + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + fragment
}

func (h *Handler) handleListCompletions(w http.ResponseWriter, r *http.Request) {
	var (
		completions []model.QuestCompletion
		err         error
	)
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		completions, err = h.store.ListCompletionsByUser(userID)
	} else {
		completions, err = h.store.ListCompletions()
	}
	if err != nil {
		slog.Error("list completions", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if completions == nil {
		completions = []model.QuestCompletion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"completions": completions})
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.store.Leaderboard(limit)
	if err != nil {
		slog.Error("load leaderboard", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
