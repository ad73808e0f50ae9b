package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/prakriti-odyssey/odyssey/internal/genai"
	appI18n "github.com/prakriti-odyssey/odyssey/internal/i18n"
	"github.com/prakriti-odyssey/odyssey/internal/model"
	"github.com/prakriti-odyssey/odyssey/internal/render"
	"github.com/prakriti-odyssey/odyssey/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeDrafts returns a fixed draft and source without touching the
// network.
type fakeDrafts struct {
	draft  model.QuestDraft
	source genai.DraftSource
}

func (f fakeDrafts) RequestDraft(_ context.Context, _ []byte, c model.DraftConstraints) (model.QuestDraft, genai.DraftSource) {
	if f.source == "" {
		return genai.FallbackDraft(c), genai.SourceFallback
	}
	return f.draft, f.source
}

// fakeRenderer resolves every panel to a fixed path.
type fakeRenderer struct {
	degraded bool
}

func (f fakeRenderer) RenderPanels(_ context.Context, questID, _ string, plans []model.PanelPlan) ([]model.PanelArt, bool) {
	art := make([]model.PanelArt, len(plans))
	for i, p := range plans {
		id := p.PanelID
		if id == "" {
			id = fmt.Sprintf("p%d", i+1)
		}
		art[i] = model.PanelArt{
			PanelID:   id,
			ImagePath: fmt.Sprintf("/generated-quests/%s/panel-%d.png", questID, i+1),
		}
	}
	return art, f.degraded
}

type testEnv struct {
	store  *store.Store
	router chi.Router
}

func newTestEnv(t *testing.T, drafts DraftRequester, renderer render.Renderer) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, drafts, renderer, Config{})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return &testEnv{store: s, router: r}
}

func (e *testEnv) createTeacher(t *testing.T, username, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	id, err := e.store.CreateUser(model.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         model.UserRoleTeacher,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := e.store.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	return token
}

func (e *testEnv) createStudent(t *testing.T, username string) int64 {
	t.Helper()
	id, err := e.store.CreateUser(model.User{
		Username: username,
		Role:     model.UserRoleStudent,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

// multipartPDF builds a quest-creation form with a PDF upload and extra
// string fields.
func multipartPDF(t *testing.T, fieldName string, pdf []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fieldName != "" {
		fw, err := mw.CreateFormFile(fieldName, "lesson.pdf")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(pdf); err != nil {
			t.Fatalf("write pdf: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func doRequest(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateQuest(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	token := env.createTeacher(t, "teacher", "secret")

	body, contentType := multipartPDF(t, "questPdf", []byte("%PDF-1.4 climate lesson"), map[string]string{
		"questTitle": "Monsoon Watch",
		"difficulty": "hard",
		"gradeLevel": "Grade 7",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := doRequest(env, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createQuestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	q := resp.Quest
	if q.Title != "Monsoon Watch" {
		t.Errorf("title: got %q", q.Title)
	}
	if q.Difficulty != model.DifficultyHard {
		t.Errorf("difficulty: got %q", q.Difficulty)
	}
	// Hard offline tier.
	if q.RewardPoints != 120 || q.RewardCoins != 60 {
		t.Errorf("rewards: got %d/%d, want 120/60", q.RewardPoints, q.RewardCoins)
	}
	if len(q.Content.Story) != 5 {
		t.Errorf("expected 5 panels, got %d", len(q.Content.Story))
	}
	if len(q.Content.Questions) != 3 {
		t.Errorf("expected 3 questions, got %d", len(q.Content.Questions))
	}
	for i, p := range q.Content.Story {
		if p.ImagePath == "" {
			t.Errorf("panel %d missing image path", i)
		}
	}
	if !q.IsActive {
		t.Error("new quest should be active")
	}
	if q.AssignedBy != "teacher" {
		t.Errorf("assigned_by should default to the session user, got %q", q.AssignedBy)
	}
	if !strings.HasPrefix(q.ID, "monsoon-watch-") {
		t.Errorf("quest id: got %q", q.ID)
	}

	// The offline draft marks the result degraded.
	if !resp.Degraded {
		t.Error("expected degraded response for fallback draft")
	}
	if resp.DraftSource != genai.SourceFallback {
		t.Errorf("draft source: got %q", resp.DraftSource)
	}
	if len(resp.PanelArt) != 5 {
		t.Errorf("expected 5 panel art entries, got %d", len(resp.PanelArt))
	}

	// Quest persisted.
	stored, err := env.store.GetQuest(q.ID)
	if err != nil {
		t.Fatalf("GetQuest: %v", err)
	}
	if stored.Title != q.Title {
		t.Errorf("stored title: got %q", stored.Title)
	}
}

func TestCreateQuestLiveDraftNotDegraded(t *testing.T) {
	draft := genai.FallbackDraft(model.DraftConstraints{Title: "Live Quest"})
	env := newTestEnv(t, fakeDrafts{draft: draft, source: genai.SourceLive}, fakeRenderer{})
	token := env.createTeacher(t, "teacher", "secret")

	body, contentType := multipartPDF(t, "pdf", []byte("%PDF-1.4"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := doRequest(env, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createQuestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Degraded {
		t.Error("live draft with successful rendering should not be degraded")
	}
	if resp.DraftSource != genai.SourceLive {
		t.Errorf("draft source: got %q", resp.DraftSource)
	}
}

func TestCreateQuestErrors(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	token := env.createTeacher(t, "teacher", "secret")

	t.Run("missing file", func(t *testing.T) {
		body, contentType := multipartPDF(t, "", nil, map[string]string{"difficulty": "easy"})
		req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)

		rec := doRequest(env, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		body, contentType := multipartPDF(t, "questPdf", nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)

		rec := doRequest(env, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("no auth", func(t *testing.T) {
		body, contentType := multipartPDF(t, "questPdf", []byte("%PDF"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
		req.Header.Set("Content-Type", contentType)

		rec := doRequest(env, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("student token forbidden", func(t *testing.T) {
		studentID := env.createStudent(t, "riya")
		studentToken, err := env.store.CreateAuthSession(studentID)
		if err != nil {
			t.Fatalf("CreateAuthSession: %v", err)
		}

		body, contentType := multipartPDF(t, "questPdf", []byte("%PDF"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+studentToken)

		rec := doRequest(env, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}

func TestUploadSizeLimit(t *testing.T) {
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, fakeDrafts{}, fakeRenderer{}, Config{MaxUploadBytes: 1 << 10})
	r := chi.NewRouter()
	h.Routes(r)
	env := &testEnv{store: s, router: r}
	token := env.createTeacher(t, "teacher", "secret")

	tests := []struct {
		name string
		size int
	}{
		// Over the cap but under the request body hard limit: the file
		// header size check rejects it.
		{name: "over cap", size: 2 << 10},
		// Over cap plus the 1 MiB slack: MaxBytesReader trips inside the
		// multipart parse, which must still answer 413, not 400.
		{name: "over body limit", size: 2 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartPDF(t, "questPdf", bytes.Repeat([]byte("x"), tt.size), nil)
			req := httptest.NewRequest(http.MethodPost, "/api/quests", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+token)

			rec := doRequest(env, req)
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListQuests(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})

	req := httptest.NewRequest(http.MethodGet, "/api/quests", nil)
	rec := doRequest(env, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Quests []model.Quest `json:"quests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Quests == nil {
		t.Error("quests should be an empty array, not null")
	}
	if len(resp.Quests) != 0 {
		t.Errorf("expected no quests, got %d", len(resp.Quests))
	}
}

func TestSetQuestActive(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	token := env.createTeacher(t, "teacher", "secret")
	insertQuizQuest(t, env.store, "quest-1", true)

	patch := func(questID string, active bool) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]bool{"is_active": active})
		req := httptest.NewRequest(http.MethodPatch, "/api/quests/"+questID+"/active", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		return doRequest(env, req)
	}

	rec := patch("quest-1", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Quest model.Quest `json:"quest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Quest.IsActive {
		t.Error("expected quest deactivated")
	}

	rec = patch("missing", false)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	env.createTeacher(t, "teacher", "secret")

	login := func(username, password string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"username": username, "password": password})
		req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
		return doRequest(env, req)
	}

	rec := login("teacher", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if resp.User.Username != "teacher" {
		t.Errorf("user: got %q", resp.User.Username)
	}

	rec = login("teacher", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rec.Code)
	}

	rec = login("ghost", "secret")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", rec.Code)
	}
}

// insertQuizQuest stores a minimal three-question quest for completion
// tests.
func insertQuizQuest(t *testing.T, s *store.Store, id string, active bool) {
	t.Helper()
	err := s.InsertQuest(model.Quest{
		ID:         id,
		Title:      "Quiz",
		Type:       model.QuestTypeQuiz,
		Difficulty: model.DifficultyMedium,
		Content: model.QuizContent{
			Story: []model.StoryPanel{{ID: "p1", Caption: "c", ImagePath: "/story-panels/smog-city/p1.png"}},
			Questions: []model.QuizQuestion{
				{ID: "q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 0},
				{ID: "q2", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1},
				{ID: "q3", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 2},
			},
			PassingScore: 70,
			TimeLimit:    240,
		},
		RewardPoints: 90,
		RewardCoins:  45,
		IsActive:     active,
		CreatedAt:    time.Now(),
	}, model.SourceGenerated)
	if err != nil {
		t.Fatalf("insertQuizQuest: %v", err)
	}
}

func TestCompleteQuest(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	insertQuizQuest(t, env.store, "quest-1", true)
	userID := env.createStudent(t, "riya")

	complete := func(questID string, userID int64, answers []int) *httptest.ResponseRecorder {
		body, _ := json.Marshal(completeRequest{UserID: userID, Answers: answers})
		req := httptest.NewRequest(http.MethodPost, "/api/quests/"+questID+"/complete", bytes.NewReader(body))
		return doRequest(env, req)
	}

	// Perfect run earns the full reward.
	rec := complete("quest-1", userID, []int{0, 1, 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp completeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Completion.Score != 100 || !resp.Completion.IsPerfect {
		t.Errorf("expected perfect 100, got %d perfect=%v", resp.Completion.Score, resp.Completion.IsPerfect)
	}
	if resp.Completion.AwardedPoints != 90 || resp.Completion.AwardedCoins != 45 {
		t.Errorf("awards: got %d/%d", resp.Completion.AwardedPoints, resp.Completion.AwardedCoins)
	}
	if resp.User.Points != 90 || resp.User.Coins != 45 {
		t.Errorf("user balance: got %d/%d", resp.User.Points, resp.User.Coins)
	}
	if !strings.Contains(resp.Completion.Feedback, "90") {
		t.Errorf("perfect feedback should name the awarded points, got %q", resp.Completion.Feedback)
	}

	// Partial run passes but earns nothing.
	rec = complete("quest-1", userID, []int{0, 1, 3})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Completion.Score != 67 {
		t.Errorf("score: got %d, want 67", resp.Completion.Score)
	}
	if resp.Completion.AwardedPoints != 0 || resp.Completion.AwardedCoins != 0 {
		t.Errorf("imperfect run awarded %d/%d", resp.Completion.AwardedPoints, resp.Completion.AwardedCoins)
	}
	if resp.User.Points != 90 {
		t.Errorf("balance changed on imperfect run: %d", resp.User.Points)
	}

	// Skipped questions are excluded from the percentage but a partial
	// perfect still pays out.
	rec = complete("quest-1", userID, []int{0, model.SkippedAnswer, model.SkippedAnswer})
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Completion.Score != 100 || !resp.Completion.IsPerfect {
		t.Errorf("skip-heavy run: got %d perfect=%v", resp.Completion.Score, resp.Completion.IsPerfect)
	}

	// Errors.
	rec = complete("missing", userID, []int{0})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown quest: expected 404, got %d", rec.Code)
	}
	rec = complete("quest-1", userID+100, []int{0})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", rec.Code)
	}

	insertQuizQuest(t, env.store, "quest-2", false)
	rec = complete("quest-2", userID, []int{0})
	if rec.Code != http.StatusConflict {
		t.Errorf("inactive quest: expected 409, got %d", rec.Code)
	}
}

func TestListCompletions(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	insertQuizQuest(t, env.store, "quest-1", true)
	u1 := env.createStudent(t, "riya")
	u2 := env.createStudent(t, "arjun")

	for _, userID := range []int64{u1, u2} {
		body, _ := json.Marshal(completeRequest{UserID: userID, Answers: []int{0, 1, 2}})
		req := httptest.NewRequest(http.MethodPost, "/api/quests/quest-1/complete", bytes.NewReader(body))
		if rec := doRequest(env, req); rec.Code != http.StatusCreated {
			t.Fatalf("complete: got %d", rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/completions", nil)
	rec := doRequest(env, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Completions []model.QuestCompletion `json:"completions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Completions) != 2 {
		t.Errorf("expected 2 completions, got %d", len(resp.Completions))
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/completions?user_id=%d", u1), nil)
	rec = doRequest(env, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Completions) != 1 {
		t.Errorf("expected 1 completion for user, got %d", len(resp.Completions))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/completions?user_id=bogus", nil)
	rec = doRequest(env, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad user_id, got %d", rec.Code)
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, fakeDrafts{}, fakeRenderer{})
	insertQuizQuest(t, env.store, "quest-1", true)
	u1 := env.createStudent(t, "riya")
	env.createStudent(t, "arjun")

	// Riya earns a perfect run.
	body, _ := json.Marshal(completeRequest{UserID: u1, Answers: []int{0, 1, 2}})
	req := httptest.NewRequest(http.MethodPost, "/api/quests/quest-1/complete", bytes.NewReader(body))
	if rec := doRequest(env, req); rec.Code != http.StatusCreated {
		t.Fatalf("complete: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := doRequest(env, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Entries []model.LeaderboardEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[0].Username != "riya" || resp.Entries[0].Points != 90 {
		t.Errorf("leader: got %+v", resp.Entries[0])
	}
	if resp.Entries[0].Rank != 1 || resp.Entries[1].Rank != 2 {
		t.Errorf("ranks: got %d, %d", resp.Entries[0].Rank, resp.Entries[1].Rank)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard?limit=1", nil)
	rec = doRequest(env, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Errorf("expected 1 entry with limit, got %d", len(resp.Entries))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard?limit=-2", nil)
	rec = doRequest(env, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", rec.Code)
	}
}
