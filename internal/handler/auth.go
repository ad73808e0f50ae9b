package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/prakriti-odyssey/odyssey/internal/i18n"
	"github.com/prakriti-odyssey/odyssey/internal/model"
)

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	user, err := h.store.GetUserByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		slog.Error("lookup user", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil || !user.Active {
		writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "error.invalid_credentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "error.invalid_credentials"))
		return
	}

	token, err := h.store.CreateAuthSession(user.ID)
	if err != nil {
		slog.Error("create auth session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("user logged in", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: *user})
}

// requireTeacher authenticates the bearer token and requires a teacher
// or admin role for the mutating quest routes.
func (h *Handler) requireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		sess, err := h.store.GetAuthSession(token)
		if err != nil {
			slog.Error("lookup auth session", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		user, err := h.store.GetUser(sess.UserID)
		if err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			slog.Error("lookup session user", "user_id", sess.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !user.Active || (user.Role != model.UserRoleTeacher && user.Role != model.UserRoleAdmin) {
			writeError(w, http.StatusForbidden, "teacher role required")
			return
		}

		next.ServeHTTP(w, r.WithContext(model.ContextWithUser(r.Context(), &user)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
