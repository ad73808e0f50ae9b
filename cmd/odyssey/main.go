package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/prakriti-odyssey/odyssey/internal/genai"
	"github.com/prakriti-odyssey/odyssey/internal/handler"
	appI18n "github.com/prakriti-odyssey/odyssey/internal/i18n"
	"github.com/prakriti-odyssey/odyssey/internal/model"
	"github.com/prakriti-odyssey/odyssey/internal/render"
	"github.com/prakriti-odyssey/odyssey/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "odyssey",
		Short: "Prakriti Odyssey quest-generation server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `odyssey --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the quest API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "odyssey.db", "SQLite database path")
	f.StringSliceP("seed", "s", []string{"data/quests.json"}, "Paths to seed quest JSON files (repeatable)")
	f.String("static-dir", "public", "Directory served at the web root (placeholder art lives here)")
	f.String("asset-dir", "public/generated-quests", "Directory for generated panel images")
	f.String("gemini-key", "", "Gemini API key (or set ODYSSEY_GEMINI_KEY)")
	f.String("gemini-model", "gemini-1.5-flash", "Gemini model for quest drafts")
	f.Bool("gemini-stub", false, "Skip the draft API and always serve the offline draft")
	f.String("render-variant", "service", "Panel renderer variant (service, gemini)")
	f.StringSlice("render-endpoints", []string{"https://api.nanobanana.com/v1/comics:render"}, "Candidate rendering-service endpoints, tried in order")
	f.String("render-key", "", "Rendering-service API key (or set ODYSSEY_RENDER_KEY)")
	f.String("render-image-model", "gemini-2.0-flash-exp", "Gemini model for direct panel generation")
	f.Bool("render-stub", false, "Skip panel rendering and always use placeholder art")
	f.Bool("render-insecure-retry", false, "Retry once without TLS verification after a certificate failure")
	f.StringSlice("placeholders", nil, "Placeholder image paths used when rendering falls back")
	f.StringP("lang", "l", "en", "Default feedback language (en, hi)")
	f.Int("max-upload-mb", 15, "Maximum accepted PDF size in MiB")
	f.Duration("session-ttl", store.DefaultSessionTTL, "Lifetime of login session tokens")
	f.String("teacher-username", "teacher", "Seeded teacher account username")
	f.String("teacher-password", "", "Initial teacher password (or set ODYSSEY_TEACHER_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export quests and completions as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "odyssey.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ODYSSEY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("odyssey")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/odyssey")
	v.AddConfigPath("/etc/odyssey")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetSessionTTL(v.GetDuration("session-ttl"))

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.CleanupExpiredSessions(); err != nil {
					slog.Warn("session cleanup failed", "error", err)
				}
			}
		}
	}()

	if err := seedTeacher(db, v.GetString("teacher-username"), v.GetString("teacher-password")); err != nil {
		return fmt.Errorf("seed teacher: %w", err)
	}

	if err := loadSeedQuests(db, v.GetStringSlice("seed")); err != nil {
		return fmt.Errorf("load seed quests: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	drafts, err := genai.New(ctx, genai.Config{
		APIKey: v.GetString("gemini-key"),
		Model:  v.GetString("gemini-model"),
		Stub:   v.GetBool("gemini-stub"),
	})
	if err != nil {
		return fmt.Errorf("create draft requester: %w", err)
	}
	defer drafts.Close()

	renderer, closeRenderer := buildRenderer(ctx, v)
	defer closeRenderer()

	h := handler.New(db, drafts, renderer, handler.Config{
		MaxUploadBytes: int64(v.GetInt("max-upload-mb")) << 20,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	// Placeholder art and generated panels are plain static files.
	staticDir := v.GetString("static-dir")
	if staticDir != "" {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/story-panels/*", fileServer.ServeHTTP)
		r.Get("/generated-quests/*", fileServer.ServeHTTP)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"gemini_model", v.GetString("gemini-model"),
		"gemini_stub", v.GetBool("gemini-stub"),
		"render_variant", v.GetString("render-variant"),
		"render_stub", v.GetBool("render-stub"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func buildRenderer(ctx context.Context, v *viper.Viper) (render.Renderer, func()) {
	placeholders := v.GetStringSlice("placeholders")

	if strings.ToLower(v.GetString("render-variant")) == "gemini" {
		g := render.NewGeminiRenderer(ctx, render.GeminiConfig{
			APIKey:       v.GetString("gemini-key"),
			Model:        v.GetString("render-image-model"),
			AssetDir:     v.GetString("asset-dir"),
			Placeholders: placeholders,
			Stub:         v.GetBool("render-stub"),
		})
		return g, func() { _ = g.Close() }
	}

	s := render.NewServiceRenderer(render.ServiceConfig{
		Endpoints:     v.GetStringSlice("render-endpoints"),
		APIKey:        v.GetString("render-key"),
		AssetDir:      v.GetString("asset-dir"),
		Placeholders:  placeholders,
		Timeout:       60 * time.Second,
		InsecureRetry: v.GetBool("render-insecure-retry"),
		Stub:          v.GetBool("render-stub"),
	})
	return s, func() {}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	quests, err := db.ListQuests()
	if err != nil {
		return fmt.Errorf("list quests: %w", err)
	}
	completions, err := db.ListCompletions()
	if err != nil {
		return fmt.Errorf("list completions: %w", err)
	}

	export := map[string]any{
		"quests":      quests,
		"completions": completions,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

type seedFile struct {
	Quests []model.Quest `json:"quests"`
}

// loadSeedQuests imports pre-authored quests. A file is imported once;
// re-imports of a changed file are skipped so existing completions keep
// pointing at stable quest content.
func loadSeedQuests(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Warn("seed file missing, skipping", "path", path)
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("seed file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("seed file changed since last import, skipping to keep existing quest ids stable",
				"path", path)
			continue
		}

		var seed seedFile
		if err := json.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, q := range seed.Quests {
			if q.CreatedAt.IsZero() {
				q.CreatedAt = time.Now()
			}
			if err := db.InsertQuest(q, model.SourceSeed); err != nil {
				return fmt.Errorf("insert seed quest %s from %s: %w", q.ID, path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported seed quests", "path", path, "count", len(seed.Quests))
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedTeacher(db *store.Store, username, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("teacher password is required: set --teacher-password flag or ODYSSEY_TEACHER_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash teacher password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     username,
		DisplayName:  "Class Teacher",
		PasswordHash: string(hash),
		Role:         model.UserRoleTeacher,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create teacher user: %w", err)
	}

	slog.Info("seeded teacher user", "username", username)
	return nil
}
