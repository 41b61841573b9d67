// Package app provides the main Kioku application
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Kioku/internal/kioku/engine"
	"github.com/bdobrica/Kioku/internal/kioku/facts"
	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/matrix"
	"github.com/bdobrica/Kioku/internal/kioku/nlp"
	"github.com/bdobrica/Kioku/internal/kioku/persona"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	Matrix       matrix.Config

	// GeminiAPIKey authenticates both the completion provider and the
	// intent classifier. Required.
	GeminiAPIKey string

	// DefaultModel is the model name new chats start with. When empty the
	// settings registry's built-in default is used.
	DefaultModel string

	// ClassifyModel is the model used for intent classification. When
	// empty the classifier's built-in default is used. Classification runs
	// at a low fixed temperature regardless of chat settings.
	ClassifyModel string

	// HTTPAddr is the TCP address for the optional admin HTTP server
	// (e.g. ":8080"). When empty the server is disabled.
	HTTPAddr string

	// SummarizeDefaultCount and SummarizeChunkTokens tune the
	// summarization path; zero keeps the engine defaults.
	SummarizeDefaultCount int
	SummarizeChunkTokens  int
}

// App is the main Kioku application
type App struct {
	config      *Config
	store       *store.Store
	matrix      *matrix.Client
	engine      *engine.Engine
	gemini      *llm.Gemini
	adminServer *AdminServer
}

// New creates a new Kioku application
func New(ctx context.Context, config *Config) (*App, error) {
	// Initialize database
	slog.Info("opening database", "path", config.DatabasePath)
	db, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize Matrix client.
	// Inject the DB so the client can persist the sync token across restarts.
	matrixCfg := config.Matrix
	matrixCfg.DB = db.DB()
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	// One Gemini client serves both completion and classification.
	gemini, err := llm.NewGemini(ctx, config.GeminiAPIKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	personas, err := persona.Load()
	if err != nil {
		gemini.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load persona presets: %w", err)
	}

	ledgerStore := ledger.New(db)
	factStore := facts.New(db)
	settingsRegistry := settings.New(db, config.DefaultModel)

	// The heuristic keyword matcher backs up the model-based classifier so
	// a classification outage degrades to plain chat instead of an error.
	classifier := nlp.NewClassifier(
		nlp.NewGeminiProvider(gemini.Client(), config.ClassifyModel),
		nlp.NewHeuristic(),
		slog.Default(),
	)

	eng := engine.New(
		ledgerStore, factStore, settingsRegistry, personas,
		classifier, gemini, slog.Default(),
		engine.Config{
			BotUserID:             config.Matrix.UserID,
			BotDisplayName:        config.Matrix.DisplayName,
			SummarizeDefaultCount: config.SummarizeDefaultCount,
			SummarizeChunkTokens:  config.SummarizeChunkTokens,
		},
	)
	slog.Info("memory engine ready",
		"default_model", settingsRegistry.DefaultModel(),
		"tones", personas.Tones(),
	)

	// Optionally build the admin HTTP server.
	var adminServer *AdminServer
	if config.HTTPAddr != "" {
		adminServer = NewAdminServer(config.HTTPAddr, db, ledgerStore, factStore, settingsRegistry)
		slog.Info("admin server configured", "addr", config.HTTPAddr)
	}

	return &App{
		config:      config,
		store:       db,
		matrix:      matrixClient,
		engine:      eng,
		gemini:      gemini,
		adminServer: adminServer,
	}, nil
}

// Run starts the Kioku application
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start admin HTTP server if configured.
	if a.adminServer != nil {
		if err := a.adminServer.Start(ctx); err != nil {
			slog.Warn("admin server failed to start; continuing without it", "err", err)
		}
	}

	// Start Matrix client
	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.engine); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("Kioku is running; press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the Kioku application
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.adminServer != nil {
		slog.Info("stopping admin server")
		a.adminServer.Stop()
	}

	slog.Info("closing Gemini client")
	if err := a.gemini.Close(); err != nil {
		slog.Warn("closing Gemini client failed", "err", err)
	}

	slog.Info("closing database")
	a.store.Close()
}
