package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/bdobrica/Kioku/common/environment"
	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/matrix"
)

func main() {
	fmt.Printf("Kioku Conversation Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// Load a local .env when present; real deployments set the environment
	// directly and have no .env file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	kioku, err := app.New(context.Background(), config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Kioku: %v\n", err)
		os.Exit(1)
	}
	defer kioku.Stop()

	if err := kioku.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Kioku: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables
func loadConfig() (*app.Config, error) {
	homeserver, err := environment.RequiredString("MATRIX_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("MATRIX_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("MATRIX_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}
	geminiKey, err := environment.RequiredString("GEMINI_API_KEY")
	if err != nil {
		return nil, err
	}

	return &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./kioku.db"),
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
			DisplayName: environment.StringOr("BOT_DISPLAY_NAME", "Kioku"),
		},
		GeminiAPIKey:          geminiKey,
		DefaultModel:          environment.StringOr("DEFAULT_MODEL", ""),
		ClassifyModel:         environment.StringOr("CLASSIFY_MODEL", ""),
		HTTPAddr:              environment.StringOr("HTTP_ADDR", ""),
		SummarizeDefaultCount: environment.IntOr("SUMMARIZE_DEFAULT_COUNT", 0),
		SummarizeChunkTokens:  environment.IntOr("SUMMARIZE_CHUNK_TOKENS", 0),
	}, nil
}
