// Command cardsync-cli is the operational counterpart to the cardsync
// server: webhook subscription management and one-time BigQuery table
// provisioning. It never touches the hot path.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cardsync/internal/config"
	"cardsync/internal/source"
	"cardsync/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "webhook":
		handleWebhook(ctx, cfg)
	case "tables":
		handleTables(ctx, cfg)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`cardsync-cli - Operational CLI for cardsync

Usage:
  cardsync-cli <command> <subcommand> [options]

Commands:
  webhook register [--board-id ID] [--callback-url URL] [--description TEXT]
                     Register a webhook (defaults to CALLBACK_URL env var)
  webhook list       List webhooks for the configured token
  webhook delete <webhook_id>
                     Delete a webhook by id

  tables create      Create the BigQuery tables cardsync reads and writes

  help               Show this help message

Examples:
  cardsync-cli webhook register --board-id abc123
  cardsync-cli webhook list
  cardsync-cli webhook delete 64f1...
  cardsync-cli tables create

Environment Variables Required:
  SOURCE_PROJECT    - BigQuery project
  SOURCE_API_KEY    - Trello API key
  SOURCE_API_TOKEN  - Trello API token
  CALLBACK_URL      - Default webhook callback URL
  EXTRACTOR_API_KEY - LLM API key (not needed for CLI commands, but required by config.Load)`)
}

func handleWebhook(ctx context.Context, cfg *config.Config) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: webhook subcommand required (register|list|delete)")
		os.Exit(1)
	}

	client := source.NewClient(cfg.SourceAPIKey, cfg.SourceAPIToken, cfg.SourceFetchTimeout, slog.Default())

	switch os.Args[2] {
	case "register":
		boardID, callbackURL, description := parseRegisterFlags(cfg, os.Args[3:])
		if boardID == "" || callbackURL == "" {
			fmt.Fprintln(os.Stderr, "Error: --board-id and --callback-url (or CALLBACK_URL) are required")
			os.Exit(1)
		}
		webhook, err := client.RegisterWebhook(ctx, boardID, callbackURL, description)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to register webhook: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registered webhook: %s -> %s\n", webhook.ID, webhook.CallbackURL)

	case "list":
		webhooks, err := client.ListWebhooks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list webhooks: %v\n", err)
			os.Exit(1)
		}
		if len(webhooks) == 0 {
			fmt.Println("No webhooks found.")
			return
		}
		for _, hook := range webhooks {
			fmt.Printf("%s | active=%v | model=%s | callback=%s\n", hook.ID, hook.Active, hook.IDModel, hook.CallbackURL)
		}

	case "delete":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Error: webhook_id required")
			fmt.Fprintln(os.Stderr, "Usage: cardsync-cli webhook delete <webhook_id>")
			os.Exit(1)
		}
		if err := client.DeleteWebhook(ctx, os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to delete webhook: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted webhook %s\n", os.Args[3])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown webhook subcommand %q\n", os.Args[2])
		os.Exit(1)
	}
}

func parseRegisterFlags(cfg *config.Config, args []string) (boardID, callbackURL, description string) {
	callbackURL = cfg.CallbackURL
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--board-id":
			if i+1 < len(args) {
				boardID = args[i+1]
				i++
			}
		case "--callback-url":
			if i+1 < len(args) {
				callbackURL = args[i+1]
				i++
			}
		case "--description":
			if i+1 < len(args) {
				description = args[i+1]
				i++
			}
		}
	}
	return boardID, callbackURL, description
}

func handleTables(ctx context.Context, cfg *config.Config) {
	if len(os.Args) < 3 || os.Args[2] != "create" {
		fmt.Fprintln(os.Stderr, "Error: unknown tables subcommand, expected 'create'")
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg.SourceProject, cfg.SourceDataset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	fmt.Printf("Creating tables in %s.%s...\n", cfg.SourceProject, cfg.SourceDataset)
	if err := st.CreateTables(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create tables: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Tables ready.")
}
