// Package main provides the librarydesk CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/librarydesk/cli"
	"github.com/richinex/librarydesk/config"
	"github.com/richinex/librarydesk/internal/logger"
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "librarydesk",
		Short: "LLM assistant for a bookstore inventory and order desk",
		Long: `A bookstore assistant backed by an LLM with tool calling.

The model answers customer and staff questions by calling tools over
the library database: book search, orders, restocking, price updates,
order status and inventory summaries.`,
		SilenceUsage: true,
	}

	// Global flags, bound to settings keys in setup
	rootCmd.PersistentFlags().StringP("provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides LOG_LEVEL")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(initDBCmd())
	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads settings, letting cmd's flags override the environment, and
// installs the process logger.
func setup(cmd *cobra.Command) (config.Settings, *logger.Logger, error) {
	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return config.Settings{}, nil, err
	}
	settings, err := loader.Load("")
	if err != nil {
		return config.Settings{}, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:  settings.Log.Level,
		Pretty: settings.Log.Pretty,
		File:   settings.Log.File,
	})
	if err != nil {
		return config.Settings{}, nil, err
	}
	return settings, log, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := cli.NewApp(ctx, settings, nil, log.Zerolog())
			if err != nil {
				return err
			}
			return cli.Serve(ctx, app)
		},
	}

	cmd.Flags().String("host", "", "Listen host, overrides HOST")
	cmd.Flags().Int("port", 0, "Listen port, overrides PORT")

	return cmd
}

func chatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			app, err := cli.NewApp(ctx, settings, nil, log.Zerolog())
			if err != nil {
				return err
			}
			return cli.Chat(ctx, app, sessionID, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID for conversation context")

	return cmd
}

func initDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Reset the library database and load the sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Close()

			return cli.InitDB(context.Background(), settings.Storage.DatabasePath, os.Stdout)
		},
	}

	cmd.Flags().String("db", "", "Database path, overrides DATABASE_PATH")

	return cmd
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(os.Stdout, verboseTools)
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool parameters")

	return cmd
}
