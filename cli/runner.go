// Command execution for CLI commands.
//
// Information Hiding:
// - Command dispatch logic hidden
// - Terminal chat loop hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/richinex/librarydesk/server"
	"github.com/richinex/librarydesk/storage"
	"github.com/richinex/librarydesk/tools"
)

// shutdownTimeout bounds draining the call log on exit.
const shutdownTimeout = 10 * time.Second

// closeApp closes a with a fresh deadline, independent of the command context.
func closeApp(a *App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, a *App) error {
	defer closeApp(a)

	srv, err := server.New(server.Options{
		Addr:    a.Settings.Server.Addr(),
		Logger:  a.Logger.With().Str("component", "server").Logger(),
		Metrics: a.Metrics,
	}, a.Agent, a.Sessions, a.Store)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Chat runs an interactive session reading lines from in.
// The transcript is saved like the HTTP chat endpoint does.
func Chat(ctx context.Context, a *App, sessionID string, in io.Reader, out io.Writer) error {
	defer closeApp(a)

	if sessionID == "" {
		sessionID = server.DefaultSessionID
	}

	fmt.Fprintf(out, "Library desk chat (session %s). Type 'exit' to quit.\n\n", sessionID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if err := a.Store.SaveMessage(ctx, sessionID, "user", line); err != nil {
			return err
		}
		reply := a.Agent.Respond(ctx, sessionID, line)
		if err := a.Store.SaveMessage(ctx, sessionID, "assistant", reply.Text); err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%s\n\n", reply.Text)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// InitDB drops and recreates the schema at path, then seeds it.
func InitDB(ctx context.Context, path string, out io.Writer) error {
	store, err := storage.OpenSqlite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reset(ctx); err != nil {
		return err
	}
	if err := store.Seed(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database initialized at %s\n", path)
	return nil
}

// ListTools prints the tool catalogue, with parameters when verbose.
func ListTools(out io.Writer, verbose bool) error {
	store, err := storage.NewSqliteInMemory()
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := tools.NewLibraryRegistry(store, tools.Config{})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Available tools:")
	fmt.Fprintln(out)

	for _, meta := range registry.List() {
		fmt.Fprintf(out, "  %s\n", meta.Name)
		fmt.Fprintf(out, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(out, "    Parameters:")
			for _, param := range meta.Parameters {
				printParam(out, param, "      ")
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}

func printParam(out io.Writer, param tools.ToolParameter, indent string) {
	req := ""
	if param.Required {
		req = "*"
	}
	line := fmt.Sprintf("%s%s%s: %s - %s", indent, param.Name, req, param.ParamType, param.Description)
	if len(param.Enum) > 0 {
		line += fmt.Sprintf(" (one of %s)", strings.Join(param.Enum, ", "))
	}
	fmt.Fprintln(out, line)

	if param.Items != nil {
		for _, p := range param.Items.Properties {
			printParam(out, p, indent+"  ")
		}
	}
	for _, p := range param.Properties {
		printParam(out, p, indent+"  ")
	}
}
