package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/retailctl/internal/app"
	"github.com/florianilch/retailctl/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return rootCommand(nil).Run(ctx, args)
}

// rootCommand builds the command tree. Options are passed to every app.New call.
func rootCommand(opts []app.Option) *cli.Command {
	return &cli.Command{
		Name:  "retailctl",
		Usage: "Lightspeed Retail connection and API client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json), detected from the terminal when unset",
			},
			&cli.StringFlag{
				Name:  "platform--client-id",
				Usage: "OAuth client ID",
			},
			&cli.StringFlag{
				Name:  "platform--redirect-url",
				Usage: "OAuth redirect URL served by the local callback server",
				Value: app.DefaultConfigRedirectURL,
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "credential storage (file|keyring|env)",
				Value: string(app.DefaultConfigStorageType),
			},
			&cli.StringFlag{
				Name:  "storage--file",
				Usage: "credentials file for file storage",
			},
		},
		Commands: []*cli.Command{
			connectCommand(opts),
			statusCommand(opts),
			disconnectCommand(opts),
			requestCommand(opts),
		},
	}
}

func connectCommand(opts []app.Option) *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "authorize access to a store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "domain",
				Aliases:  []string{"d"},
				Usage:    "store domain prefix (the part before .retail.lightspeed.app)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "print the authorization URL without opening a browser",
			},
			&cli.DurationFlag{
				Name:  "connect--timeout",
				Usage: "how long to wait for the browser to return",
				Value: app.DefaultConfigConnectTimeout,
			},
		},
		Action: withApp(opts, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			out := cmd.Root().ErrWriter
			noBrowser := cmd.Bool("no-browser")
			prompt := func(authURL string) {
				fmt.Fprintf(out, "Open this URL to authorize access:\n\n  %s\n\n", authURL)
				if noBrowser {
					return
				}
				if err := openBrowser(ctx, authURL); err != nil {
					slog.DebugContext(ctx, "failed to open browser", "error", err)
				}
			}

			domain := cmd.String("domain")
			if err := application.Connect(ctx, domain, prompt); err != nil {
				return fmt.Errorf("connect failed: %w", err)
			}

			fmt.Fprintf(cmd.Root().Writer, "Connected to %s\n", domain)
			return nil
		}),
	}
}

func statusCommand(opts []app.Option) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the stored connection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "output format (text|json)",
				Value: "text",
			},
		},
		Action: withApp(opts, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			status, err := application.Status(ctx)
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			if cmd.String("output") == "json" {
				return writeJSON(w, status)
			}

			if !status.Connected {
				fmt.Fprintln(w, "Not connected")
				return nil
			}
			fmt.Fprintf(w, "Connected to %s\n", status.Domain)
			if !status.ExpiresAt.IsZero() {
				fmt.Fprintf(w, "Access token expires %s\n", status.ExpiresAt.Local().Format(time.RFC3339))
			}
			return nil
		}),
	}
}

func disconnectCommand(opts []app.Option) *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "forget the stored connection",
		Action: withApp(opts, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			if err := application.Disconnect(ctx); err != nil {
				return fmt.Errorf("disconnect failed: %w", err)
			}
			fmt.Fprintln(cmd.Root().Writer, "Disconnected")
			return nil
		}),
	}
}

func requestCommand(opts []app.Option) *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "call the store API and print the JSON response",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP method",
				Value:   http.MethodGet,
			},
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "query parameter as key=value (repeatable)",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "JSON request body, or @file to read it from a file, or @- for stdin",
			},
		},
		Action: withApp(opts, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("missing API path, e.g. retailctl request /products")
			}

			query, err := parseQuery(cmd.StringSlice("query"))
			if err != nil {
				return err
			}

			body, err := readBody(cmd.String("data"), os.Stdin)
			if err != nil {
				return err
			}

			method := strings.ToUpper(cmd.String("method"))
			raw, err := application.Request(ctx, method, path, query, body)
			if err != nil {
				return err
			}
			return writeJSON(cmd.Root().Writer, raw)
		}),
	}
}

// withApp creates the app for an action and closes it afterwards.
func withApp(opts []app.Option, action func(context.Context, *cli.Command, *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		application, err := newApp(ctx, cmd, opts)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := application.Close(ctx); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to shut down: %w", closeErr))
			}
		}()
		return action(ctx, cmd, application)
	}
}

// newApp loads configuration, sets up logging and creates the app.
func newApp(ctx context.Context, cmd *cli.Command, opts []app.Option) (*app.App, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownTelemetry, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	opts = append([]app.Option{app.WithShutdownFunc(shutdownTelemetry)}, opts...)
	application, err := app.New(cfg, opts...)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to create app: %w", err),
			shutdownTelemetry(context.WithoutCancel(ctx)),
		)
	}
	return application, nil
}

func parseQuery(pairs []string) (url.Values, error) {
	query := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q, expected key=value", pair)
		}
		query.Add(key, value)
	}
	return query, nil
}

// readBody resolves the --data flag into JSON bytes.
func readBody(data string, stdin io.Reader) (json.RawMessage, error) {
	if data == "" {
		return nil, nil
	}

	var raw []byte
	switch {
	case data == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading request body from stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		raw = b
	default:
		raw = []byte(data)
	}

	if !json.Valid(raw) {
		return nil, errors.New("request body is not valid JSON")
	}
	return raw, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
