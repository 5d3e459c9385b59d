package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"arclink/cmd/internal/devserver"

	"github.com/spf13/cobra"
)

// BuildVersion is set at link time.
var BuildVersion = "dev"

type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg Config
	log Logger
}

// NewRootCommand builds the arclink command tree.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "arclink",
		Short:         "arclink session and chat client",
		Long:          "Client for the chat backend: keeps a session alive across credential expiry and a chat channel alive across network loss.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "TOML config file (default $ARCLINK_CONFIG)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.logFormat, "log-format", "", "log format: json, text, pretty")
	pf.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		c.loginCommand(),
		c.logoutCommand(),
		c.whoamiCommand(),
		c.getCommand(),
		c.chatCommand(),
		c.devserverCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of arclink",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("%s\n", BuildVersion)
			},
		},
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	if c.metricsAddr != "" {
		cfg.MetricsAddr = c.metricsAddr
	}
	c.cfg = cfg
	c.log = NewLogger(cfg.LogLevel, cfg.LogFormat, c.errOut)
	return serveMetrics(cmd.Context(), cfg.MetricsAddr, c.log)
}

// withApp builds the client for one command and releases it afterwards.
func (c *cli) withApp(ctx context.Context, fn func(*App) error) error {
	a, err := New(ctx, c.cfg, c.log, c.out, c.errOut)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return fn(a)
}

func (c *cli) loginCommand() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				username = strings.TrimSpace(os.Getenv("ARCLINK_USERNAME"))
			}
			if password == "" {
				password = os.Getenv("ARCLINK_PASSWORD")
			}
			if username == "" || password == "" {
				u, p, err := c.prompt(username, password)
				if err != nil {
					return err
				}
				username, password = u, p
			}
			return c.withApp(cmd.Context(), func(a *App) error {
				u, err := a.Login(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				cmd.Printf("logged in as %s\n", u.Username)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (default $ARCLINK_USERNAME)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $ARCLINK_PASSWORD, else read from stdin)")
	return cmd
}

// prompt reads missing credentials from stdin, one per line.
func (c *cli) prompt(username, password string) (string, string, error) {
	r := bufio.NewReader(c.in)
	read := func(label string) (string, error) {
		_, _ = fmt.Fprintf(c.errOut, "%s: ", label)
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	var err error
	if username == "" {
		if username, err = read("username"); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = read("password"); err != nil {
			return "", "", err
		}
	}
	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}
	return username, password, nil
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *App) error {
				err := a.Logout(cmd.Context())
				if errors.Is(err, ErrNotLoggedIn) {
					cmd.Println("not logged in")
					return nil
				}
				return err
			})
		},
	}
}

func (c *cli) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Restore the session and print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *App) error {
				u, err := a.WhoAmI(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(u)
			})
		},
	}
}

func (c *cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "GET an API path with the stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *App) error {
				status, body, err := a.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = cmd.OutOrStdout().Write(body)
				if len(body) > 0 && body[len(body)-1] != '\n' {
					cmd.Println()
				}
				if status >= 400 {
					return fmt.Errorf("GET %s: status %d", args[0], status)
				}
				return nil
			})
		},
	}
}

func (c *cli) chatCommand() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "chat [CHAT_ID]",
		Short: "Join a chat and exchange messages over the realtime channel",
		Long:  "Reads one message per line from stdin. /quit leaves the chat.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *App) error {
				var chatID string
				switch {
				case len(args) == 1:
					chatID = args[0]
				case title != "":
					id, err := a.CreateChat(cmd.Context(), title)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(c.errOut, "created chat %s\n", id)
					chatID = id
				default:
					return errors.New("chat id or --new TITLE is required")
				}
				return a.Chat(cmd.Context(), chatID, c.in)
			})
		},
	}
	cmd.Flags().StringVar(&title, "new", "", "create a chat with this title and join it")
	return cmd
}

func (c *cli) devserverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devserver",
		Short: "Run the local development backend (auth, chats, chat channel)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dcfg, err := devserver.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			srv, err := devserver.New(c.log, dcfg)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
