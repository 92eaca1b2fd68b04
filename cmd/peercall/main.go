// peercall: CLI client.
//
// Connects to a relay under a chosen name, lists who else is online and
// negotiates a direct WebRTC session with any of them. Chat lines go through
// the relay, or directly over the data channel in data mode.
//
// Every option can come from a flag, a PEERCALL_* environment variable or a
// config file (--config).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/metrics"
	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

const statsInterval = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "peercall",
		Short:         "Peer-to-peer calls negotiated through a relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config file: %w", err)
				}
			}
			if strings.TrimSpace(v.GetString("name")) == "" {
				v.Set("name", askName())
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if cfg.Debug {
				util.EnableDebug()
			}

			// Root context, cancelled on Ctrl+C.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg)
		},
	}

	d := config.Defaults()
	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	f.String("name", "", "Name to register with the relay (prompted when empty)")
	f.String("relay-url", d.RelayURL, "Relay WebSocket URL")
	f.StringSlice("ice-servers", d.ICEServers, "STUN/TURN server URLs")
	f.Bool("audio", d.Audio, "Send audio in media mode")
	f.Bool("video", d.Video, "Send video in media mode")
	f.Float64("aspect-ratio", d.AspectRatio, "Requested video aspect ratio")
	f.String("mode", string(d.Mode), "Session mode: media or data")
	f.String("dialect", d.Dialect, "Outbound offer/answer spelling: plain, rtc or video")
	f.Duration("negotiation-debounce", d.NegotiationDebounce, "Coalesce track changes into one renegotiation")
	f.Int("workers", d.Workers, "Workers for blocking steps such as media acquisition")
	f.String("metrics-addr", d.MetricsAddr, "Serve Prometheus metrics on this address")
	f.Bool("debug", d.Debug, "Enable debug logging")

	config.SetDefaults(v)
	config.BindEnv(v)
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	return cmd
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg config.Config) error {
	pterm.Info.Println(fmt.Sprintf("peercall v%s", version))
	pterm.Println()

	client, err := app.New(app.Options{
		Config: cfg,
		Hooks: app.Hooks{
			OnChat: func(from, text string, direct bool) {
				via := "relay"
				if direct {
					via = "p2p"
				}
				pterm.Printfln("%s %s: %s", pterm.Gray("["+via+"]"), pterm.Cyan(from), text)
			},
			OnSessionClosed: func(peer string) {
				util.LogInfo("call with %s ended", peer)
			},
			OnRemoteTrack: func(peer string, t negotiation.RemoteTrack) {
				util.LogSuccess("receiving %s from %s", t.Kind, peer)
			},
		},
	})
	if err != nil {
		return err
	}

	if err := client.Connect(ctx); err != nil {
		return err
	}

	util.StartStatsReporter(ctx, statsInterval)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				util.LogError("%v", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()
	go prompt(ctx, client)

	err = <-runErr
	util.LogInfo("disconnected from relay")
	return err
}

// prompt reads commands until /quit. Anything not starting with a slash is
// a chat line.
func prompt(ctx context.Context, client *app.Client) {
	pterm.Info.Println("Commands: /call [name], /hangup [name], /users, /quit. Anything else is chat.")
	pterm.Println()

	for ctx.Err() == nil {
		line, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(client.Name()).
			Show()
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "/quit":
			_ = client.Close()
			return

		case "/users":
			users := client.Roster()
			if len(users) == 0 {
				util.LogInfo("nobody else is online")
				continue
			}
			util.LogInfo("online: %s", strings.Join(users, ", "))

		case "/call":
			if arg == "" {
				arg = pickPeer(client.Roster(), "Select who to call")
			}
			if arg == "" {
				continue
			}
			if err := client.Call(ctx, arg); err != nil {
				util.LogWarning("cannot call %s: %v", arg, err)
			}

		case "/hangup":
			if arg == "" {
				arg = pickPeer(client.Sessions(), "Select the call to end")
			}
			if arg == "" {
				continue
			}
			if err := client.HangUp(ctx, arg); err != nil {
				util.LogWarning("cannot hang up on %s: %v", arg, err)
			}

		default:
			if err := client.Say(ctx, line); err != nil {
				util.LogWarning("message not sent: %v", err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// pickPeer shows an interactive list; it returns "" when there is nobody.
func pickPeer(options []string, title string) string {
	if len(options) == 0 {
		util.LogWarning("nobody to choose from")
		return ""
	}
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText(title).
		Show()
	pterm.Println()
	return choice
}

// askName prompts until a non-empty name is entered.
func askName() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Your name").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}

		pterm.Println()
		util.LogWarning("name must not be empty")
	}
}
